package notification

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/hackgods/hospital-booking/internal/appointment"
)

var doctorNotice = template.Must(template.New("doctor").Parse(`New appointment booked

Reference: {{.ReferenceID}}
Doctor:    {{.DoctorName}}
Date:      {{.Date}}
Time:      {{.TimeSlot}}
Amount:    {{.Amount}}

Patient:   {{.PatientName}}
Email:     {{.PatientEmail}}
Phone:     {{.PatientPhone}}
`))

var patientConfirmation = template.Must(template.New("patient").Parse(`Dear {{.PatientName}},

Your appointment has been booked.

Reference: {{.ReferenceID}}
Doctor:    {{.DoctorName}}
Date:      {{.Date}}
Time:      {{.TimeSlot}}
Amount:    {{.Amount}}

Please quote your reference when contacting the hospital.
`))

type emailView struct {
	ReferenceID  string
	DoctorName   string
	Date         string
	TimeSlot     string
	Amount       string
	PatientName  string
	PatientEmail string
	PatientPhone string
}

type message struct {
	Subject string
	Body    string
}

func render(appt appointment.Appointment, to appointment.Recipient) (message, error) {
	view := emailView{
		ReferenceID:  appt.ReferenceID,
		DoctorName:   appt.DoctorName,
		Date:         appt.Date.Format(appointment.DateLayout),
		TimeSlot:     appt.TimeSlot,
		Amount:       appt.Amount.StringFixed(2),
		PatientName:  appt.PatientName,
		PatientEmail: appt.PatientEmail,
		PatientPhone: appt.PatientPhone,
	}

	var (
		tmpl    *template.Template
		subject string
	)
	switch to {
	case appointment.RecipientDoctor:
		tmpl = doctorNotice
		subject = fmt.Sprintf("New appointment %s with %s", appt.ReferenceID, appt.DoctorName)
	case appointment.RecipientPatient:
		tmpl = patientConfirmation
		subject = fmt.Sprintf("Appointment confirmation %s", appt.ReferenceID)
	default:
		return message{}, fmt.Errorf("unknown recipient %q", to)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return message{}, fmt.Errorf("render %s email: %w", to, err)
	}
	return message{Subject: subject, Body: buf.String()}, nil
}
