package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/slots"
)

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID `json:"id"`
	ReferenceID        string    `json:"referenceId"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	Doctor             string    `json:"doctor"`
	Date               string    `json:"date"`
	Time               string    `json:"time"`
	Amount             string    `json:"amount"`
	Status             string    `json:"status"`
	EmailSentToDoctor  bool      `json:"emailSentToDoctor"`
	EmailSentToPatient bool      `json:"emailSentToPatient"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ReferenceID:        a.ReferenceID,
		Name:               a.PatientName,
		Email:              a.PatientEmail,
		Phone:              a.PatientPhone,
		Doctor:             a.DoctorName,
		Date:               a.Date.Format(appointment.DateLayout),
		Time:               a.TimeSlot,
		Amount:             a.Amount.StringFixed(2),
		Status:             string(a.Status),
		EmailSentToDoctor:  a.EmailSentToDoctor,
		EmailSentToPatient: a.EmailSentToPatient,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type ListResponse struct {
	Success bool                  `json:"success"`
	Data    []AppointmentResponse `json:"data"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

type AvailabilityResponse struct {
	Success        bool     `json:"success"`
	Date           string   `json:"date"`
	Doctor         string   `json:"doctor,omitempty"`
	Scope          string   `json:"scope"`
	AvailableSlots []string `json:"availableSlots"`
	BookedSlots    []string `json:"bookedSlots"`
	TotalSlots     int      `json:"totalSlots"`
}

type SlotsResponse struct {
	Success bool         `json:"success"`
	Slots   []slots.Slot `json:"slots"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeValidationError(w http.ResponseWriter, verr *appointment.ValidationError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_failed",
		Details: "one or more fields are invalid",
		Fields:  verr.Fields,
	})
}
