package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

// transitions lists the statuses reachable from each status. Statuses with
// no entry are terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Active reports whether a booking in this status still holds its slot.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled
}

func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is allowed. Re-setting the same
// status is not a transition and returns false.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Recipient identifies one side of the booking notification.
type Recipient string

const (
	RecipientDoctor  Recipient = "doctor"
	RecipientPatient Recipient = "patient"
)

type Appointment struct {
	ID                 uuid.UUID
	ReferenceID        string
	PatientName        string
	PatientEmail       string
	PatientPhone       string
	DoctorName         string
	Date               time.Time // local midnight
	TimeSlot           string
	Amount             decimal.Decimal
	Status             AppointmentStatus
	EmailSentToDoctor  bool
	EmailSentToPatient bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PendingRecipients returns who has not been notified yet.
func (a Appointment) PendingRecipients() []Recipient {
	var out []Recipient
	if !a.EmailSentToDoctor {
		out = append(out, RecipientDoctor)
	}
	if !a.EmailSentToPatient {
		out = append(out, RecipientPatient)
	}
	return out
}

// SlotKey identifies the (date, time, doctor) triple guarded by the slot lock.
func SlotKey(date time.Time, timeSlot, doctor string) string {
	return date.Format(DateLayout) + "|" + timeSlot + "|" + doctor
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// BookingRequest is the patient-supplied booking form.
type BookingRequest struct {
	Name   string           `json:"name" validate:"required,max=200"`
	Email  string           `json:"email" validate:"required,email,max=254"`
	Phone  string           `json:"phone" validate:"required,phone"`
	Doctor string           `json:"doctor" validate:"required,max=200"`
	Date   string           `json:"date" validate:"required,calendar_date"`
	Time   string           `json:"time" validate:"required,catalog_slot"`
	Amount *decimal.Decimal `json:"amount,omitempty" validate:"-"`
}

// AvailabilityScope selects how bookings are counted when resolving
// availability.
type AvailabilityScope string

const (
	// ScopeDoctor counts only the requested doctor's bookings.
	ScopeDoctor AvailabilityScope = "doctor"
	// ScopeCatalog ignores bookings and reports the whole catalog open.
	ScopeCatalog AvailabilityScope = "catalog"
	// ScopeAnyDoctor marks a slot booked when any doctor holds it.
	ScopeAnyDoctor AvailabilityScope = "any"
)

func (s AvailabilityScope) Valid() bool {
	switch s {
	case ScopeDoctor, ScopeCatalog, ScopeAnyDoctor:
		return true
	}
	return false
}

type AvailabilityQuery struct {
	Date   time.Time
	Doctor string
	Scope  AvailabilityScope // empty picks doctor when Doctor is set, catalog otherwise
}

type Availability struct {
	Date      time.Time
	Doctor    string
	Scope     AvailabilityScope
	Available []string
	Booked    []string
	Total     int
}

type ListFilter struct {
	Date   *time.Time
	Doctor string
	Status AppointmentStatus
	Limit  int
	Offset int
}
