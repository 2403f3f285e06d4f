package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Slot checks. doctor == "" means any doctor.
	FindActiveBySlot(ctx context.Context, date time.Time, timeSlot, doctor string) (*Appointment, error)
	ListBookedSlots(ctx context.Context, date time.Time, doctor string) ([]string, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByReference(ctx context.Context, ref string) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// InsertAppointment returns ErrActiveSlotExists or ErrReferenceExists when
	// the corresponding unique index rejects the row.
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// UpdateAppointmentStatus only applies when the stored status equals from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	MarkEmailSent(ctx context.Context, id uuid.UUID, to Recipient) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	// Notification retries: active bookings created in [from, to) with at
	// least one unsent email.
	FindUnnotified(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
