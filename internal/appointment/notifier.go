package appointment

import "context"

// Notifier delivers booking emails.
type Notifier interface {
	// Dispatch must return immediately. done is called once per recipient
	// from the sending goroutine, on a context detached from any request.
	Dispatch(appt Appointment, recipients []Recipient, done func(ctx context.Context, to Recipient, err error))
	// Notify sends a single email and waits for the outcome.
	Notify(ctx context.Context, appt Appointment, to Recipient) error
}
