// Package notification sends booking emails to the hospital desk and the
// patient.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/config"
)

// Dispatcher implements appointment.Notifier with a bounded number of
// concurrent sends.
type Dispatcher struct {
	sender      Sender
	doctorEmail string
	timeout     time.Duration
	log         zerolog.Logger

	sem    chan struct{}
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ appointment.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sender Sender, cfg config.NotifyConfig, log zerolog.Logger) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		sender:      sender,
		doctorEmail: cfg.DoctorEmail,
		timeout:     timeout,
		log:         log.With().Str("component", "notification").Logger(),
		sem:         make(chan struct{}, concurrency),
	}
}

// Notify renders and sends one email synchronously.
func (d *Dispatcher) Notify(ctx context.Context, appt appointment.Appointment, to appointment.Recipient) error {
	msg, err := render(appt, to)
	if err != nil {
		return err
	}

	addr := appt.PatientEmail
	if to == appointment.RecipientDoctor {
		addr = d.doctorEmail
	}
	if addr == "" {
		return errors.New("no address for " + string(to))
	}

	return d.sender.SendEmail(ctx, addr, msg.Subject, msg.Body)
}

// Dispatch queues one send per recipient and returns immediately. When all
// slots are busy the job waits in its own goroutine.
func (d *Dispatcher) Dispatch(appt appointment.Appointment, recipients []appointment.Recipient, done func(ctx context.Context, to appointment.Recipient, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.log.Warn().Str("reference_id", appt.ReferenceID).Msg("dispatcher closed, leaving notification to the retry worker")
		return
	}

	for _, to := range recipients {
		d.wg.Add(1)
		go d.run(appt, to, done)
	}
}

func (d *Dispatcher) run(appt appointment.Appointment, to appointment.Recipient, done func(context.Context, appointment.Recipient, error)) {
	defer d.wg.Done()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	sendCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
	err := d.Notify(sendCtx, appt, to)
	cancel()

	if err != nil {
		d.log.Error().Err(err).
			Str("appointment_id", appt.ID.String()).
			Str("reference_id", appt.ReferenceID).
			Str("recipient", string(to)).
			Msg("send notification failed")
	} else {
		d.log.Debug().
			Str("reference_id", appt.ReferenceID).
			Str("recipient", string(to)).
			Msg("notification sent")
	}

	if done != nil {
		doneCtx, cancelDone := context.WithTimeout(context.Background(), d.timeout)
		done(doneCtx, to, err)
		cancelDone()
	}
}

// Close stops accepting work and waits for in-flight sends until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
