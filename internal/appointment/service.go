package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/config"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
	"github.com/hackgods/hospital-booking/internal/slots"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventNotificationSent         = "NOTIFICATION_SENT"
	EventNotificationFailed       = "NOTIFICATION_FAILED"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	retryBatchSize   = 100
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	catalog  slots.Catalog
	cfg      config.Config
	log      zerolog.Logger

	validate     *validator.Validate
	newReference ReferenceGenerator
	now          func() time.Time
}

type Option func(*Service)

func WithReferenceGenerator(gen ReferenceGenerator) Option {
	return func(s *Service) { s.newReference = gen }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, catalog slots.Catalog, cfg config.Config, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		locker:       locker,
		notifier:     notifier,
		catalog:      catalog,
		cfg:          cfg,
		log:          log.With().Str("component", "appointment").Logger(),
		validate:     newValidator(catalog),
		newReference: RandomReferences(cfg.ReferencePrefix),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Catalog() slots.Catalog {
	return s.catalog
}

// AvailableSlots reports which catalog slots are still free on a day. It
// never filters slots that are already in the past. If the booking lookup
// fails, every slot is reported free.
func (s *Service) AvailableSlots(ctx context.Context, q AvailabilityQuery) (Availability, error) {
	q.Doctor = strings.TrimSpace(q.Doctor)
	if q.Date.IsZero() {
		return Availability{}, fmt.Errorf("%w: date is required", ErrInvalidQuery)
	}
	if q.Scope == "" {
		q.Scope = ScopeCatalog
		if q.Doctor != "" {
			q.Scope = ScopeDoctor
		}
	}
	if !q.Scope.Valid() {
		return Availability{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidQuery, q.Scope)
	}
	if q.Scope == ScopeDoctor && q.Doctor == "" {
		return Availability{}, fmt.Errorf("%w: doctor is required for scope %q", ErrInvalidQuery, q.Scope)
	}

	day := StartOfDay(q.Date)
	result := Availability{
		Date:      day,
		Doctor:    q.Doctor,
		Scope:     q.Scope,
		Available: s.catalog.Labels(),
		Booked:    []string{},
		Total:     s.catalog.Len(),
	}
	if q.Scope == ScopeCatalog {
		return result, nil
	}

	doctor := q.Doctor
	if q.Scope == ScopeAnyDoctor {
		doctor = ""
	}

	taken, err := s.repo.ListBookedSlots(ctx, day, doctor)
	if err != nil {
		s.log.Error().Err(err).
			Str("date", day.Format(DateLayout)).
			Str("doctor", doctor).
			Msg("availability lookup failed, reporting all slots open")
		return result, nil
	}

	booked := make(map[string]bool, len(taken))
	for _, label := range taken {
		booked[label] = true
	}

	result.Available = result.Available[:0]
	for _, label := range s.catalog.Labels() {
		if booked[label] {
			result.Booked = append(result.Booked, label)
		} else {
			result.Available = append(result.Available, label)
		}
	}
	return result, nil
}

// CreateAppointment books a slot for a patient. The slot lock serialises
// writers for the same (date, time, doctor); the unique index on active
// bookings rejects anything that gets past it.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	req = normalizeRequest(req)
	if err := validateRequest(s.validate, req); err != nil {
		return nil, err
	}

	date, _ := ParseDate(req.Date)
	amount := s.cfg.ConsultationFee
	if req.Amount != nil {
		amount = *req.Amount
	}

	var created *Appointment

	err := s.locker.WithSlotLock(ctx, SlotKey(date, req.Time, req.Doctor), func(lockCtx context.Context) error {
		// Inside the critical section re-check for an active booking of this slot
		existing, err := s.repo.FindActiveBySlot(lockCtx, date, req.Time, req.Doctor)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return persistenceErr("check slot", err)
		}
		if existing != nil {
			return ErrSlotAlreadyBooked
		}

		for attempt := 1; attempt <= maxReferenceAttempts; attempt++ {
			ref, err := s.newReference()
			if err != nil {
				return persistenceErr("generate reference", err)
			}

			appt, err := s.repo.InsertAppointment(lockCtx, Appointment{
				ID:           uuid.New(),
				ReferenceID:  ref,
				PatientName:  req.Name,
				PatientEmail: req.Email,
				PatientPhone: req.Phone,
				DoctorName:   req.Doctor,
				Date:         date,
				TimeSlot:     req.Time,
				Amount:       amount,
				Status:       StatusPending,
			})
			switch {
			case errors.Is(err, ErrReferenceExists):
				s.log.Warn().Str("reference_id", ref).Int("attempt", attempt).Msg("reference collision, regenerating")
				continue
			case errors.Is(err, ErrActiveSlotExists):
				return ErrSlotAlreadyBooked
			case err != nil:
				return persistenceErr("create appointment", err)
			}

			created = appt
			return nil
		}
		return persistenceErr("create appointment", fmt.Errorf("no unique reference after %d attempts", maxReferenceAttempts))
	})

	if err != nil {
		var perr *PersistenceError
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, ErrSlotBeingBooked
		case errors.Is(err, ErrSlotConflict), errors.As(err, &perr):
			return nil, err
		default:
			return nil, persistenceErr("slot lock", err)
		}
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("reference_id", created.ReferenceID).
		Str("doctor", created.DoctorName).
		Str("date", created.Date.Format(DateLayout)).
		Str("time", created.TimeSlot).
		Msg("appointment created")

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"reference_id": created.ReferenceID,
		"doctor":       created.DoctorName,
		"date":         created.Date.Format(DateLayout),
		"time":         created.TimeSlot,
	})

	s.notifier.Dispatch(*created, created.PendingRecipients(), func(nctx context.Context, to Recipient, err error) {
		s.recordNotification(nctx, created.ID, created.ReferenceID, to, err)
	})

	return created, nil
}

// UpdateStatus moves an appointment along its lifecycle. Setting the status
// it already has is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, persistenceErr("load appointment", err)
	}

	if appt.Status == to {
		return appt, nil
	}
	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost the compare-and-set: someone changed or deleted it meanwhile.
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
		}
		return nil, persistenceErr("update status", err)
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")

	s.logEvent(ctx, id, EventAppointmentStatusChanged, map[string]any{
		"from": appt.Status,
		"to":   to,
	})

	return updated, nil
}

// GetAppointment looks up a booking by internal UUID or by reference ID.
func (s *Service) GetAppointment(ctx context.Context, idOrReference string) (*Appointment, error) {
	key := strings.TrimSpace(idOrReference)
	if key == "" {
		return nil, ErrAppointmentNotFound
	}

	var (
		appt *Appointment
		err  error
	)
	if id, perr := uuid.Parse(key); perr == nil {
		appt, err = s.repo.GetAppointmentByID(ctx, id)
	} else {
		appt, err = s.repo.GetAppointmentByReference(ctx, NormalizeReference(key))
	}
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, persistenceErr("get appointment", err)
	}
	return appt, nil
}

func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	f.Doctor = strings.TrimSpace(f.Doctor)

	list, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, persistenceErr("list appointments", err)
	}
	return list, nil
}

// DeleteAppointment removes the record permanently.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return persistenceErr("delete appointment", err)
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment deleted")
	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{})
	return nil
}

// RetryNotifications re-sends missing emails for recent active bookings.
// Bookings younger than the retry grace are skipped so the inline dispatch
// has a chance to finish. It returns how many emails were delivered.
func (s *Service) RetryNotifications(ctx context.Context) (int, error) {
	now := s.now()
	from := now.Add(-s.cfg.Notify.RetryWindow)
	to := now.Add(-s.cfg.Notify.RetryGrace)

	candidates, err := s.repo.FindUnnotified(ctx, from, to, retryBatchSize)
	if err != nil {
		return 0, persistenceErr("find unnotified appointments", err)
	}

	sent := 0
	for _, appt := range candidates {
		for _, recipient := range appt.PendingRecipients() {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout())
			err := s.notifier.Notify(sendCtx, appt, recipient)
			cancel()

			s.recordNotification(ctx, appt.ID, appt.ReferenceID, recipient, err)
			if err == nil {
				sent++
			}
		}
	}
	return sent, nil
}

func (s *Service) sendTimeout() time.Duration {
	if s.cfg.Notify.SendTimeout > 0 {
		return s.cfg.Notify.SendTimeout
	}
	return 15 * time.Second
}

// recordNotification stores the outcome of one email. Failures only leave
// the flag unset.
func (s *Service) recordNotification(ctx context.Context, id uuid.UUID, ref string, to Recipient, sendErr error) {
	if sendErr != nil {
		s.log.Warn().Err(sendErr).
			Str("appointment_id", id.String()).
			Str("reference_id", ref).
			Str("recipient", string(to)).
			Msg("notification failed")
		s.logEvent(ctx, id, EventNotificationFailed, map[string]any{
			"recipient": to,
			"error":     sendErr.Error(),
		})
		return
	}

	if err := s.repo.MarkEmailSent(ctx, id, to); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			s.log.Debug().Str("appointment_id", id.String()).Msg("appointment gone before email flag update")
			return
		}
		s.log.Error().Err(err).
			Str("appointment_id", id.String()).
			Str("recipient", string(to)).
			Msg("failed to record sent email")
		return
	}

	s.logEvent(ctx, id, EventNotificationSent, map[string]any{"recipient": to})
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
