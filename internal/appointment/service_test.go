package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/hospital-booking/internal/config"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
	"github.com/hackgods/hospital-booking/internal/slots"
)

// passLocker runs fn without any locking.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithSlotLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type brokenLocker struct{}

func (brokenLocker) WithSlotLock(context.Context, string, func(context.Context) error) error {
	return errors.New("dial tcp: connection refused")
}

// fakeNotifier delivers synchronously and fails for recipients in fail.
type fakeNotifier struct {
	mu   sync.Mutex
	fail map[Recipient]bool
	sent []Recipient
}

func (f *fakeNotifier) Notify(_ context.Context, _ Appointment, to Recipient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return fmt.Errorf("smtp: %s mailbox unavailable", to)
	}
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeNotifier) Dispatch(appt Appointment, recipients []Recipient, done func(context.Context, Recipient, error)) {
	for _, r := range recipients {
		done(context.Background(), r, f.Notify(context.Background(), appt, r))
	}
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type failingSlotsRepo struct {
	*MemoryRepository
}

func (failingSlotsRepo) ListBookedSlots(context.Context, time.Time, string) ([]string, error) {
	return nil, errors.New("connection reset")
}

func testConfig() config.Config {
	return config.Config{
		ReferencePrefix: "APT",
		ConsultationFee: decimal.RequireFromString("500.00"),
		Notify: config.NotifyConfig{
			SendTimeout: time.Second,
			RetryGrace:  2 * time.Minute,
			RetryWindow: 24 * time.Hour,
		},
	}
}

func newTestService(t *testing.T, repo Repository, locker redisclient.Locker, n Notifier, opts ...Option) *Service {
	t.Helper()
	return NewService(repo, locker, n, slots.Default(), testConfig(), zerolog.Nop(), opts...)
}

func validRequest() BookingRequest {
	return BookingRequest{
		Name:   "Asha Verma",
		Email:  "asha@example.com",
		Phone:  "+91 98765 43210",
		Doctor: "Dr. Rao",
		Date:   "2030-01-15",
		Time:   "10:00 AM",
	}
}

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDate(raw)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func eventCount(repo *MemoryRepository, eventType string) int {
	n := 0
	for _, ev := range repo.Events() {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func TestCreateAppointment_Success(t *testing.T) {
	repo := NewMemoryRepository()
	n := &fakeNotifier{}
	svc := newTestService(t, repo, passLocker{}, n)

	appt, err := svc.CreateAppointment(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if appt.Status != StatusPending {
		t.Errorf("expected pending, got %s", appt.Status)
	}
	if !appt.Amount.Equal(decimal.RequireFromString("500")) {
		t.Errorf("expected default fee, got %s", appt.Amount)
	}
	if appt.ID == uuid.Nil || appt.ReferenceID == "" {
		t.Error("expected id and reference to be assigned")
	}
	if eventCount(repo, EventAppointmentCreated) != 1 {
		t.Error("expected APPOINTMENT_CREATED event")
	}

	stored, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.EmailSentToDoctor || !stored.EmailSentToPatient {
		t.Errorf("expected both email flags set, got doctor=%v patient=%v", stored.EmailSentToDoctor, stored.EmailSentToPatient)
	}
	if eventCount(repo, EventNotificationSent) != 2 {
		t.Errorf("expected 2 NOTIFICATION_SENT events, got %d", eventCount(repo, EventNotificationSent))
	}
}

func TestCreateAppointment_CustomAmount(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{})
	req := validRequest()
	amt := decimal.RequireFromString("1250.75")
	req.Amount = &amt

	appt, err := svc.CreateAppointment(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if appt.Amount.StringFixed(2) != "1250.75" {
		t.Errorf("expected 1250.75, got %s", appt.Amount)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{})

	neg := decimal.RequireFromString("-1")
	tests := []struct {
		name  string
		mod   func(*BookingRequest)
		field string
	}{
		{"missing name", func(r *BookingRequest) { r.Name = "  " }, "name"},
		{"bad email", func(r *BookingRequest) { r.Email = "not-an-email" }, "email"},
		{"short phone", func(r *BookingRequest) { r.Phone = "12345" }, "phone"},
		{"long phone", func(r *BookingRequest) { r.Phone = "1234567890123456" }, "phone"},
		{"missing doctor", func(r *BookingRequest) { r.Doctor = "" }, "doctor"},
		{"bad date", func(r *BookingRequest) { r.Date = "15/01/2030" }, "date"},
		{"unknown slot", func(r *BookingRequest) { r.Time = "12:00 PM" }, "time"},
		{"negative amount", func(r *BookingRequest) { r.Amount = &neg }, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mod(&req)
			_, err := svc.CreateAppointment(context.Background(), req)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, verr.Fields)
			}
		})
	}
}

func TestCreateAppointment_PastDateAllowed(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{})
	req := validRequest()
	req.Date = "2001-01-01"
	if _, err := svc.CreateAppointment(context.Background(), req); err != nil {
		t.Fatalf("past dates are not rejected by the booking path: %v", err)
	}
}

func TestCreateAppointment_ConflictThenCancelThenRebook(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := newTestService(t, repo, passLocker{}, &fakeNotifier{})

	first, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.CreateAppointment(ctx, validRequest())
	if !errors.Is(err, ErrSlotAlreadyBooked) || !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected slot conflict, got %v", err)
	}

	other := validRequest()
	other.Doctor = "Dr. Mehta"
	if _, err := svc.CreateAppointment(ctx, other); err != nil {
		t.Fatalf("another doctor may take the same slot: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, first.ID, StatusCancelled); err != nil {
		t.Fatal(err)
	}

	again, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatalf("expected rebook after cancel, got %v", err)
	}
	if again.ID == first.ID {
		t.Error("expected a new appointment")
	}
}

func TestCreateAppointment_LockBusy(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(t, repo, busyLocker{}, &fakeNotifier{})

	_, err := svc.CreateAppointment(context.Background(), validRequest())
	if !errors.Is(err, ErrSlotBeingBooked) || !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotBeingBooked, got %v", err)
	}
	if len(repo.Events()) != 0 {
		t.Error("nothing should be written when the lock is busy")
	}
}

func TestCreateAppointment_LockBackendDown(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), brokenLocker{}, &fakeNotifier{})

	_, err := svc.CreateAppointment(context.Background(), validRequest())
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if errors.Is(err, ErrSlotConflict) {
		t.Error("backend failure must not look like a slot conflict")
	}
}

func TestCreateAppointment_ConcurrentSameSlot(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(t, repo, passLocker{}, &fakeNotifier{})

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateAppointment(context.Background(), validRequest())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != workers-1 {
		t.Errorf("expected 1 created and %d conflicts, got %d and %d", workers-1, created, conflicts)
	}
}

func TestCreateAppointment_ReferenceCollisionRetries(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	refs := []string{"APT-00000001", "APT-00000001", "APT-00000002"}
	i := 0
	gen := func() (string, error) {
		r := refs[i%len(refs)]
		i++
		return r, nil
	}
	svc := newTestService(t, repo, passLocker{}, &fakeNotifier{}, WithReferenceGenerator(gen))

	first, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	req := validRequest()
	req.Time = "11:00 AM"
	second, err := svc.CreateAppointment(ctx, req)
	if err != nil {
		t.Fatalf("expected retry to find a free reference, got %v", err)
	}
	if first.ReferenceID == second.ReferenceID {
		t.Errorf("references must be unique, both %s", first.ReferenceID)
	}
}

func TestCreateAppointment_ReferenceExhausted(t *testing.T) {
	ctx := context.Background()
	gen := func() (string, error) { return "APT-00000009", nil }
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{}, WithReferenceGenerator(gen))

	if _, err := svc.CreateAppointment(ctx, validRequest()); err != nil {
		t.Fatal(err)
	}
	req := validRequest()
	req.Time = "02:00 PM"
	_, err := svc.CreateAppointment(ctx, req)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError after exhausting references, got %v", err)
	}
}

func TestCreateAppointment_NotificationFailureKeepsBooking(t *testing.T) {
	repo := NewMemoryRepository()
	n := &fakeNotifier{fail: map[Recipient]bool{RecipientPatient: true}}
	svc := newTestService(t, repo, passLocker{}, n)

	appt, err := svc.CreateAppointment(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("email failure must not fail the booking: %v", err)
	}

	stored, _ := repo.GetAppointmentByID(context.Background(), appt.ID)
	if !stored.EmailSentToDoctor {
		t.Error("doctor email succeeded and should be flagged")
	}
	if stored.EmailSentToPatient {
		t.Error("patient email failed and must stay unflagged")
	}
	if eventCount(repo, EventNotificationFailed) != 1 {
		t.Error("expected NOTIFICATION_FAILED event")
	}
}

func TestAvailableSlots_Scopes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := newTestService(t, repo, passLocker{}, &fakeNotifier{})

	if _, err := svc.CreateAppointment(ctx, validRequest()); err != nil {
		t.Fatal(err)
	}
	day := mustDate(t, "2030-01-15")

	byDoctor, err := svc.AvailableSlots(ctx, AvailabilityQuery{Date: day, Doctor: "Dr. Rao"})
	if err != nil {
		t.Fatal(err)
	}
	if byDoctor.Scope != ScopeDoctor {
		t.Errorf("expected doctor scope by default, got %s", byDoctor.Scope)
	}
	want := []string{"09:00 AM", "11:00 AM", "02:00 PM", "04:00 PM"}
	if fmt.Sprint(byDoctor.Available) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, byDoctor.Available)
	}
	if fmt.Sprint(byDoctor.Booked) != "[10:00 AM]" || byDoctor.Total != 5 {
		t.Errorf("unexpected booked=%v total=%d", byDoctor.Booked, byDoctor.Total)
	}

	otherDoctor, _ := svc.AvailableSlots(ctx, AvailabilityQuery{Date: day, Doctor: "Dr. Mehta"})
	if len(otherDoctor.Available) != 5 {
		t.Errorf("expected every slot open for another doctor, got %v", otherDoctor.Available)
	}

	catalog, _ := svc.AvailableSlots(ctx, AvailabilityQuery{Date: day})
	if catalog.Scope != ScopeCatalog || len(catalog.Available) != 5 {
		t.Errorf("expected full catalog, got %+v", catalog)
	}

	anyDoctor, _ := svc.AvailableSlots(ctx, AvailabilityQuery{Date: day, Scope: ScopeAnyDoctor})
	if len(anyDoctor.Available) != 4 || fmt.Sprint(anyDoctor.Booked) != "[10:00 AM]" {
		t.Errorf("expected any-doctor scope to hide 10:00 AM, got %+v", anyDoctor)
	}
}

func TestAvailableSlots_CancelledFreesSlot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{})

	appt, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateStatus(ctx, appt.ID, StatusCancelled); err != nil {
		t.Fatal(err)
	}

	got, _ := svc.AvailableSlots(ctx, AvailabilityQuery{Date: appt.Date, Doctor: "Dr. Rao"})
	if len(got.Available) != 5 {
		t.Errorf("expected cancelled slot to be free again, got %v", got.Available)
	}
}

func TestAvailableSlots_InvalidQuery(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{})
	day := mustDate(t, "2030-01-15")

	for _, q := range []AvailabilityQuery{
		{},
		{Date: day, Scope: ScopeDoctor},
		{Date: day, Scope: "everyone"},
	} {
		if _, err := svc.AvailableSlots(context.Background(), q); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("query %+v: expected ErrInvalidQuery, got %v", q, err)
		}
	}
}

func TestAvailableSlots_FallsBackOnRepositoryError(t *testing.T) {
	repo := failingSlotsRepo{NewMemoryRepository()}
	svc := newTestService(t, repo, passLocker{}, &fakeNotifier{})

	got, err := svc.AvailableSlots(context.Background(), AvailabilityQuery{
		Date:   mustDate(t, "2030-01-15"),
		Doctor: "Dr. Rao",
	})
	if err != nil {
		t.Fatalf("lookup failure must not surface: %v", err)
	}
	if len(got.Available) != 5 || len(got.Booked) != 0 {
		t.Errorf("expected full catalog on failure, got %+v", got)
	}
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := newTestService(t, repo, passLocker{}, &fakeNotifier{})

	appt, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.UpdateStatus(ctx, appt.ID, "done"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, appt.ID, StatusCompleted); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("pending -> completed should be rejected, got %v", err)
	}

	same, err := svc.UpdateStatus(ctx, appt.ID, StatusPending)
	if err != nil || same.Status != StatusPending {
		t.Errorf("re-setting the same status should be a no-op, got %v %v", same, err)
	}
	if eventCount(repo, EventAppointmentStatusChanged) != 0 {
		t.Error("no-op must not emit a status change event")
	}

	confirmed, err := svc.UpdateStatus(ctx, appt.ID, StatusConfirmed)
	if err != nil || confirmed.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %v %v", confirmed, err)
	}
	if _, err := svc.UpdateStatus(ctx, appt.ID, StatusNoShow); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateStatus(ctx, appt.ID, StatusCancelled); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("no-show is terminal, got %v", err)
	}
	if eventCount(repo, EventAppointmentStatusChanged) != 2 {
		t.Errorf("expected 2 status events, got %d", eventCount(repo, EventAppointmentStatusChanged))
	}

	if _, err := svc.UpdateStatus(ctx, uuid.New(), StatusConfirmed); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGetAppointment_ByIDAndReference(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{})

	appt, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	byID, err := svc.GetAppointment(ctx, appt.ID.String())
	if err != nil || byID.ID != appt.ID {
		t.Errorf("lookup by id failed: %v", err)
	}
	byRef, err := svc.GetAppointment(ctx, " "+appt.ReferenceID+" ")
	if err != nil || byRef.ID != appt.ID {
		t.Errorf("lookup by reference failed: %v", err)
	}
	if _, err := svc.GetAppointment(ctx, "APT-99999999x"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := svc.GetAppointment(ctx, ""); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found for empty key, got %v", err)
	}
}

func TestListAppointments(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryRepository(), passLocker{}, &fakeNotifier{})

	for _, slot := range []string{"09:00 AM", "10:00 AM", "11:00 AM"} {
		req := validRequest()
		req.Time = slot
		if _, err := svc.CreateAppointment(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	req := validRequest()
	req.Date = "2030-01-16"
	if _, err := svc.CreateAppointment(ctx, req); err != nil {
		t.Fatal(err)
	}

	day := mustDate(t, "2030-01-15")
	got, err := svc.ListAppointments(ctx, ListFilter{Date: &day})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 on the 15th, got %d", len(got))
	}

	page, _ := svc.ListAppointments(ctx, ListFilter{Limit: 2, Offset: 3})
	if len(page) != 1 {
		t.Errorf("expected 1 on the second page, got %d", len(page))
	}

	if _, err := svc.ListAppointments(ctx, ListFilter{Status: "later"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestDeleteAppointment(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := newTestService(t, repo, passLocker{}, &fakeNotifier{})

	appt, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteAppointment(ctx, appt.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetAppointment(ctx, appt.ID.String()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected deleted appointment to be gone, got %v", err)
	}
	if err := svc.DeleteAppointment(ctx, appt.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
	if eventCount(repo, EventAppointmentDeleted) != 1 {
		t.Error("expected APPOINTMENT_DELETED event")
	}
	if _, err := svc.CreateAppointment(ctx, validRequest()); err != nil {
		t.Errorf("slot should be free after delete: %v", err)
	}
}

func TestRetryNotifications(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2030, 1, 10, 12, 0, 0, 0, time.Local)

	failing := &fakeNotifier{fail: map[Recipient]bool{RecipientDoctor: true, RecipientPatient: true}}
	svc := newTestService(t, repo, passLocker{}, failing, WithClock(func() time.Time { return now }))

	repo.now = func() time.Time { return now.Add(-10 * time.Minute) }
	old, err := svc.CreateAppointment(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	repo.now = func() time.Time { return now.Add(-30 * time.Second) }
	fresh := validRequest()
	fresh.Time = "04:00 PM"
	if _, err := svc.CreateAppointment(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	repo.now = func() time.Time { return now.Add(-48 * time.Hour) }
	stale := validRequest()
	stale.Time = "09:00 AM"
	if _, err := svc.CreateAppointment(ctx, stale); err != nil {
		t.Fatal(err)
	}

	working := &fakeNotifier{}
	svc.notifier = working

	sent, err := svc.RetryNotifications(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sent != 2 || working.sentCount() != 2 {
		t.Errorf("expected only the 10 minute old booking retried (2 emails), got %d", sent)
	}

	stored, _ := repo.GetAppointmentByID(ctx, old.ID)
	if !stored.EmailSentToDoctor || !stored.EmailSentToPatient {
		t.Error("expected flags set after retry")
	}

	again, _ := svc.RetryNotifications(ctx)
	if again != 0 {
		t.Errorf("expected nothing left to retry, got %d", again)
	}
}
