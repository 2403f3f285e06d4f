package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a Repository kept in process memory. It enforces the
// same unique rules as the SQL schema and is meant for tests and local runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Appointment
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[uuid.UUID]*Appointment),
		now:  time.Now,
	}
}

// Events returns a copy of every recorded event.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryRepository) FindActiveBySlot(_ context.Context, date time.Time, timeSlot, doctor string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if a.Status.Active() && sameDay(a.Date, date) && a.TimeSlot == timeSlot &&
			(doctor == "" || a.DoctorName == doctor) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *MemoryRepository) ListBookedSlots(_ context.Context, date time.Time, doctor string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, a := range m.byID {
		if !a.Status.Active() || !sameDay(a.Date, date) || (doctor != "" && a.DoctorName != doctor) {
			continue
		}
		if !seen[a.TimeSlot] {
			seen[a.TimeSlot] = true
			out = append(out, a.TimeSlot)
		}
	}
	return out, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) GetAppointmentByReference(_ context.Context, ref string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if a.ReferenceID == ref {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.RLock()
	var out []Appointment
	for _, a := range m.byID {
		if f.Date != nil && !sameDay(a.Date, *f.Date) {
			continue
		}
		if f.Doctor != "" && a.DoctorName != f.Doctor {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.ReferenceID == a.ReferenceID {
			return nil, ErrReferenceExists
		}
		if existing.Status.Active() && a.Status.Active() && sameDay(existing.Date, a.Date) &&
			existing.TimeSlot == a.TimeSlot && existing.DoctorName == a.DoctorName {
			return nil, ErrActiveSlotExists
		}
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := m.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.byID[a.ID] = &a

	cp := a
	return &cp, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) MarkEmailSent(_ context.Context, id uuid.UUID, to Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	switch to {
	case RecipientDoctor:
		a.EmailSentToDoctor = true
	case RecipientPatient:
		a.EmailSentToPatient = true
	}
	a.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *MemoryRepository) FindUnnotified(_ context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	m.mu.RLock()
	var out []Appointment
	for _, a := range m.byID {
		if !a.Status.Active() || (a.EmailSentToDoctor && a.EmailSentToPatient) {
			continue
		}
		if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
			continue
		}
		out = append(out, *a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
