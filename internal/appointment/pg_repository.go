package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation = "23505"

	activeSlotIndex = "appointments_active_slot_key"
	referenceIndex  = "appointments_reference_id_key"
)

const appointmentColumns = `id, reference_id, patient_name, patient_email, patient_phone, doctor_name,
	appointment_date, time_slot, amount, status, email_sent_to_doctor, email_sent_to_patient,
	created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var day time.Time

	err := row.Scan(
		&a.ID,
		&a.ReferenceID,
		&a.PatientName,
		&a.PatientEmail,
		&a.PatientPhone,
		&a.DoctorName,
		&day,
		&a.TimeSlot,
		&a.Amount,
		&a.Status,
		&a.EmailSentToDoctor,
		&a.EmailSentToPatient,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	// DATE comes back as UTC midnight; keep the calendar day in local time.
	y, m, d := day.Date()
	a.Date = time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func sqlDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Interface methods

func (r *PgRepository) FindActiveBySlot(ctx context.Context, date time.Time, timeSlot, doctor string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1::date
		  AND time_slot = $2
		  AND ($3 = '' OR doctor_name = $3)
		  AND status <> 'cancelled'
		LIMIT 1
	`, sqlDate(date), timeSlot, doctor)
	return scanAppointment(row)
}

func (r *PgRepository) ListBookedSlots(ctx context.Context, date time.Time, doctor string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT time_slot
		FROM appointments
		WHERE appointment_date = $1::date
		  AND ($2 = '' OR doctor_name = $2)
		  AND status <> 'cancelled'
	`, sqlDate(date), doctor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByReference(ctx context.Context, ref string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE reference_id = $1
	`, ref)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Date != nil {
		add("appointment_date = $%d::date", sqlDate(*f.Date))
	}
	if f.Doctor != "" {
		add("doctor_name = $%d", f.Doctor)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY appointment_date, created_at LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, reference_id, patient_name, patient_email, patient_phone, doctor_name,
			appointment_date, time_slot, amount, status, email_sent_to_doctor, email_sent_to_patient,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ReferenceID, a.PatientName, a.PatientEmail, a.PatientPhone, a.DoctorName,
		sqlDate(a.Date), a.TimeSlot, a.Amount, string(a.Status), a.EmailSentToDoctor, a.EmailSentToPatient)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case activeSlotIndex:
				return nil, ErrActiveSlotExists
			case referenceIndex:
				return nil, ErrReferenceExists
			}
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) MarkEmailSent(ctx context.Context, id uuid.UUID, to Recipient) error {
	column := "email_sent_to_patient"
	if to == RecipientDoctor {
		column = "email_sent_to_doctor"
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET `+column+` = TRUE,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindUnnotified(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE (email_sent_to_doctor = FALSE OR email_sent_to_patient = FALSE)
		  AND status <> 'cancelled'
		  AND created_at >= $1
		  AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
