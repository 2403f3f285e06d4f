package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/slots"
)

type seedOptions struct {
	count   int
	doctors int
	days    int
}

func main() {
	opts := seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with fake bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.count, "count", 200, "bookings to attempt")
	cmd.Flags().IntVar(&opts.doctors, "doctors", 8, "distinct doctor names")
	cmd.Flags().IntVar(&opts.days, "days", 14, "booking horizon in days from today")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	if opts.count <= 0 || opts.doctors <= 0 || opts.days <= 0 {
		return errors.New("count, doctors and days must be > 0")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	log := logging.New(cfg.Env, cfg.LogLevel)
	log.Info().Int("count", opts.count).Int("doctors", opts.doctors).Int("days", opts.days).Msg("seed starting")

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, poolOptions(cfg))
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool).Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repo := appointment.NewPgRepository(pool)
	return seedAppointments(ctx, repo, cfg, opts, log)
}

var seedStatuses = []appointment.AppointmentStatus{
	appointment.StatusPending,
	appointment.StatusPending,
	appointment.StatusConfirmed,
	appointment.StatusConfirmed,
	appointment.StatusCompleted,
	appointment.StatusCancelled,
	appointment.StatusNoShow,
}

func seedAppointments(ctx context.Context, repo appointment.Repository, cfg config.Config, opts seedOptions, log zerolog.Logger) error {
	doctors := make([]string, opts.doctors)
	for i := range doctors {
		doctors[i] = "Dr. " + gofakeit.LastName()
	}

	catalog := slots.Default().Labels()
	newRef := appointment.RandomReferences(cfg.ReferencePrefix)
	today := appointment.StartOfDay(time.Now())

	var created, skipped int
	for i := 0; i < opts.count; i++ {
		ref, err := newRef()
		if err != nil {
			return err
		}

		amount := cfg.ConsultationFee
		if gofakeit.Number(0, 4) == 0 {
			amount = decimal.NewFromInt(int64(gofakeit.Number(3, 15) * 100))
		}

		appt := appointment.Appointment{
			ID:                 uuid.New(),
			ReferenceID:        ref,
			PatientName:        gofakeit.Name(),
			PatientEmail:       gofakeit.Email(),
			PatientPhone:       gofakeit.Phone(),
			DoctorName:         doctors[gofakeit.Number(0, len(doctors)-1)],
			Date:               today.AddDate(0, 0, gofakeit.Number(0, opts.days-1)),
			TimeSlot:           catalog[gofakeit.Number(0, len(catalog)-1)],
			Amount:             amount,
			Status:             seedStatuses[gofakeit.Number(0, len(seedStatuses)-1)],
			EmailSentToDoctor:  true,
			EmailSentToPatient: true,
		}

		_, err = repo.InsertAppointment(ctx, appt)
		switch {
		case errors.Is(err, appointment.ErrActiveSlotExists), errors.Is(err, appointment.ErrReferenceExists):
			skipped++
			continue
		case err != nil:
			return fmt.Errorf("insert appointment: %w", err)
		}
		created++

		if created%50 == 0 {
			log.Info().Int("created", created).Int("skipped", skipped).Msg("seeding")
		}
	}

	log.Info().Int("created", created).Int("skipped", skipped).Msg("seed complete")
	return nil
}

func poolOptions(cfg config.Config) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:   int32(cfg.PostgresMaxConns),
		MinConns:   int32(cfg.PostgresMinConns),
		Attempts:   1,
		RetryDelay: time.Second,
	}
}
