package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/slots"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Doctors      int
	Days         int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
}

// target is one bookable (date, time, doctor) combination.
type target struct {
	Date   string
	Time   string
	Doctor string
}

type DataPool struct {
	Targets      []target
	Doctors      []string
	Dates        []string
	mu           sync.RWMutex
	appointments []createdAppointment
}

type createdAppointment struct {
	ID        string
	Reference string
}

func (dp *DataPool) AddAppointment(a createdAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (createdAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return createdAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	StatusChange OperationMetrics
	Lookup       OperationMetrics
	ListByDate   OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	dataPool := buildDataPool(cfg, slots.Default(), time.Now())
	if len(dataPool.Targets) == 0 {
		log.Fatal().Msg("no future slots in the booking horizon")
	}
	log.Info().Int("targets", len(dataPool.Targets)).Int("doctors", len(dataPool.Doctors)).Msg("data pool ready")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	dups, err := sim.VerifyNoDoubleBooking(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("verification failed")
	}
	if dups > 0 {
		log.Fatal().Int("duplicates", dups).Msg("found slots with more than one active booking")
	}
	log.Info().Msg("verified: at most one active booking per slot")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Doctors:      getInt("SIM_DOCTORS", 5),
		Days:         getInt("SIM_DAYS", 7),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Doctors <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_DOCTORS and SIM_DAYS must be > 0")
	}
	return nil
}

// buildDataPool lists every slot still ahead of now within the horizon. The
// API does not filter past slots, so the simulator does.
func buildDataPool(cfg SimConfig, catalog slots.Catalog, now time.Time) *DataPool {
	dp := &DataPool{}
	for i := 0; i < cfg.Doctors; i++ {
		dp.Doctors = append(dp.Doctors, "Dr. "+gofakeit.LastName())
	}

	today := appointment.StartOfDay(now)
	for d := 0; d < cfg.Days; d++ {
		day := today.AddDate(0, 0, d)
		date := day.Format(appointment.DateLayout)
		dp.Dates = append(dp.Dates, date)

		for _, s := range catalog.Upcoming(day, now) {
			for _, doc := range dp.Doctors {
				dp.Targets = append(dp.Targets, target{Date: date, Time: s.Label, Doctor: doc})
			}
		}
	}
	return dp
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.StatusRatio:
				s.doStatusChange(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doLookup(ctx, rng)
				case 1:
					s.doListByDate(ctx, rng)
				case 2:
					s.doAvailability(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	body, _ := json.Marshal(map[string]string{
		"name":   gofakeit.Name(),
		"email":  gofakeit.Email(),
		"phone":  gofakeit.Phone(),
		"doctor": t.Doctor,
		"date":   t.Date,
		"time":   t.Time,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				Data struct {
					ID          string `json:"id"`
					ReferenceID string `json:"referenceId"`
				} `json:"data"`
			}
			if raw, err := io.ReadAll(resp.Body); err == nil && json.Unmarshal(raw, &created) == nil && created.Data.ID != "" {
				s.pool.AddAppointment(createdAppointment{ID: created.Data.ID, Reference: created.Data.ReferenceID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doStatusChange(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	next := []string{"confirmed", "cancelled", "completed", "no-show"}[rng.Intn(4)]
	body, _ := json.Marshal(map[string]string{"status": next})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/appointments/%s/status", s.config.APIBaseURL, appt.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.StatusChange.Record(latency, success, conflict)
}

func (s *Simulator) doLookup(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	key := appt.ID
	if rng.Intn(2) == 0 && appt.Reference != "" {
		key = appt.Reference
	}
	s.timedGet(ctx, &s.metrics.Lookup, "/appointments/"+url.PathEscape(key))
}

func (s *Simulator) doListByDate(ctx context.Context, rng *rand.Rand) {
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	s.timedGet(ctx, &s.metrics.ListByDate, "/appointments?date="+date+"&limit=20&offset=0")
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	s.timedGet(ctx, &s.metrics.Availability,
		"/appointments/available-slots?date="+date+"&doctor="+url.QueryEscape(doctor))
}

func (s *Simulator) timedGet(ctx context.Context, om *OperationMetrics, path string) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	om.Record(latency, success, false)
}

// listedAppointment is the subset of the API appointment JSON the
// verification needs.
type listedAppointment struct {
	Doctor string `json:"doctor"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Status string `json:"status"`
}

// VerifyNoDoubleBooking pages through every booking in the horizon and
// returns how many slots hold more than one non-cancelled booking.
func (s *Simulator) VerifyNoDoubleBooking(ctx context.Context) (int, error) {
	const pageSize = 100

	var all []listedAppointment
	for _, date := range s.pool.Dates {
		for offset := 0; ; offset += pageSize {
			page, err := s.listPage(ctx, date, pageSize, offset)
			if err != nil {
				return 0, err
			}
			all = append(all, page...)
			if len(page) < pageSize {
				break
			}
		}
	}
	return countDoubleBookings(all), nil
}

func (s *Simulator) listPage(ctx context.Context, date string, limit, offset int) ([]listedAppointment, error) {
	u := fmt.Sprintf("%s/appointments?date=%s&limit=%d&offset=%d", s.config.APIBaseURL, date, limit, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s: unexpected status %d", date, resp.StatusCode)
	}
	var body struct {
		Data []listedAppointment `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return body.Data, nil
}

func countDoubleBookings(list []listedAppointment) int {
	active := make(map[target]int)
	for _, a := range list {
		if a.Status == "cancelled" {
			continue
		}
		active[target{Date: a.Date, Time: a.Time, Doctor: a.Doctor}]++
	}
	dups := 0
	for _, n := range active {
		if n > 1 {
			dups++
		}
	}
	return dups
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Targets: %d (doctors=%d days=%d)\n", len(s.pool.Targets), len(s.pool.Doctors), len(s.pool.Dates))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.StatusChange)
	printOperationReport("Lookup", &s.metrics.Lookup)
	printOperationReport("List by date", &s.metrics.ListByDate)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
