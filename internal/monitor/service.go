// Package monitor runs the acquire, analyze, dispatch and persist cycle. The
// scheduler, the on-demand read endpoint and manual entry all go through
// the same Service.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/analysis"
	"github.com/i474232898/cold-storage-monitor/internal/domain"
	"github.com/i474232898/cold-storage-monitor/internal/metrics"
	"github.com/i474232898/cold-storage-monitor/internal/sensor"
	"github.com/i474232898/cold-storage-monitor/internal/store"
	"github.com/i474232898/cold-storage-monitor/internal/weather"
)

var (
	ErrManualDisabled   = errors.New("manual entry is disabled")
	ErrOnDemandDisabled = errors.New("on-demand sensor reads are disabled")
)

// Stage is the step a cycle is currently in.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageAcquiring   Stage = "acquiring"
	StageAnalyzing   Stage = "analyzing"
	StageDispatching Stage = "dispatching"
)

// Sensor is the hardware side of a cycle; *sensor.Source satisfies it.
type Sensor interface {
	Acquire(ctx context.Context, maxRetries int, retryDelay time.Duration) (domain.Reading, error)
	Active() (sensor.Descriptor, bool)
}

// WeatherFetcher returns ambient conditions; it never fails outright.
type WeatherFetcher interface {
	Fetch(ctx context.Context, loc weather.Location) weather.Snapshot
}

// Dispatcher turns anomalous verdicts into alert records.
type Dispatcher interface {
	Dispatch(ctx context.Context, v domain.AnomalyVerdict) (domain.AlertRecord, bool)
}

// Options selects which paths are live and the sensor retry policy.
type Options struct {
	ManualEntry  bool
	OnDemandRead bool
	Scheduled    bool

	Retries    int
	RetryDelay time.Duration

	Location weather.Location
}

// DefaultOptions enables every path with three attempts two seconds apart.
func DefaultOptions() Options {
	return Options{
		ManualEntry:  true,
		OnDemandRead: true,
		Scheduled:    true,
		Retries:      3,
		RetryDelay:   2 * time.Second,
		Location:     weather.Location{City: "Kinnaur", Country: "IN"},
	}
}

// Deps are the collaborators of a Service. Sensor may be nil when only
// manual entry is enabled; Analyzer defaults to the standard thresholds.
type Deps struct {
	Sensor     Sensor
	Weather    WeatherFetcher
	Dispatcher Dispatcher
	Store      store.HistoryStore
	Analyzer   *analysis.Analyzer
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// CycleResult is everything one cycle produced.
type CycleResult struct {
	ID      string                `json:"id"`
	Source  string                `json:"source"` // "sensor" or "manual"
	Reading domain.Reading        `json:"reading"`
	Weather weather.Snapshot      `json:"weather"`
	Verdict domain.AnomalyVerdict `json:"verdict"`
	Risk    domain.SpoilageRisk   `json:"risk"`
	Score   float64               `json:"score"`
	Alert   *domain.AlertRecord   `json:"alert,omitempty"`
}

// Service owns the cycle.
type Service struct {
	deps     Deps
	opts     Options
	analyzer analysis.Analyzer
	logger   *zap.Logger

	mu   sync.RWMutex
	last *CycleResult
}

func NewService(deps Deps, opts Options) *Service {
	a := analysis.New(analysis.DefaultThresholds())
	if deps.Analyzer != nil {
		a = *deps.Analyzer
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	return &Service{
		deps:     deps,
		opts:     opts,
		analyzer: a,
		logger:   logger,
	}
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// RunCycle acquires a hardware reading and carries it through analysis,
// dispatch and persistence. observe, if non-nil, is told each stage as it
// starts. Any stage failure ends the cycle and is returned.
func (s *Service) RunCycle(ctx context.Context, observe func(Stage)) (CycleResult, error) {
	start := time.Now()
	res := CycleResult{ID: uuid.NewString(), Source: "sensor"}
	log := s.logger.With(zap.String("cycle_id", res.ID))
	notify(observe, StageAcquiring)

	if s.deps.Sensor == nil {
		s.deps.Metrics.ObserveCycle("sensor_error", time.Since(start))
		return res, fmt.Errorf("%w: no sensor configured", domain.ErrSensorUnavailable)
	}

	r, err := s.deps.Sensor.Acquire(ctx, s.opts.Retries, s.opts.RetryDelay)
	if err != nil {
		s.deps.Metrics.ObserveCycle("sensor_error", time.Since(start))
		log.Warn("sensor read failed", zap.Error(err))
		return res, err
	}
	res.Reading = r

	err = s.process(ctx, log, &res, observe)
	s.deps.Metrics.ObserveCycle(outcome(err), time.Since(start))
	return res, err
}

// ReadNow runs one cycle on request, sharing the sensor lock with the
// scheduler.
func (s *Service) ReadNow(ctx context.Context) (CycleResult, error) {
	if !s.opts.OnDemandRead {
		return CycleResult{}, ErrOnDemandDisabled
	}
	return s.RunCycle(ctx, nil)
}

// SubmitManual stores an operator-entered reading after the same analysis
// and alerting as a hardware reading. Values are rounded to one decimal.
func (s *Service) SubmitManual(ctx context.Context, temperature, humidity float64) (CycleResult, error) {
	if !s.opts.ManualEntry {
		return CycleResult{}, ErrManualDisabled
	}

	start := time.Now()
	r := domain.NewReading(temperature, humidity)
	if err := r.Validate(); err != nil {
		return CycleResult{}, err
	}

	res := CycleResult{ID: uuid.NewString(), Source: "manual", Reading: r}
	log := s.logger.With(zap.String("cycle_id", res.ID))
	err := s.process(ctx, log, &res, nil)
	s.deps.Metrics.ObserveCycle(outcome(err), time.Since(start))
	return res, err
}

func (s *Service) process(ctx context.Context, log *zap.Logger, res *CycleResult, observe func(Stage)) error {
	notify(observe, StageAnalyzing)
	res.Weather = s.fetchWeather(ctx)
	ext := res.Weather.ExternalTemperature()
	if ext == nil {
		log.Info("no ambient temperature; evaluating without adjustment", zap.String("weather_error", res.Weather.Error))
	}
	res.Verdict, res.Risk = s.analyzer.Evaluate(res.Reading, ext)
	res.Score = s.analyzer.SpoilageScore(res.Reading, ext)

	notify(observe, StageDispatching)
	if s.deps.Dispatcher != nil {
		if rec, ok := s.deps.Dispatcher.Dispatch(ctx, res.Verdict); ok {
			res.Alert = &rec
		}
	}

	if err := s.deps.Store.Append(ctx, store.Entry{Reading: res.Reading, Alert: res.Alert}); err != nil {
		log.Error("persisting reading failed", zap.Error(err))
		return fmt.Errorf("persist reading: %w", err)
	}

	s.deps.Metrics.ObserveReading(res.Reading.Temperature, res.Reading.Humidity, res.Score)
	s.mu.Lock()
	if s.last == nil || !res.Reading.Timestamp.Before(s.last.Reading.Timestamp) {
		cp := *res
		s.last = &cp
	}
	s.mu.Unlock()

	log.Info("cycle complete",
		zap.String("source", res.Source),
		zap.Float64("temperature", res.Reading.Temperature),
		zap.Float64("humidity", res.Reading.Humidity),
		zap.Bool("anomaly", res.Verdict.IsAnomaly),
		zap.String("risk", string(res.Risk)),
	)
	return nil
}

func (s *Service) fetchWeather(ctx context.Context) weather.Snapshot {
	if s.deps.Weather == nil {
		return weather.Snapshot{Location: s.opts.Location, Error: "weather lookup not configured"}
	}
	return s.deps.Weather.Fetch(ctx, s.opts.Location)
}

// SensorStatus reports whether a device is active.
type SensorStatus struct {
	Initialized bool   `json:"initialized"`
	Device      string `json:"device,omitempty"`
	Address     string `json:"address,omitempty"`
}

// Status is the dashboard data feed.
type Status struct {
	Latest  *domain.Reading        `json:"latest"`
	Verdict *domain.AnomalyVerdict `json:"verdict,omitempty"`
	Risk    domain.SpoilageRisk    `json:"risk,omitempty"`
	Score   *float64               `json:"score,omitempty"`
	Weather *weather.Snapshot      `json:"weather,omitempty"`
	Alerts  []domain.AlertRecord   `json:"alerts"`
	Sensor  SensorStatus           `json:"sensor"`
	Modes   Options                `json:"-"`
}

// Status returns the latest stored reading with its analysis, the ambient
// conditions used for it, the ten newest alerts and the sensor state. When
// the latest reading was not produced by this process the current weather is
// fetched for it.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{Modes: s.opts, Sensor: s.SensorState()}

	readings, err := s.deps.Store.RecentReadings(ctx, 1)
	if err != nil {
		return st, fmt.Errorf("latest reading: %w", err)
	}
	alerts, err := s.deps.Store.RecentAlerts(ctx, 10)
	if err != nil {
		return st, fmt.Errorf("recent alerts: %w", err)
	}
	st.Alerts = alerts

	if len(readings) == 0 {
		return st, nil
	}
	latest := readings[0]
	st.Latest = &latest

	var w weather.Snapshot
	s.mu.RLock()
	cached := s.last != nil && s.last.Reading.Timestamp.Equal(latest.Timestamp)
	if cached {
		w = s.last.Weather
	}
	s.mu.RUnlock()
	if !cached {
		w = s.fetchWeather(ctx)
	}
	st.Weather = &w
	ext := w.ExternalTemperature()

	v, risk := s.analyzer.Evaluate(latest, ext)
	score := s.analyzer.SpoilageScore(latest, ext)
	st.Verdict, st.Risk, st.Score = &v, risk, &score
	return st, nil
}

// SensorState reports the active device, if any.
func (s *Service) SensorState() SensorStatus {
	if s.deps.Sensor == nil {
		return SensorStatus{}
	}
	d, ok := s.deps.Sensor.Active()
	if !ok {
		return SensorStatus{}
	}
	return SensorStatus{Initialized: true, Device: d.Name, Address: d.Address}
}

// History returns up to n readings, oldest first.
func (s *Service) History(ctx context.Context, n int) ([]domain.Reading, error) {
	rs, err := s.deps.Store.RecentReadings(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
	return rs, nil
}

// Alerts returns up to n alerts, newest first.
func (s *Service) Alerts(ctx context.Context, n int) ([]domain.AlertRecord, error) {
	as, err := s.deps.Store.RecentAlerts(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	return as, nil
}

// Evaluate analyzes a hypothetical reading without storing or alerting.
func (s *Service) Evaluate(r domain.Reading, externalTemp *float64) (domain.AnomalyVerdict, domain.SpoilageRisk, float64) {
	v, risk := s.analyzer.Evaluate(r, externalTemp)
	return v, risk, s.analyzer.SpoilageScore(r, externalTemp)
}

func notify(observe func(Stage), st Stage) {
	if observe != nil {
		observe(st)
	}
}

func outcome(err error) string {
	if err != nil {
		return "store_error"
	}
	return "ok"
}
