package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
	"github.com/i474232898/cold-storage-monitor/internal/metrics"
)

var (
	errIncomplete        = errors.New("incomplete measurement")
	errHumidityOutOfSpan = errors.New("humidity outside [0,100]")
)

// Config describes the candidate devices and how to reach them.
type Config struct {
	// Descriptors is tried in order during discovery: preferred device first.
	Descriptors []Descriptor
	Open        Opener

	// Secondary, when set and PreferSecondary is true, overrides the
	// primary temperature whenever it yields a value.
	Secondary       TemperatureProbe
	PreferSecondary bool

	// SettleDelay is the wait between initializing a candidate and its
	// trial read.
	SettleDelay time.Duration
}

// Source owns the hardware handle. Discovery and every read, scheduled or
// on demand, go through one mutex.
type Source struct {
	mu     sync.Mutex
	cfg    Config
	device Device
	active Descriptor

	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSource creates a Source. No device is opened until the first Acquire
// or Discover call.
func NewSource(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Source {
	if cfg.Open == nil {
		cfg.Open = OpenSimulated
	}
	cfg.Descriptors = dedupe(cfg.Descriptors)
	return &Source{
		cfg:     cfg,
		sleep:   sleepContext,
		logger:  logger,
		metrics: m,
	}
}

// Acquire takes one reading, retrying up to maxRetries attempts with
// retryDelay between failed attempts. When no device is active it runs
// discovery first. Exhausting the budget clears the handle so the next call
// re-discovers; it fails with domain.ErrSensorUnavailable.
func (s *Source) Acquire(ctx context.Context, maxRetries int, retryDelay time.Duration) (domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		s.discoverLocked(ctx)
	}
	if s.device == nil {
		return domain.Reading{}, fmt.Errorf("%w: no device responded on %d candidate(s)",
			domain.ErrSensorUnavailable, len(s.cfg.Descriptors))
	}

	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		temp, hum, err := s.attemptLocked()
		s.metrics.ObserveSensorAttempt(err == nil)
		if err == nil {
			return domain.NewReading(temp, hum), nil
		}

		lastErr = err
		s.logger.Debug("sensor attempt failed",
			zap.String("device", s.active.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		if attempt < maxRetries {
			if err := s.sleep(ctx, retryDelay); err != nil {
				return domain.Reading{}, fmt.Errorf("%w: %w", domain.ErrSensorUnavailable, err)
			}
		}
	}

	name := s.active.Name
	s.resetLocked()
	return domain.Reading{}, fmt.Errorf("%w: %d attempt(s) on %s failed: %w",
		domain.ErrSensorUnavailable, maxRetries, name, lastErr)
}

// Discover runs device discovery if no handle is active and reports
// whether one is active afterwards.
func (s *Source) Discover(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		s.discoverLocked(ctx)
	}
	return s.device != nil
}

// Active returns the descriptor of the adopted device, if any.
func (s *Source) Active() (Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.device != nil
}

// Close releases the active device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	err := s.device.Close()
	s.device = nil
	s.active = Descriptor{}
	return err
}

func (s *Source) attemptLocked() (float64, float64, error) {
	m, err := s.device.Measure()
	if err != nil {
		return 0, 0, err
	}

	if s.cfg.PreferSecondary && s.cfg.Secondary != nil {
		if t, ok := s.cfg.Secondary.Temperature(); ok {
			m.Temperature = &t
		}
	}

	if !m.Complete() {
		return 0, 0, errIncomplete
	}
	if *m.Humidity < 0 || *m.Humidity > 100 {
		return 0, 0, fmt.Errorf("%w: %.1f", errHumidityOutOfSpan, *m.Humidity)
	}
	return *m.Temperature, *m.Humidity, nil
}

// discoverLocked adopts the first candidate that initializes and survives a
// trial read. If none does the handle stays empty until the next call.
func (s *Source) discoverLocked(ctx context.Context) {
	for _, d := range s.cfg.Descriptors {
		s.logger.Debug("trying sensor device", zap.String("device", d.Name), zap.String("address", d.Address))

		dev, err := s.cfg.Open(d)
		if err != nil {
			s.logger.Debug("sensor init failed", zap.String("device", d.Name), zap.Error(err))
			continue
		}

		if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
			closeQuietly(dev)
			s.metrics.ObserveDiscovery(false)
			return
		}

		if _, err := dev.Measure(); err != nil {
			s.logger.Debug("sensor trial read failed", zap.String("device", d.Name), zap.Error(err))
			closeQuietly(dev)
			continue
		}

		s.device = dev
		s.active = d
		s.metrics.ObserveDiscovery(true)
		s.logger.Info("sensor device initialized",
			zap.String("device", d.Name),
			zap.String("address", d.Address),
		)
		return
	}

	s.metrics.ObserveDiscovery(false)
	s.logger.Warn("could not initialize a sensor on any candidate device",
		zap.Int("candidates", len(s.cfg.Descriptors)),
	)
}

func (s *Source) resetLocked() {
	if s.device != nil {
		closeQuietly(s.device)
	}
	s.device = nil
	s.active = Descriptor{}
}

func closeQuietly(d Device) {
	_ = d.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
