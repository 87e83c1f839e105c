package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/metrics"
)

// DefaultTimeout bounds one Fetch across all providers.
const DefaultTimeout = 8 * time.Second

var errNoProviders = errors.New("no weather providers configured")

// Service fans out to every configured provider and aggregates what comes
// back. It never fails: problems are reported in Snapshot.Error.
type Service struct {
	providers []Provider
	resolver  LocationResolver
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	resolved map[string]Location
}

// Option configures a Service.
type Option func(*Service)

// WithResolver sets the resolver used to look up coordinates for locations
// that lack them. Lookups are cached per location.
func WithResolver(r LocationResolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a new Service. Providers are listed in preference
// order; the first one to report a description wins.
func NewService(providers []Provider, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		providers: providers,
		timeout:   DefaultTimeout,
		logger:    logger,
		metrics:   m,
		resolved:  make(map[string]Location),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch queries all providers concurrently for loc and returns the
// aggregated snapshot. Partial success is fine; if no provider succeeds the
// snapshot carries the combined error.
func (s *Service) Fetch(ctx context.Context, loc Location) Snapshot {
	if len(s.providers) == 0 {
		s.metrics.ObserveWeather(false)
		return failed(loc, errNoProviders)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	loc = s.resolve(ctx, loc)

	var (
		wg       sync.WaitGroup
		readings = make([]*ProviderReading, len(s.providers))
		errs     = make([]error, len(s.providers))
	)
	for i, p := range s.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()

			r, err := p.Fetch(ctx, loc)
			if err != nil {
				s.logger.Warn("weather provider fetch failed",
					zap.String("provider", p.Name()),
					zap.String("location", loc.Key()),
					zap.Error(err),
				)
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				return
			}
			readings[i] = &r
		}(i, p)
	}
	wg.Wait()

	ok := make([]ProviderReading, 0, len(readings))
	for _, r := range readings {
		if r != nil {
			ok = append(ok, *r)
		}
	}

	if len(ok) == 0 {
		s.metrics.ObserveWeather(false)
		return failed(loc, errors.Join(errs...))
	}

	s.metrics.ObserveWeather(true)
	snap := AggregateReadings(loc, ok)
	s.logger.Debug("weather fetched",
		zap.String("location", loc.Key()),
		zap.Float64("temperature", snap.Temperature),
		zap.Int("providers", len(ok)),
	)
	return snap
}

func (s *Service) resolve(ctx context.Context, loc Location) Location {
	if s.resolver == nil || loc.HasCoordinates() {
		return loc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.resolved[loc.Key()]; ok {
		return cached
	}
	r, err := s.resolver.Resolve(ctx, loc)
	if err != nil {
		s.logger.Warn("location lookup failed", zap.String("location", loc.Key()), zap.Error(err))
		return loc
	}
	s.resolved[loc.Key()] = r
	return r
}

func failed(loc Location, err error) Snapshot {
	msg := "weather unavailable"
	if err != nil {
		msg = strings.ReplaceAll(err.Error(), "\n", "; ")
	}
	return Snapshot{
		Location:  loc,
		Timestamp: time.Now().UTC(),
		Condition: ConditionUnknown,
		Error:     msg,
	}
}
