package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
	"github.com/i474232898/cold-storage-monitor/internal/metrics"
)

// DefaultTimeout bounds a single notifier delivery.
const DefaultTimeout = 15 * time.Second

// Notifier delivers an alert message through one channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
	// Type returns the notifier type identifier (e.g., "webhook", "email", "mqtt").
	Type() string
}

// Dispatcher turns anomalous verdicts into alert records and fans the message
// out to every notifier without blocking the caller.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. An empty notifier list is valid: alerts
// are still recorded and logged.
func NewDispatcher(notifiers []Notifier, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch returns the alert record for an anomalous verdict and starts
// delivery in the background. For a normal verdict it returns false and does
// nothing. Delivery outlives ctx cancellation but not the per-notifier timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, v domain.AnomalyVerdict) (domain.AlertRecord, bool) {
	if !v.IsAnomaly {
		return domain.AlertRecord{}, false
	}

	rec := domain.AlertRecord{Message: v.Reason, Timestamp: d.now()}
	d.metrics.ObserveAlert()
	d.logger.Warn("alert raised",
		zap.String("message", rec.Message),
		zap.Int("notifiers", len(d.notifiers)),
	)

	base := context.WithoutCancel(ctx)
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go d.deliver(base, n, rec.Message)
	}
	return rec, true
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Types lists the configured notifier types.
func (d *Dispatcher) Types() []string {
	out := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		out = append(out, n.Type())
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, message string) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notifier panicked", zap.String("notifier", n.Type()), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := n.Notify(ctx, message)
	d.metrics.ObserveNotification(n.Type(), err)
	if err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("notifier", n.Type()),
			zap.Error(err),
		)
		return
	}
	d.logger.Debug("notification delivered", zap.String("notifier", n.Type()))
}
