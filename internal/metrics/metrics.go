// Package metrics exposes Prometheus collectors for the acquisition,
// analysis and alerting pipeline. All methods are safe on a nil *Metrics so
// components can run without instrumentation (tests, CLI one-shots).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coldroom"

// Metrics bundles the collectors registered for one process.
type Metrics struct {
	cyclesTotal       *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	sensorAttempts    *prometheus.CounterVec
	sensorDiscoveries *prometheus.CounterVec
	weatherFetches    *prometheus.CounterVec
	alertsTotal       prometheus.Counter
	notifications     *prometheus.CounterVec
	temperature       prometheus.Gauge
	humidity          prometheus.Gauge
	spoilageScore     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Monitoring cycles by outcome.",
			},
			[]string{"outcome"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a full acquire-analyze-dispatch cycle.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		sensorAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sensor_attempts_total",
				Help:      "Individual sensor read attempts by result.",
			},
			[]string{"result"},
		),
		sensorDiscoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sensor_discoveries_total",
				Help:      "Device discovery runs by result.",
			},
			[]string{"result"},
		),
		weatherFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "weather_fetches_total",
				Help:      "Ambient weather lookups by result.",
			},
			[]string{"result"},
		),
		alertsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alert records created.",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Outbound notifications by notifier type and result.",
			},
			[]string{"notifier", "result"},
		),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Most recent stored room temperature.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Most recent stored relative humidity.",
		}),
		spoilageScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spoilage_score",
			Help:      "Spoilage score of the most recent reading.",
		}),
	}

	reg.MustRegister(
		m.cyclesTotal,
		m.cycleDuration,
		m.sensorAttempts,
		m.sensorDiscoveries,
		m.weatherFetches,
		m.alertsTotal,
		m.notifications,
		m.temperature,
		m.humidity,
		m.spoilageScore,
	)
	return m
}

// ObserveCycle records a finished cycle. outcome is "ok", "sensor_error",
// "store_error", and so on.
func (m *Metrics) ObserveCycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveSensorAttempt(ok bool) {
	if m == nil {
		return
	}
	m.sensorAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveDiscovery(ok bool) {
	if m == nil {
		return
	}
	m.sensorDiscoveries.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveWeather(ok bool) {
	if m == nil {
		return
	}
	m.weatherFetches.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveAlert() {
	if m == nil {
		return
	}
	m.alertsTotal.Inc()
}

func (m *Metrics) ObserveNotification(notifier string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notifier, result(err == nil)).Inc()
}

// ObserveReading updates the last-value gauges.
func (m *Metrics) ObserveReading(temperature, humidity, score float64) {
	if m == nil {
		return
	}
	m.temperature.Set(temperature)
	m.humidity.Set(humidity)
	m.spoilageScore.Set(score)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
