package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
	"github.com/i474232898/cold-storage-monitor/internal/metrics"
	"github.com/i474232898/cold-storage-monitor/internal/monitor"
)

type fakeMonitor struct {
	submitErr error
	readErr   error
	historyN  int
	alertsN   int
	readings  []domain.Reading
	submitted [][2]float64
	sensor    monitor.SensorStatus
}

func (f *fakeMonitor) Status(context.Context) (monitor.Status, error) {
	latest := domain.Reading{Temperature: 3.2, Humidity: 92, Timestamp: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	return monitor.Status{
		Latest: &latest,
		Risk:   domain.RiskLow,
		Alerts: []domain.AlertRecord{},
		Sensor: f.sensor,
		Modes:  monitor.DefaultOptions(),
	}, nil
}

func (f *fakeMonitor) SubmitManual(_ context.Context, t, h float64) (monitor.CycleResult, error) {
	f.submitted = append(f.submitted, [2]float64{t, h})
	if f.submitErr != nil {
		return monitor.CycleResult{}, f.submitErr
	}
	return monitor.CycleResult{ID: "c1", Source: "manual", Reading: domain.NewReading(t, h)}, nil
}

func (f *fakeMonitor) ReadNow(context.Context) (monitor.CycleResult, error) {
	if f.readErr != nil {
		return monitor.CycleResult{}, f.readErr
	}
	return monitor.CycleResult{ID: "c2", Source: "sensor", Reading: domain.NewReading(2.5, 91)}, nil
}

func (f *fakeMonitor) History(_ context.Context, n int) ([]domain.Reading, error) {
	f.historyN = n
	return f.readings, nil
}

func (f *fakeMonitor) Alerts(_ context.Context, n int) ([]domain.AlertRecord, error) {
	f.alertsN = n
	return []domain.AlertRecord{{Message: "Humidity 97.0% is out of the acceptable range (90.0%–95.0%).", Timestamp: time.Now().UTC()}}, nil
}

func (f *fakeMonitor) SensorState() monitor.SensorStatus { return f.sensor }

type fakeLoop struct{ tick time.Time }

func (l fakeLoop) LastTick() (time.Time, bool) { return l.tick, !l.tick.IsZero() }
func (l fakeLoop) State() monitor.Stage         { return monitor.StageIdle }
func (l fakeLoop) Running() bool                { return true }

func newApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, d)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("decoding %q: %v", raw, err)
		}
	}
	return resp.StatusCode, body
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth(t *testing.T) {
	tick := time.Date(2025, 6, 1, 8, 5, 0, 0, time.UTC)
	app := newApp(Deps{
		Monitor: &fakeMonitor{sensor: monitor.SensorStatus{Initialized: true, Device: "D17"}},
		Loop:    fakeLoop{tick: tick},
	})

	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["ok"] != true || body["sensor_initialized"] != true {
		t.Errorf("body = %v", body)
	}
	if body["last_background_tick"] != "2025-06-01T08:05:00Z" {
		t.Errorf("last_background_tick = %v", body["last_background_tick"])
	}
}

func TestHealth_NoLoop(t *testing.T) {
	app := newApp(Deps{Monitor: &fakeMonitor{}})
	_, body := do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if body["last_background_tick"] != nil || body["sensor_initialized"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	app := newApp(Deps{Monitor: &fakeMonitor{}})
	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	latest, ok := body["latest"].(map[string]any)
	if !ok || latest["temperature"] != 3.2 {
		t.Errorf("latest = %v", body["latest"])
	}
	if modes := body["modes"].(map[string]any); modes["manual"] != true {
		t.Errorf("modes = %v", modes)
	}
}

func TestSubmitReading(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		want      int
	}{
		{"valid", `{"temperature": 3.4, "humidity": 92.5}`, nil, http.StatusCreated},
		{"negative temperature allowed", `{"temperature": -12, "humidity": 0}`, nil, http.StatusCreated},
		{"humidity above range", `{"temperature": 3.4, "humidity": 101}`, nil, http.StatusBadRequest},
		{"humidity below range", `{"temperature": 3.4, "humidity": -0.5}`, nil, http.StatusBadRequest},
		{"missing temperature", `{"humidity": 92}`, nil, http.StatusBadRequest},
		{"not a number", `{"temperature": "cold", "humidity": 92}`, nil, http.StatusBadRequest},
		{"manual disabled", `{"temperature": 3, "humidity": 92}`, monitor.ErrManualDisabled, http.StatusForbidden},
		{"persistence failure", `{"temperature": 3, "humidity": 92}`, errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMonitor{submitErr: tt.submitErr}
			app := newApp(Deps{Monitor: m})

			code, body := do(t, app, jsonRequest(http.MethodPost, "/api/v1/readings", tt.body))
			if code != tt.want {
				t.Fatalf("status %d, want %d (body %v)", code, tt.want, body)
			}
			if code >= 400 && body["error"] != true {
				t.Errorf("error body = %v", body)
			}
			if tt.want == http.StatusBadRequest && len(m.submitted) != 0 {
				t.Error("invalid input reached the engine")
			}
		})
	}
}

func TestSubmitReading_Form(t *testing.T) {
	m := &fakeMonitor{}
	app := newApp(Deps{Monitor: m})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader("temperature=4.5&humidity=93"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	code, _ := do(t, app, req)
	if code != http.StatusCreated {
		t.Fatalf("status %d", code)
	}
	if len(m.submitted) != 1 || m.submitted[0] != [2]float64{4.5, 93} {
		t.Errorf("submitted = %v", m.submitted)
	}
}

func TestAcquire(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"disabled", monitor.ErrOnDemandDisabled, http.StatusForbidden},
		{"sensor unavailable", fmt.Errorf("after 3 attempts: %w", domain.ErrSensorUnavailable), http.StatusServiceUnavailable},
		{"store failure", errors.New("persist reading: locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(Deps{Monitor: &fakeMonitor{readErr: tt.err}})
			code, _ := do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/readings/acquire", nil))
			if code != tt.want {
				t.Errorf("status %d, want %d", code, tt.want)
			}
		})
	}
}

func TestAcquire_RateLimited(t *testing.T) {
	app := newApp(Deps{
		Monitor: &fakeMonitor{},
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})

	code, _ := do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/readings/acquire", nil))
	if code != http.StatusOK {
		t.Fatalf("first read: status %d", code)
	}
	code, _ = do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/readings/acquire", nil))
	if code != http.StatusTooManyRequests {
		t.Errorf("second read: status %d, want 429", code)
	}
}

func TestHistory(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	m := &fakeMonitor{readings: []domain.Reading{
		{Temperature: 2.1, Humidity: 91, Timestamp: base},
		{Temperature: 2.4, Humidity: 92.5, Timestamp: base.Add(5 * time.Minute)},
	}}
	app := newApp(Deps{Monitor: m})

	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/readings/history", nil))
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if m.historyN != defaultHistoryLimit {
		t.Errorf("default limit = %d", m.historyN)
	}
	labels := body["labels"].([]any)
	if len(labels) != 2 || labels[0] != "2025-06-01T08:00:00" || labels[1] != "2025-06-01T08:05:00" {
		t.Errorf("labels = %v", labels)
	}
	if temps := body["temperatures"].([]any); temps[1] != 2.4 {
		t.Errorf("temperatures = %v", temps)
	}
	if hums := body["humidities"].([]any); hums[1] != 92.5 {
		t.Errorf("humidities = %v", hums)
	}
}

func TestHistory_Limit(t *testing.T) {
	tests := []struct {
		query string
		want  int
		n     int
	}{
		{"?limit=20", http.StatusOK, 20},
		{"?limit=1000", http.StatusOK, 1000},
		{"?limit=1001", http.StatusBadRequest, 0},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			m := &fakeMonitor{}
			app := newApp(Deps{Monitor: m})
			code, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/readings/history"+tt.query, nil))
			if code != tt.want {
				t.Fatalf("status %d, want %d", code, tt.want)
			}
			if m.historyN != tt.n {
				t.Errorf("limit passed = %d, want %d", m.historyN, tt.n)
			}
		})
	}
}

func TestAlerts(t *testing.T) {
	m := &fakeMonitor{}
	app := newApp(Deps{Monitor: m})

	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if m.alertsN != defaultAlertLimit {
		t.Errorf("default limit = %d", m.alertsN)
	}
	if alerts := body["alerts"].([]any); len(alerts) != 1 {
		t.Errorf("alerts = %v", alerts)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).ObserveAlert()
	app := newApp(Deps{Monitor: &fakeMonitor{}, Gatherer: reg})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "coldroom_alerts_total 1") {
		t.Errorf("status %d, body:\n%s", resp.StatusCode, raw)
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	app := newApp(Deps{Monitor: &fakeMonitor{}})
	code, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if code != http.StatusNotFound {
		t.Errorf("status %d, want 404", code)
	}
}
