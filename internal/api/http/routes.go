package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
	"github.com/i474232898/cold-storage-monitor/internal/monitor"
)

var validate = validator.New()

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultAlertLimit   = 10
	labelLayout         = "2006-01-02T15:04:05"
)

// Monitor is the engine behind the API; *monitor.Service satisfies it.
type Monitor interface {
	Status(ctx context.Context) (monitor.Status, error)
	SubmitManual(ctx context.Context, temperature, humidity float64) (monitor.CycleResult, error)
	ReadNow(ctx context.Context) (monitor.CycleResult, error)
	History(ctx context.Context, n int) ([]domain.Reading, error)
	Alerts(ctx context.Context, n int) ([]domain.AlertRecord, error)
	SensorState() monitor.SensorStatus
}

// BackgroundLoop reports on the scheduled monitoring loop.
type BackgroundLoop interface {
	LastTick() (time.Time, bool)
	State() monitor.Stage
	Running() bool
}

// Deps are the handlers' collaborators. Loop, Limiter and Gatherer are
// optional: a nil Loop reports no background tick, a nil Limiter does not
// throttle on-demand reads and a nil Gatherer disables /metrics.
type Deps struct {
	Monitor  Monitor
	Loop     BackgroundLoop
	Limiter  *rate.Limiter
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := handlers{Deps: d}

	app.Get("/health", h.health)
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/api/v1")
	v1.Get("/status", h.status)
	v1.Post("/readings", h.submitReading)
	v1.Post("/readings/acquire", h.acquire)
	v1.Get("/readings/history", h.history)
	v1.Get("/alerts", h.alerts)
}

type handlers struct {
	Deps
}

func (h handlers) health(c *fiber.Ctx) error {
	sensor := h.Monitor.SensorState()
	resp := fiber.Map{
		"ok":                   true,
		"sensor_initialized":   sensor.Initialized,
		"last_background_tick": nil,
	}
	if h.Loop != nil {
		if t, ok := h.Loop.LastTick(); ok {
			resp["last_background_tick"] = t.Format(time.RFC3339)
		}
		resp["scheduler"] = fiber.Map{
			"running": h.Loop.Running(),
			"state":   h.Loop.State(),
		}
	}
	return c.JSON(resp)
}

func (h handlers) status(c *fiber.Ctx) error {
	st, err := h.Monitor.Status(c.UserContext())
	if err != nil {
		h.Logger.Error("status lookup failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load status")
	}
	return c.JSON(fiber.Map{
		"latest":  st.Latest,
		"verdict": st.Verdict,
		"risk":    st.Risk,
		"score":   st.Score,
		"weather": st.Weather,
		"alerts":  st.Alerts,
		"sensor":  st.Sensor,
		"modes": fiber.Map{
			"manual":    st.Modes.ManualEntry,
			"on_demand": st.Modes.OnDemandRead,
			"scheduled": st.Modes.Scheduled,
		},
	})
}

// manualReading is the body of a manual entry, JSON or form-encoded.
type manualReading struct {
	Temperature *float64 `json:"temperature" form:"temperature" validate:"required"`
	Humidity    *float64 `json:"humidity" form:"humidity" validate:"required,gte=0,lte=100"`
}

func (h handlers) submitReading(c *fiber.Ctx) error {
	var req manualReading
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "temperature and humidity must be numbers")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	res, err := h.Monitor.SubmitManual(c.UserContext(), *req.Temperature, *req.Humidity)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(cycleResponse(res))
	case errors.Is(err, monitor.ErrManualDisabled):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidReading):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("manual reading failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to store reading")
	}
}

func (h handlers) acquire(c *fiber.Ctx) error {
	if h.Limiter != nil && !h.Limiter.Allow() {
		return fiber.NewError(fiber.StatusTooManyRequests, "sensor was read moments ago; try again shortly")
	}

	res, err := h.Monitor.ReadNow(c.UserContext())
	switch {
	case err == nil:
		return c.JSON(cycleResponse(res))
	case errors.Is(err, monitor.ErrOnDemandDisabled):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrSensorUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		h.Logger.Error("on-demand read failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to store reading")
	}
}

// limitQuery is the ?limit= parameter shared by the list endpoints.
type limitQuery struct {
	Limit int `query:"limit" validate:"gte=1,lte=1000"`
}

func parseLimit(c *fiber.Ctx, def int) (int, error) {
	q := limitQuery{Limit: def}
	if err := c.QueryParser(&q); err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be an integer")
	}
	if err := validate.Struct(q); err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
	}
	return q.Limit, nil
}

func (h handlers) history(c *fiber.Ctx) error {
	n, err := parseLimit(c, defaultHistoryLimit)
	if err != nil {
		return err
	}
	readings, err := h.Monitor.History(c.UserContext(), n)
	if err != nil {
		h.Logger.Error("history lookup failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load history")
	}

	labels := make([]string, len(readings))
	temps := make([]float64, len(readings))
	hums := make([]float64, len(readings))
	for i, r := range readings {
		labels[i] = r.Timestamp.UTC().Format(labelLayout)
		temps[i] = r.Temperature
		hums[i] = r.Humidity
	}
	return c.JSON(fiber.Map{
		"labels":       labels,
		"temperatures": temps,
		"humidities":   hums,
	})
}

func (h handlers) alerts(c *fiber.Ctx) error {
	n, err := parseLimit(c, defaultAlertLimit)
	if err != nil {
		return err
	}
	alerts, err := h.Monitor.Alerts(c.UserContext(), n)
	if err != nil {
		h.Logger.Error("alert lookup failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load alerts")
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}

func cycleResponse(res monitor.CycleResult) fiber.Map {
	return fiber.Map{
		"status":  "success",
		"id":      res.ID,
		"source":  res.Source,
		"reading": res.Reading,
		"verdict": res.Verdict,
		"risk":    res.Risk,
		"alert":   res.Alert,
	}
}
