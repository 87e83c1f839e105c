package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/alert"
	"github.com/i474232898/cold-storage-monitor/internal/alert/notifiers"
	"github.com/i474232898/cold-storage-monitor/internal/config"
	"github.com/i474232898/cold-storage-monitor/internal/metrics"
	"github.com/i474232898/cold-storage-monitor/internal/monitor"
	"github.com/i474232898/cold-storage-monitor/internal/sensor"
	"github.com/i474232898/cold-storage-monitor/internal/store"
	"github.com/i474232898/cold-storage-monitor/internal/weather"
	"github.com/i474232898/cold-storage-monitor/internal/weather/providers"
)

// app holds every long-lived component built from configuration.
type app struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	source     *sensor.Source
	store      store.HistoryStore
	dispatcher *alert.Dispatcher
	notifiers  io.Closer
	monitor    *monitor.Service
}

// loadConfig reads configuration and builds the logger.
func loadConfig() (*config.AppConfig, *zap.Logger, error) {
	v, err := config.NewViper(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	src, err := a.newSource()
	if err != nil {
		return err
	}
	a.source = src

	if a.store, err = openStore(ctx, cfg.Store); err != nil {
		return err
	}
	a.logger.Info("history store ready", zap.String("driver", cfg.Store.Driver), zap.String("path", cfg.Store.Path))

	ns, closer, err := notifiers.Build(cfg.Notify.Config, a.logger)
	if err != nil {
		return fmt.Errorf("configuring notifiers: %w", err)
	}
	a.notifiers = closer
	a.dispatcher = alert.NewDispatcher(ns, cfg.Notify.Timeout, a.metrics, a.logger)
	if types := a.dispatcher.Types(); len(types) == 0 {
		a.logger.Warn("no notifiers configured; alerts are only logged and stored")
	} else {
		a.logger.Info("alert dispatch ready", zap.Strings("notifiers", types))
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	opts := monitor.Options{
		ManualEntry:  cfg.Manual.Enabled,
		OnDemandRead: cfg.OnDemand.Enabled,
		Scheduled:    cfg.Scheduler.Enabled,
		Retries:      cfg.Sensor.Retries,
		RetryDelay:   cfg.Sensor.RetryDelay,
		Location:     loc,
	}
	a.monitor = monitor.NewService(monitor.Deps{
		Sensor:     a.source,
		Weather:    a.newWeather(),
		Dispatcher: a.dispatcher,
		Store:      a.store,
		Metrics:    a.metrics,
		Logger:     a.logger,
	}, opts)
	return nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.HistoryStore, error) {
	if sc.Driver == "memory" {
		return store.NewMemoryStore(sc.MaxHistory), nil
	}
	s, err := store.NewSQLiteStore(ctx, sc.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	return s, nil
}

func (a *app) newSource() (*sensor.Source, error) {
	sc := a.cfg.Sensor
	open, err := sensor.OpenerFor(sc.Driver)
	if err != nil {
		return nil, err
	}
	descs, err := sensor.ParseDescriptors(sc.Devices)
	if err != nil {
		return nil, err
	}

	cfg := sensor.Config{
		Descriptors:     descs,
		Open:            open,
		PreferSecondary: sc.PreferSecondary,
		SettleDelay:     sc.SettleDelay,
	}
	if sc.PreferSecondary {
		cfg.Secondary = sensor.NewOneWireProbe(sc.OneWireDir)
	}
	a.logger.Info("sensor configured",
		zap.String("driver", sc.Driver),
		zap.Int("candidates", len(descs)),
		zap.Bool("prefer_secondary", sc.PreferSecondary),
	)
	return sensor.NewSource(cfg, a.metrics, a.logger), nil
}

// newWeather enables each provider whose credentials are present. Open-Meteo
// needs coordinates, so it only joins when a geocoder key is configured.
func (a *app) newWeather() *weather.Service {
	wc := a.cfg.Weather
	client := &http.Client{Timeout: wc.Timeout}

	var (
		provs []weather.Provider
		opts  = []weather.Option{weather.WithTimeout(wc.Timeout)}
	)
	if wc.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(client, wc.OpenWeatherAPIKey))
	}
	if wc.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(client, wc.WeatherAPIKey))
	}
	if wc.GeocoderAPIKey != "" {
		opts = append(opts, weather.WithResolver(providers.NewGoogleGeocoder(wc.GeocoderAPIKey)))
		if wc.OpenMeteo {
			provs = append(provs, providers.NewOpenMeteoProvider(client))
		}
	}

	names := make([]string, 0, len(provs))
	for _, p := range provs {
		names = append(names, p.Name())
	}
	if len(provs) == 0 {
		a.logger.Warn("no weather providers configured; readings are evaluated without ambient adjustment")
	} else {
		a.logger.Info("weather providers enabled", zap.Strings("providers", names))
	}
	return weather.NewService(provs, a.metrics, a.logger, opts...)
}

// Close waits for in-flight notifications, then releases the sensor, the
// store and notifier connections.
func (a *app) Close() error {
	var errs []error
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.notifiers != nil {
		errs = append(errs, a.notifiers.Close())
	}
	if a.source != nil {
		errs = append(errs, a.source.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
