// Package config loads application settings from defaults, an optional
// config file, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/cold-storage-monitor/internal/alert/notifiers"
	"github.com/i474232898/cold-storage-monitor/internal/weather"
)

const appName = "cold-storage-monitor"

type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Manual    ToggleConfig    `mapstructure:"manual"`
	OnDemand  OnDemandConfig  `mapstructure:"ondemand"`
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Store     StoreConfig     `mapstructure:"store"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type ToggleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// OnDemandConfig limits how often a client may trigger a hardware read.
type OnDemandConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"` // reads per second
	Burst   int     `mapstructure:"burst"`
}

type SensorConfig struct {
	Driver          string        `mapstructure:"driver"`
	Devices         string        `mapstructure:"devices"`
	PreferSecondary bool          `mapstructure:"prefer_secondary"`
	OneWireDir      string        `mapstructure:"onewire_dir"`
	Retries         int           `mapstructure:"retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
}

type WeatherConfig struct {
	Location          string        `mapstructure:"location"`
	Timeout           time.Duration `mapstructure:"timeout"`
	OpenWeatherAPIKey string        `mapstructure:"openweather_api_key"`
	WeatherAPIKey     string        `mapstructure:"weatherapi_api_key"`
	GeocoderAPIKey    string        `mapstructure:"geocoder_api_key"`
	OpenMeteo         bool          `mapstructure:"openmeteo"`
}

type StoreConfig struct {
	Driver        string        `mapstructure:"driver"` // sqlite or memory
	Path          string        `mapstructure:"path"`
	Retention     time.Duration `mapstructure:"retention"` // 0 keeps everything
	PruneInterval time.Duration `mapstructure:"prune_interval"`
	MaxHistory    int           `mapstructure:"max_history"` // memory driver only, 0 = unlimited
}

type NotifyConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	notifiers.Config `mapstructure:",squash"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultStorePath is the SQLite file under the XDG data home.
func DefaultStorePath() string {
	return filepath.Join(xdg.DataHome, appName, "history.db")
}

// NewViper builds a Viper instance with every default registered, the
// environment bound and, when present, a config file read. configPath may
// be empty, in which case cold-storage-monitor.{yaml,toml,json} is looked
// up in the working directory and the XDG config home.
func NewViper(configPath string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys kept under their historical names.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("weather.openweather_api_key", "OPENWEATHER_API_KEY")
	_ = v.BindEnv("weather.weatherapi_api_key", "WEATHERAPI_API_KEY")
	_ = v.BindEnv("weather.geocoder_api_key", "GEOCODER_API_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(appName)
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, appName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("manual.enabled", true)
	v.SetDefault("ondemand.enabled", true)
	v.SetDefault("ondemand.rate", 0.5)
	v.SetDefault("ondemand.burst", 1)

	v.SetDefault("sensor.driver", "simulated")
	v.SetDefault("sensor.devices", "D17=/sys/bus/iio/devices/iio:device0,D4=/sys/bus/iio/devices/iio:device1")
	v.SetDefault("sensor.prefer_secondary", false)
	v.SetDefault("sensor.onewire_dir", "/sys/bus/w1/devices")
	v.SetDefault("sensor.retries", 3)
	v.SetDefault("sensor.retry_delay", "2s")
	v.SetDefault("sensor.settle_delay", "1s")

	v.SetDefault("weather.location", "Kinnaur,IN")
	v.SetDefault("weather.timeout", "8s")
	v.SetDefault("weather.openweather_api_key", "")
	v.SetDefault("weather.weatherapi_api_key", "")
	v.SetDefault("weather.geocoder_api_key", "")
	v.SetDefault("weather.openmeteo", true)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.retention", "2160h")
	v.SetDefault("store.prune_interval", "1h")
	v.SetDefault("store.max_history", 0)

	v.SetDefault("notify.timeout", "15s")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.secret", "")
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.to", []string{})
	v.SetDefault("notify.mqtt.broker_url", "")
	v.SetDefault("notify.mqtt.client_id", appName)
	v.SetDefault("notify.mqtt.username", "")
	v.SetDefault("notify.mqtt.password", "")
	v.SetDefault("notify.mqtt.topic_prefix", "coldroom")
	v.SetDefault("notify.mqtt.qos", 1)
	v.SetDefault("notify.mqtt.retain", false)
	v.SetDefault("notify.mqtt.timeout", "10s")
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "coldroom.alerts")
	v.SetDefault("notify.kafka.key", "coldroom")
	v.SetDefault("notify.sms.url", "")
	v.SetDefault("notify.sms.token", "")
	v.SetDefault("notify.sms.to", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load decodes v into an AppConfig and validates it.
func Load(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	// A single comma-separated env value arrives as one element.
	cfg.Notify.Kafka.Brokers = splitList(cfg.Notify.Kafka.Brokers)
	cfg.Notify.Email.To = splitList(cfg.Notify.Email.To)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("invalid scheduler.interval %s: must be positive", c.Scheduler.Interval)
	}
	if c.Sensor.Retries < 1 {
		return fmt.Errorf("invalid sensor.retries %d: must be at least 1", c.Sensor.Retries)
	}
	if c.OnDemand.Rate < 0 || c.OnDemand.Burst < 0 {
		return errors.New("invalid ondemand rate limit: rate and burst must not be negative")
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("invalid store.retention %s", c.Store.Retention)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store.driver %q: must be \"sqlite\" or \"memory\"", c.Store.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location parses weather.location.
func (c *AppConfig) Location() (weather.Location, error) {
	loc, err := weather.ParseLocation(c.Weather.Location)
	if err != nil {
		return weather.Location{}, fmt.Errorf("invalid weather.location: %w", err)
	}
	return loc, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
