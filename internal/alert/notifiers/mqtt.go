package notifiers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/alert"
)

var _ alert.Notifier = (*MQTT)(nil)

// MQTTConfig holds broker settings. Alerts go to <TopicPrefix>/alert.
type MQTTConfig struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MQTT publishes alerts to a broker through Eclipse Paho.
type MQTT struct {
	cfg    MQTTConfig
	client pahomqtt.Client
}

// NewMQTT connects to the broker. A failed initial connection is logged and
// left to paho's auto-reconnect.
func NewMQTT(cfg MQTTConfig, logger *zap.Logger) *MQTT {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "coldroom"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cold-storage-monitor"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	switch {
	case !token.WaitTimeout(cfg.Timeout):
		logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		logger.Warn("mqtt connection failed; will reconnect in background", zap.Error(token.Error()))
	default:
		logger.Info("mqtt connected to broker", zap.String("broker_url", cfg.BrokerURL))
	}

	return newMQTTWithClient(cfg, client)
}

func newMQTTWithClient(cfg MQTTConfig, client pahomqtt.Client) *MQTT {
	return &MQTT{cfg: cfg, client: client}
}

func (m *MQTT) Topic() string {
	return m.cfg.TopicPrefix + "/alert"
}

func (m *MQTT) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]any{
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	token := m.client.Publish(m.Topic(), m.cfg.QoS, m.cfg.Retain, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.Topic(), err)
	}
	return nil
}

func (m *MQTT) Type() string {
	return "mqtt"
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
