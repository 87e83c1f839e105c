package notifiers

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/alert"
)

// Config enables each transport by its address field; empty means disabled.
type Config struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
	Email   EmailConfig   `mapstructure:"email"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	SMS     SMSConfig     `mapstructure:"sms"`
}

// Build returns the enabled notifiers and a closer for the ones holding
// connections. Configuration errors are reported before any broker
// connection is opened.
func Build(cfg Config, logger *zap.Logger) ([]alert.Notifier, io.Closer, error) {
	var (
		out     []alert.Notifier
		closers closerList
	)

	if cfg.SMS.URL != "" && cfg.SMS.To == "" {
		return nil, nil, errors.New("sms notifier requires a recipient")
	}

	if cfg.Webhook.URL != "" {
		out = append(out, NewWebhook(cfg.Webhook))
	}
	if cfg.Email.Host != "" {
		e, err := NewEmail(cfg.Email)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, e)
	}
	if cfg.MQTT.BrokerURL != "" {
		m := NewMQTT(cfg.MQTT, logger)
		out = append(out, m)
		closers = append(closers, m)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k := NewKafka(cfg.Kafka)
		out = append(out, k)
		closers = append(closers, k)
	}
	if cfg.SMS.URL != "" {
		out = append(out, NewSMS(cfg.SMS))
	}

	for _, n := range out {
		logger.Info("notifier enabled", zap.String("type", n.Type()))
	}
	return out, closers, nil
}

type closerList []io.Closer

func (c closerList) Close() error {
	var errs []error
	for _, cl := range c {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
