package config

import (
	"fmt"
	"strings"
)

// Validate checks the global sections. Plugin blocks are validated by the
// plugins themselves.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "", "telegram":
		if strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			return fmt.Errorf("transport.telegram.token is required for the telegram driver")
		}
	case "console":
	default:
		return fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}
	if _, err := ParseDurationField("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	case "memory":
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.Storage.MaxConns < 0 {
		return fmt.Errorf("storage.max_conns must be >= 0")
	}

	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.Burst < 0 || cfg.Notifier.HistorySize < 0 {
		return fmt.Errorf("notifier: rate_per_sec, burst and history_size must be >= 0")
	}
	if _, err := ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout); err != nil {
		return err
	}

	for _, f := range []struct{ path, raw string }{
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
		{"mqtt.connect_timeout", cfg.MQTT.ConnectTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.Logging.Channel.Enabled && strings.TrimSpace(cfg.Logging.Channel.ChannelID) == "" {
		return fmt.Errorf("logging.channel.channel_id is required when channel logging is enabled")
	}
	return nil
}
