package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskmate/internal/bridge/mqtt"
	"deskmate/internal/config"
	"deskmate/internal/notifier"
	"deskmate/internal/observability/ops"
	"deskmate/internal/reminder"
	"deskmate/internal/storage"
	logx "deskmate/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Channel: logx.ChannelConfig{
			Enabled:    lc.Channel.Enabled,
			ChannelID:  strings.TrimSpace(lc.Channel.ChannelID),
			MinLevel:   lc.Channel.MinLevel,
			RatePerSec: lc.Channel.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			path = "./data/deskmate.db"
		}
	case "file":
		if path == "" {
			path = "./data/events.json"
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	if sc.MaxConns < 0 {
		return storage.Config{}, fmt.Errorf("storage.max_conns must be >= 0")
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    int32(sc.MaxConns),
	}, nil
}

// OpenStore opens the event store configured in cfg, for tools that work on
// the store without running the app.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (reminder.EventStore, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, sc, log)
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	timeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  nc.RatePerSec,
		Burst:       nc.Burst,
		SendTimeout: timeout,
		HistorySize: nc.HistorySize,
	}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second); err != nil {
		return ops.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 35*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

// mapMQTTConfig reports enabled=false when the bridge is off.
func mapMQTTConfig(cfg *config.Config) (mqtt.Config, bool, error) {
	mc := cfg.MQTT
	if !mc.Enabled {
		return mqtt.Config{}, false, nil
	}
	if strings.TrimSpace(mc.Broker) == "" {
		return mqtt.Config{}, false, fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if mc.QoS < 0 || mc.QoS > 2 {
		return mqtt.Config{}, false, fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	timeout, err := config.ParseDurationField("mqtt.connect_timeout", mc.ConnectTimeout)
	if err != nil {
		return mqtt.Config{}, false, err
	}
	return mqtt.Config{
		Broker:         strings.TrimSpace(mc.Broker),
		ClientID:       strings.TrimSpace(mc.ClientID),
		Username:       mc.Username,
		Password:       mc.Password,
		TopicPrefix:    strings.TrimSpace(mc.TopicPrefix),
		QoS:            byte(mc.QoS),
		Retained:       mc.Retained,
		ConnectTimeout: timeout,
	}, true, nil
}

func transportDriver(cfg *config.Config) string {
	d := strings.ToLower(strings.TrimSpace(cfg.Transport.Driver))
	if d == "" {
		return "telegram"
	}
	return d
}
