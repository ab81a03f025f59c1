package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Transport TransportConfig `json:"transport"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
	MQTT      MQTTConfig      `json:"mqtt,omitempty"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Channel LoggingChannel `json:"channel,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChannel mirrors WARN+ log lines into a chat channel through the
// active transport.
type LoggingChannel struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TransportConfig selects the chat transport.
//
// Driver values:
//   - "telegram": long-polling Telegram bot
//   - "console": stdin/stdout, useful on a desktop or for local testing
type TransportConfig struct {
	Driver   string         `json:"driver"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Console  ConsoleConfig  `json:"console,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// AllowedUserIDs restricts who may run commands. Empty allows everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
}

type ConsoleConfig struct {
	// ChannelID is reported as the channel of every line read from stdin.
	ChannelID string `json:"channel_id,omitempty"`
}

// StorageConfig controls the event store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/deskmate.db" }
//
// Driver values: "memory", "file", "sqlite", "postgres". Empty means "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxConns    int    `json:"max_conns,omitempty"`    // postgres pool size
}

// NotifierConfig controls outbound sends.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Burst       int    `json:"burst,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// OpsConfig controls the optional operations HTTP server (health, metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// MQTTConfig controls the optional broker bridge that mirrors engine events.
type MQTTConfig struct {
	Enabled        bool   `json:"enabled"`
	Broker         string `json:"broker,omitempty"` // e.g. "tcp://127.0.0.1:1883"
	ClientID       string `json:"client_id,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"` // do not log
	TopicPrefix    string `json:"topic_prefix,omitempty"`
	QoS            int    `json:"qos,omitempty"`
	Retained       bool   `json:"retained,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in plugin blocks are caught
// during reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
