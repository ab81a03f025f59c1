package config

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "deskmate/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, safe log
// fields describing them (never secrets) and the names of plugins whose
// enable flag or config blob changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.channel_enabled", newCfg.Logging.Channel.Enabled),
		)
	}

	// Transport (never log token)
	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", newCfg.Transport.Driver),
			logx.String("transport.telegram.poll_timeout", strings.TrimSpace(newCfg.Transport.Telegram.PollTimeout)),
			logx.Int("transport.telegram.allowed_users", len(newCfg.Transport.Telegram.AllowedUserIDs)),
			logx.Bool("transport.telegram.token_changed", oldCfg.Transport.Telegram.Token != newCfg.Transport.Telegram.Token),
		)
	}

	// Storage (never log dsn)
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.burst", newCfg.Notifier.Burst),
			logx.String("notifier.send_timeout", newCfg.Notifier.SendTimeout),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	// MQTT (never log password)
	if oldCfg.MQTT != newCfg.MQTT {
		changed = append(changed, "mqtt")
		attrs = append(attrs,
			logx.Bool("mqtt.enabled", newCfg.MQTT.Enabled),
			logx.String("mqtt.broker", newCfg.MQTT.Broker),
			logx.String("mqtt.topic_prefix", newCfg.MQTT.TopicPrefix),
		)
	}

	plugins := changedPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(plugins) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs, logx.String("plugins.changed", strings.Join(plugins, ",")))
	}
	return changed, attrs, plugins
}

func changedPlugins(a, b map[string]PluginConfigRaw) []string {
	names := map[string]struct{}{}
	for k := range a {
		names[k] = struct{}{}
	}
	for k := range b {
		names[k] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for name := range names {
		pa, okA := a[name]
		pb, okB := b[name]
		if okA != okB || pa.Enabled != pb.Enabled || !bytes.Equal(compactJSON(pa.Config), compactJSON(pb.Config)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func compactJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
