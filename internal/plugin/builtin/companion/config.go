package companion

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"deskmate/internal/plugin"
	"deskmate/internal/reminder"
)

type Config struct {
	Schedule   ScheduleConfig   `json:"schedule"`
	Screenshot ScreenshotConfig `json:"screenshot"`
	Target     TargetConfig     `json:"target"`
	// DataDir is the plugin's private working directory.
	DataDir string `json:"data_dir"`
}

type ScheduleConfig struct {
	EventCheckSeconds int    `json:"event_check_seconds"`
	DailyPollSeconds  int    `json:"daily_poll_seconds"`
	Timezone          string `json:"timezone"` // IANA name; empty means local time
	// Daily replaces the built-in morning and night slots when non-empty.
	Daily []DailySlotConfig `json:"daily"`
}

type DailySlotConfig struct {
	Name string `json:"name"`
	Cron string `json:"cron"` // five-field cron, e.g. "0 9 * * *"
	Text string `json:"text"`
}

type ScreenshotConfig struct {
	Enabled         *bool    `json:"enabled"`
	IntervalMinutes int      `json:"interval_minutes"`
	CleanupFile     *bool    `json:"cleanup_file"`
	Dir             string   `json:"dir"`
	Command         []string `json:"command"` // argv with a {path} placeholder
	TimeoutSeconds  int      `json:"timeout_seconds"`
}

type TargetConfig struct {
	DefaultChannelID string `json:"default_channel_id"`
}

// settings is Config with defaults applied and values parsed.
type settings struct {
	eventInterval  time.Duration
	dailyInterval  time.Duration
	loc            *time.Location
	slots          []reminder.DailySlot
	shotEnabled    bool
	shotInterval   time.Duration
	shotMinutes    int
	shotCleanup    bool
	shotDir        string
	shotCommand    []string
	shotTimeout    time.Duration
	defaultChannel string
}

const defaultDataDir = "./data/companion"

func (c Config) resolve() (settings, error) {
	s := settings{
		eventInterval:  10 * time.Second,
		dailyInterval:  30 * time.Second,
		loc:            time.Local,
		shotEnabled:    true,
		shotMinutes:    30,
		shotCleanup:    true,
		shotTimeout:    20 * time.Second,
		defaultChannel: strings.TrimSpace(c.Target.DefaultChannelID),
		shotCommand:    c.Screenshot.Command,
	}

	switch {
	case c.Schedule.EventCheckSeconds < 0:
		return s, fmt.Errorf("schedule.event_check_seconds must be >= 0")
	case c.Schedule.DailyPollSeconds < 0:
		return s, fmt.Errorf("schedule.daily_poll_seconds must be >= 0")
	case c.Schedule.DailyPollSeconds > 60:
		// A slower poll could step over a slot minute entirely.
		return s, fmt.Errorf("schedule.daily_poll_seconds must be <= 60")
	case c.Screenshot.IntervalMinutes < 0:
		return s, fmt.Errorf("screenshot.interval_minutes must be >= 0")
	case c.Screenshot.TimeoutSeconds < 0:
		return s, fmt.Errorf("screenshot.timeout_seconds must be >= 0")
	}
	if c.Schedule.EventCheckSeconds > 0 {
		s.eventInterval = time.Duration(c.Schedule.EventCheckSeconds) * time.Second
	}
	if c.Schedule.DailyPollSeconds > 0 {
		s.dailyInterval = time.Duration(c.Schedule.DailyPollSeconds) * time.Second
	}
	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return s, fmt.Errorf("schedule.timezone: %w", err)
		}
		s.loc = loc
	}

	if len(c.Schedule.Daily) == 0 {
		s.slots = reminder.DefaultDailySlots()
	}
	seen := map[string]bool{}
	for i, d := range c.Schedule.Daily {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return s, fmt.Errorf("schedule.daily[%d].name is required", i)
		}
		if seen[name] {
			return s, fmt.Errorf("schedule.daily[%d]: duplicate slot %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(d.Text) == "" {
			return s, fmt.Errorf("schedule.daily[%d].text is required", i)
		}
		slot, err := reminder.NewDailySlot(name, d.Cron, d.Text)
		if err != nil {
			return s, fmt.Errorf("schedule.daily[%d]: %w", i, err)
		}
		s.slots = append(s.slots, slot)
	}

	if c.Screenshot.Enabled != nil {
		s.shotEnabled = *c.Screenshot.Enabled
	}
	if c.Screenshot.CleanupFile != nil {
		s.shotCleanup = *c.Screenshot.CleanupFile
	}
	if c.Screenshot.IntervalMinutes > 0 {
		s.shotMinutes = c.Screenshot.IntervalMinutes
	}
	s.shotInterval = time.Duration(s.shotMinutes) * time.Minute
	if c.Screenshot.TimeoutSeconds > 0 {
		s.shotTimeout = time.Duration(c.Screenshot.TimeoutSeconds) * time.Second
	}

	dataDir := strings.TrimSpace(c.DataDir)
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	s.shotDir = strings.TrimSpace(c.Screenshot.Dir)
	if s.shotDir == "" {
		s.shotDir = filepath.Join(dataDir, "screenshots")
	}
	return s, nil
}

func resolveRaw(raw json.RawMessage) (settings, error) {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return settings{}, err
	}
	return c.resolve()
}

// Location returns the timezone of a raw companion config block.
func Location(raw json.RawMessage) (*time.Location, error) {
	s, err := resolveRaw(raw)
	return s.loc, err
}

// DefaultChannel returns the configured fallback target, possibly empty.
func DefaultChannel(raw json.RawMessage) (string, error) {
	s, err := resolveRaw(raw)
	return s.defaultChannel, err
}
