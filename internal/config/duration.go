package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseDurationField reads one of the timeout keys (notifier.send_timeout,
// storage.busy_timeout, ops.*_timeout, mqtt.connect_timeout and so on).
// Values use Go duration syntax ("15s", "1m30s"). A bare number counts as
// seconds, matching the *_seconds keys of the companion plugin, so
// "send_timeout: 15" does not silently mean 15ns. Empty means unset (0).
// path names the key in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(secs) || math.Abs(secs) > maxSeconds {
			return 0, fmt.Errorf("%s: invalid duration %q (want e.g. \"15s\" or a number of seconds)", path, raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// unset or zero value, for keys where 0 would disable a timeout.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
