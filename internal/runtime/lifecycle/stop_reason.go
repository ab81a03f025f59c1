// Package lifecycle names why a component was stopped so shutdown logs and
// the ops endpoint can tell a reload apart from a signal.
package lifecycle

type StopReason string

const (
	StopUnknown       StopReason = "unknown"
	StopSIGINT        StopReason = "sigint"
	StopSIGTERM       StopReason = "sigterm"
	StopFatalError    StopReason = "fatal_error"
	StopAppStop       StopReason = "app_stop"
	StopPluginDisable StopReason = "plugin_disable"
	StopConfigReload  StopReason = "config_reload"

	StopPluginQuarantine StopReason = "plugin_quarantine"
)

func (r StopReason) String() string {
	if r == "" {
		return string(StopUnknown)
	}
	return string(r)
}
