package app

import (
	"context"

	"github.com/coreos/go-systemd/v22/daemon"

	"deskmate/internal/reminder"
	logx "deskmate/pkg/logx"
)

// sdNotify is a no-op outside a systemd unit (NOTIFY_SOCKET unset).
var sdNotify = func(state string) { _, _ = daemon.SdNotify(false, state) }

func notifyReady()     { sdNotify(daemon.SdNotifyReady) }
func notifyReloading() { sdNotify(daemon.SdNotifyReloading) }
func notifyStopping()  { sdNotify(daemon.SdNotifyStopping) }

// startSystemd reports readiness and, when the unit sets WatchdogSec,
// pings the watchdog at half the interval while the app supervisor is healthy.
func (a *App) startSystemd() {
	notifyReady()

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	a.log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		reminder.Run(ctx, a.clk, interval/2, func(ctx context.Context) {
			if a.health(ctx) == nil {
				sdNotify(daemon.SdNotifyWatchdog)
			}
		})
	})
}
