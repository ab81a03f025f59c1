package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"deskmate/internal/bridge/mqtt"
	"deskmate/internal/config"
	"deskmate/internal/eventbus"
	"deskmate/internal/metrics"
	"deskmate/internal/notifier"
	"deskmate/internal/observability/ops"
	"deskmate/internal/plugin"
	"deskmate/internal/plugin/builtin/companion"
	"deskmate/internal/plugin/builtin/status"
	"deskmate/internal/reminder"
	"deskmate/internal/router"
	rtsup "deskmate/internal/runtime/supervisor"
	"deskmate/internal/storage"
	"deskmate/internal/transport"
	"deskmate/internal/transport/console"
	"deskmate/internal/transport/telegram"
	logx "deskmate/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	clk  clock.Clock

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store reminder.EventStore

	adapter transport.Adapter
	notif   *notifier.Service
	metrics *metrics.Recorder
	ops     *ops.Service

	mqttMu  sync.Mutex
	mqttSup *rtsup.Supervisor

	cmdm *router.CommandManager
	pm   *plugin.Manager

	startedAt time.Time
	updates   chan transport.Message
}

type options struct {
	in  io.Reader
	out io.Writer
	clk clock.Clock

	extra []plugin.Plugin
}

type Option func(*options)

// WithConsoleIO replaces stdin and stdout for the console transport.
func WithConsoleIO(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.in, o.out = in, out }
}

func WithClock(clk clock.Clock) Option { return func(o *options) { o.clk = clk } }

// WithPlugins registers plugins next to the built-in ones.
func WithPlugins(p ...plugin.Plugin) Option {
	return func(o *options) { o.extra = append(o.extra, p...) }
}

func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.clk == nil {
		o.clk = clock.New()
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// The channel sink has no sender until the notifier exists.
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	ad, err := newAdapter(cfg, log, o)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)
	logSvc.SetSender(notif)

	reg := metrics.NewRegistry()
	rec, err := metrics.New(reg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), notif)
	cmdm.SetAllowedUsers(cfg.Transport.Telegram.AllowedUserIDs)
	if mu, ok := ad.(transport.CommandMenuUpdater); ok {
		cmdm.SetMenuUpdater(mu)
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		clk:       o.clk,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		notif:     notif,
		metrics:   rec,
		cmdm:      cmdm,
		startedAt: o.clk.Now(),
		updates:   make(chan transport.Message, 256),
	}

	a.pm = plugin.NewManager(log.With(logx.String("comp", "plugins")), plugin.Deps{
		Logger:      log,
		Clock:       o.clk,
		Store:       store,
		StoreDriver: sc.Driver,
		Route:       reminder.NewRouteState(),
		Dispatcher:  notif,
		Metrics:     rec,
		Bus:         bus,
		StartedAt:   a.startedAt,
		Plugins:     func(ctx context.Context) plugin.Snapshot { return a.pm.Snapshot(ctx) },
	}, cmdm)
	a.pm.Register(companion.New(), status.New())
	a.pm.Register(o.extra...)

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.ops = ops.New(opsCfg, ops.Sources{
		Gatherer:    reg,
		Health:      a.health,
		Supervisors: a.supervisors,
		Plugins:     func(ctx context.Context) any { return a.pm.Snapshot(ctx) },
	}, log.With(logx.String("comp", "ops")))

	return a, nil
}

func newAdapter(cfg *config.Config, log logx.Logger, o options) (transport.Adapter, error) {
	switch transportDriver(cfg) {
	case "console":
		var copts []console.Option
		if o.in != nil || o.out != nil {
			copts = append(copts, console.WithIO(o.in, o.out))
		}
		return console.New(cfg.Transport.Console.ChannelID, log.With(logx.String("comp", "console")), copts...), nil
	case "telegram":
		poll, err := config.ParseDurationOrDefault("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:       cfg.Transport.Telegram.Token,
			PollTimeout: poll,
		}, log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health(context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

// supervisors lists the runtime supervisors for /debug/supervisor.
func (a *App) supervisors() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{
		"app":      a.sup.Snapshot(),
		"commands": a.cmdm.Supervisor().Snapshot(),
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		if s := sp.Supervisor(); s != nil {
			out["transport."+a.adapter.Name()] = s.Snapshot()
		}
	}
	if s := a.ops.Supervisor(); s != nil {
		out["ops"] = s.Snapshot()
	}
	a.mqttMu.Lock()
	if a.mqttSup != nil {
		out["mqtt"] = a.mqttSup.Snapshot()
	}
	a.mqttMu.Unlock()
	for name, s := range a.pm.Supervisors() {
		out["plugin."+name] = s.Snapshot()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithClock(a.clk), rtsup.WithCancelOnError(true))
	a.pm.SetAppSupervisor(a.sup)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapMQTTConfig(cfg); err != nil {
			return err
		}
		return a.pm.ValidateConfig(c, cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start %s transport: %w", a.adapter.Name(), err)
	}

	cfg := a.cfgm.Get()
	a.ops.Start(a.sup.Context())
	a.startMQTT(cfg)

	a.pm.StartAll(a.sup.Context(), cfg)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128, "")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug only: the screenshot loop publishes every few minutes.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.startSystemd()
	a.log.Info("app started",
		logx.String("transport", a.adapter.Name()),
		logx.String("config", a.cfgPath),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	notifyReloading()
	defer notifyReady()

	sections, attrs, pluginChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
	}

	for _, s := range sections {
		switch s {
		case "storage", "transport":
			if s == "transport" && transportDriver(oldCfg) == transportDriver(newCfg) &&
				oldCfg.Transport.Telegram.Token == newCfg.Transport.Telegram.Token {
				continue
			}
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.cmdm.SetAllowedUsers(newCfg.Transport.Telegram.AllowedUserIDs)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if oc, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	if oldCfg == nil || oldCfg.MQTT != newCfg.MQTT {
		a.stopMQTT(ctx)
		a.startMQTT(newCfg)
	}

	a.pm.Apply(ctx, newCfg)

	a.log.Info("config reloaded", fields...)
}

// startMQTT runs the broker bridge under its own supervisor so a config
// change can replace it without touching the app supervisor.
func (a *App) startMQTT(cfg *config.Config) {
	mc, enabled, err := mapMQTTConfig(cfg)
	if err != nil {
		a.log.Warn("invalid mqtt config; bridge disabled", logx.Err(err))
		return
	}
	if !enabled {
		return
	}
	log := a.log.With(logx.String("comp", "mqtt"))
	b := mqtt.New(mc, a.bus, log)

	a.mqttMu.Lock()
	defer a.mqttMu.Unlock()
	if a.mqttSup != nil {
		return
	}
	a.mqttSup = rtsup.New(a.sup.Context(), rtsup.WithLogger(log), rtsup.WithClock(a.clk))
	a.mqttSup.GoRestart("mqtt.bridge", b.Run,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithPublishFirstError(true),
	)
	log.Info("mqtt bridge started", logx.String("broker", mc.Broker), logx.String("prefix", b.Topic("")))
}

func (a *App) stopMQTT(ctx context.Context) {
	a.mqttMu.Lock()
	sup := a.mqttSup
	a.mqttSup = nil
	a.mqttMu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Debug("mqtt stop", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason.String()))
	notifyStopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, time.Until(dl))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max(limit, 0))
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it does not, record when it finally returns.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Plugins first: the reminder loops send through the notifier.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("mqtt", time.Second, func(c context.Context) error { a.stopMQTT(c); return nil })
	step("commands", 2*time.Second, func(c context.Context) error {
		if s := a.cmdm.Supervisor(); s != nil {
			return s.Wait(c)
		}
		return nil
	})
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally wait for supervised goroutines (config watch/reload, dispatcher).
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.String("reason", reason.String()))
	a.logs.SetSender(nil)
	return a.logs.Close()
}
