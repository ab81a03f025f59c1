package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"deskmate/internal/config"
	"deskmate/internal/router"
	"deskmate/internal/runtime/lifecycle"
	rtsup "deskmate/internal/runtime/supervisor"
	logx "deskmate/pkg/logx"
)

const callTimeout = 10 * time.Second

// Registry receives the commands and observers of the running plugins.
type Registry interface {
	SetRegistry(cmds []router.Command, observers []router.Observer)
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
}

type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	deps Deps
	reg  Registry

	plugins  map[string]Plugin
	run      map[string]bool
	inited   map[string]bool
	lastHash map[string]uint64
	cfg      *config.Config

	// baseCtx outlives the call-scoped contexts passed to StartAll and
	// Apply; it is cancelled once the bound app context ends.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	pcancel    map[string]context.CancelFunc
	quarantine map[string]quarantineState
}

func NewManager(log logx.Logger, deps Deps, reg Registry) *Manager {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:        log,
		deps:       deps,
		reg:        reg,
		plugins:    map[string]Plugin{},
		run:        map[string]bool{},
		inited:     map[string]bool{},
		lastHash:   map[string]uint64{},
		cfg:        &config.Config{},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		pcancel:    map[string]context.CancelFunc{},
		quarantine: map[string]quarantineState{},
	}
}

func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.plugins[pl.Name()] = pl
	}
}

// BindContext ties the plugins' lifetime to appCtx. First bind wins.
func (pm *Manager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	context.AfterFunc(appCtx, baseCancel)
}

func (pm *Manager) StartAll(ctx context.Context, cfg *config.Config) {
	pm.BindContext(ctx)
	pm.reconcile(cfg)
}

// Apply reconciles a newly committed config.
func (pm *Manager) Apply(ctx context.Context, cfg *config.Config) {
	pm.BindContext(ctx)
	pm.reconcile(cfg)
}

func (pm *Manager) StopAll(ctx context.Context, reason lifecycle.StopReason) {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		names = append(names, name)
	}
	pm.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}
	pm.refreshRegistry()
}

// ValidateConfig runs the plugins' validators without applying anything.
func (pm *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	pm.mu.Lock()
	type target struct {
		name string
		v    ConfigValidator
		raw  config.PluginConfigRaw
	}
	var targets []target
	for name, p := range pm.plugins {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		if v, ok := p.(ConfigValidator); ok {
			targets = append(targets, target{name, v, raw})
		}
	}
	pm.mu.Unlock()

	for _, t := range targets {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.safeCall("plugin.validate."+t.name, func() error { return t.v.ValidateConfig(cctx, t.raw.Config) })
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: config validate: %w", t.name, err)
		}
	}
	return nil
}

func (pm *Manager) reconcile(cfg *config.Config) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	type op struct {
		name    string
		p       Plugin
		raw     config.PluginConfigRaw
		hash    uint64
		enabled bool
		running bool
	}
	pm.mu.Lock()
	pm.cfg = cfg
	ops := make([]op, 0, len(pm.plugins))
	for name, p := range pm.plugins {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{name: name, p: p, raw: raw, hash: configHash(raw.Config), enabled: ok && raw.Enabled, running: pm.run[name]})
	}
	pm.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].name < ops[j].name })

	for _, o := range ops {
		switch {
		case o.enabled && !o.running:
			pm.enable(o.name, o.p, o.raw, o.hash)
		case !o.enabled && o.running:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, lifecycle.StopPluginDisable)
			cancel()
		case o.enabled && o.running:
			pm.reconfigure(o.name, o.p, o.raw, o.hash)
		}
	}
	pm.refreshRegistry()
}

func (pm *Manager) enable(name string, p Plugin, raw config.PluginConfigRaw, hash uint64) {
	pm.mu.Lock()
	q, quarantined := pm.quarantine[name]
	if quarantined && q.rawHash != hash {
		delete(pm.quarantine, name)
		quarantined = false
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
	}
	needInit := !pm.inited[name]
	deps := pm.deps
	pm.mu.Unlock()
	if quarantined {
		pm.log.Debug("plugin enable skipped (quarantined)", logx.String("plugin", name))
		return
	}

	pctx, cancel := context.WithCancel(pm.baseCtx)
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		icancel()
		if err != nil {
			cancel()
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		ccancel()
		if err != nil {
			cancel()
			pm.setQuarantine(name, hash, fmt.Errorf("config validate: %w", err))
			return
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			cancel()
			pm.setQuarantine(name, hash, fmt.Errorf("config apply: %w", err))
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		cancel()
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pcancel[name] = cancel
	pm.lastHash[name] = hash
	pm.mu.Unlock()
	pm.log.Info("plugin started", logx.String("plugin", name))
}

func (pm *Manager) reconfigure(name string, p Plugin, raw config.PluginConfigRaw, hash uint64) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	pm.mu.Lock()
	unchanged := pm.lastHash[name] == hash
	pm.mu.Unlock()
	if unchanged {
		pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", name))
		return
	}

	quarantine := func(err error) {
		pm.setQuarantine(name, hash, err)
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, lifecycle.StopPluginQuarantine)
		cancel()
	}
	if v, ok := p.(ConfigValidator); ok {
		cctx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		cancel()
		if err != nil {
			quarantine(fmt.Errorf("config validate: %w", err))
			return
		}
	}
	cctx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
	cancel()
	if err != nil {
		quarantine(fmt.Errorf("config apply: %w", err))
		return
	}
	pm.mu.Lock()
	pm.lastHash[name] = hash
	pm.mu.Unlock()
	pm.log.Info("plugin config applied", logx.String("plugin", name))
}

func (pm *Manager) setQuarantine(name string, hash uint64, err error) {
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	if ok && prev.rawHash == hash && prev.err == err.Error() {
		pm.mu.Unlock()
		return
	}
	pm.quarantine[name] = quarantineState{rawHash: hash, err: err.Error(), since: time.Now()}
	pm.mu.Unlock()
	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.Err(err))
}

func (pm *Manager) stopOne(stopCtx context.Context, name string, reason lifecycle.StopReason) {
	pm.mu.Lock()
	p := pm.plugins[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	if cancel != nil {
		cancel()
	}
	// A misbehaving plugin must not block shutdown forever.
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pcancel, name)
	delete(pm.lastHash, name)
	pm.mu.Unlock()
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", reason.String()), logx.Duration("took", time.Since(start)))
}

// startWithTimeout calls Start(pctx) and cancels pctx if it does not return in time.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *Manager) refreshRegistry() {
	if pm.reg == nil {
		return
	}
	pm.mu.Lock()
	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		if pm.run[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	running := make([]Plugin, 0, len(names))
	for _, name := range names {
		running = append(running, pm.plugins[name])
	}
	pm.mu.Unlock()

	var (
		cmds []router.Command
		obs  []router.Observer
	)
	for _, p := range running {
		name := p.Name()
		_ = pm.safeCall("plugin.commands."+name, func() error {
			for _, c := range p.Commands() {
				c.Plugin = name
				cmds = append(cmds, c)
			}
			if op, ok := p.(ObserverProvider); ok {
				obs = append(obs, op.Observers()...)
			}
			return nil
		})
	}
	pm.reg.SetRegistry(cmds, obs)
}

// SetAppSupervisor records the process supervisor handed to plugins on Init.
func (pm *Manager) SetAppSupervisor(s *rtsup.Supervisor) {
	pm.mu.Lock()
	pm.deps.AppSupervisor = s
	pm.mu.Unlock()
}

// Supervisors returns the supervisors of running plugins keyed by name.
func (pm *Manager) Supervisors() map[string]*rtsup.Supervisor {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := map[string]*rtsup.Supervisor{}
	for name, p := range pm.plugins {
		if sp, ok := p.(SupervisorProvider); ok && pm.run[name] {
			if s := sp.Supervisor(); s != nil {
				out[name] = s
			}
		}
	}
	return out
}

// Snapshot reports every registered plugin, sorted by name.
func (pm *Manager) Snapshot(ctx context.Context) Snapshot {
	pm.mu.Lock()
	cfg := pm.cfg
	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	out := Snapshot{Time: time.Now(), Plugins: make([]Status, 0, len(names))}
	type probe struct {
		idx int
		hc  HealthChecker
	}
	var probes []probe
	for _, name := range names {
		p := pm.plugins[name]
		st := Status{Name: name, Enabled: cfg.Plugins[name].Enabled, Running: pm.run[name]}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined, st.QuarantineErr, st.QuarantinedAt = true, q.err, q.since
		}
		if sp, ok := p.(SupervisorProvider); ok && st.Running {
			st.Goroutines = sp.Supervisor().Counters().Active
		}
		if hc, ok := p.(HealthChecker); ok && st.Running {
			probes = append(probes, probe{len(out.Plugins), hc})
		}
		out.Plugins = append(out.Plugins, st)
	}
	pm.mu.Unlock()

	for _, pr := range probes {
		hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		status, err := pr.hc.Health(hctx)
		cancel()
		if err != nil {
			status += ": " + err.Error()
		}
		out.Plugins[pr.idx].Health = status
	}
	return out
}
