// Package router turns inbound chat messages into command invocations.
//
// Every message is first shown to the registered observers; messages that
// start with "/" are then matched against the command registry and executed
// on a bounded worker pool under a supervisor.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "deskmate/internal/runtime/supervisor"
	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

const (
	defaultTimeout = 30 * time.Second
	queueSize      = 256
)

type CommandManager struct {
	log     logx.Logger
	replier Replier

	mu        sync.RWMutex
	commands  map[string]*Command
	ordered   []*Command
	observers []Observer
	allowed   []int64
	menu      transport.CommandMenuUpdater

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, replier Replier) *CommandManager {
	return &CommandManager{
		log:      log,
		replier:  replier,
		commands: map[string]*Command{},
		jobs:     make(chan func(), queueSize),
	}
}

// SetAllowedUsers restricts commands to the given user ids. Empty allows
// everyone. Observers still see every message.
func (m *CommandManager) SetAllowedUsers(ids []int64) {
	m.mu.Lock()
	m.allowed = slices.Clone(ids)
	m.mu.Unlock()
}

// SetMenuUpdater publishes the command list to the platform menu on every
// registry change.
func (m *CommandManager) SetMenuUpdater(u transport.CommandMenuUpdater) {
	m.mu.Lock()
	m.menu = u
	m.mu.Unlock()
}

// Supervisor returns the worker pool supervisor while dispatching.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// SetRegistry replaces all commands and observers. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command, observers []Observer) {
	help := Command{
		Name:        "help",
		Description: "list commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	}
	all := append(slices.Clone(cmds), help)

	table := map[string]*Command{}
	ordered := make([]*Command, 0, len(all))
	for i := range all {
		c := &all[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := table[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name), logx.String("plugin", c.Plugin))
			continue
		}
		c.Name = name
		table[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := table[a]; a != "" && !taken {
				table[a] = c
			}
		}
	}
	slices.SortFunc(ordered, func(a, b *Command) int { return strings.Compare(a.Name, b.Name) })

	m.mu.Lock()
	m.commands = table
	m.ordered = ordered
	m.observers = slices.Clone(observers)
	menu := m.menu
	m.mu.Unlock()

	if menu != nil {
		items := make([]transport.BotCommand, 0, len(ordered))
		for _, c := range ordered {
			items = append(items, transport.BotCommand{Command: c.Name, Description: c.Description})
		}
		m.runMu.Lock()
		sup := m.sup
		m.runMu.Unlock()
		update := func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := menu.UpdateMenuCommands(ctx, items); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}
		if sup != nil {
			sup.Go0("menu.update", update)
		} else {
			go update(context.Background())
		}
	}
}

// DispatchLoop consumes messages until ctx is done or in is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, in <-chan transport.Message) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	m.runMu.Lock()
	m.sup, m.running = sup, true
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", workers))
	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.runMu.Lock()
		m.sup, m.running = nil, false
		m.runMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			m.Route(ctx, msg)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route runs observers for msg and enqueues the matching command, if any.
func (m *CommandManager) Route(ctx context.Context, msg transport.Message) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, obs := range observers {
		obs(ctx, msg)
	}

	word, _, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	m.mu.RLock()
	cmd := m.commands[word]
	allowed := m.allowed
	m.mu.RUnlock()

	if cmd == nil {
		m.reply(ctx, msg.ChannelID, "Unknown command. Try /help")
		return
	}
	if len(allowed) > 0 && !slices.Contains(allowed, msg.FromID) {
		m.log.Info("command rejected", logx.String("cmd", word), logx.Int64("from_id", msg.FromID))
		m.reply(ctx, msg.ChannelID, "unauthorized")
		return
	}

	req := NewRequest(msg, m.replier)
	req.Command = cmd.Name
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.String("channel_id", msg.ChannelID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		m.reply(ctx, msg.ChannelID, "busy, try again")
	}
}

func (m *CommandManager) reply(ctx context.Context, channelID, text string) {
	if m.replier == nil {
		return
	}
	if err := m.replier.Send(ctx, channelID, text); err != nil {
		m.log.Debug("reply failed", logx.String("channel_id", channelID), logx.Err(err))
	}
}

func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c := m.commands[name]
		if c == nil {
			return "Unknown command: /" + name
		}
		var b strings.Builder
		b.WriteString("/" + c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
		if c.Usage != "" {
			b.WriteString("\nUsage: " + c.Usage)
		}
		if len(c.Aliases) > 0 {
			b.WriteString("\nAliases: " + strings.Join(c.Aliases, ", "))
		}
		return b.String()
	}

	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range m.ordered {
		b.WriteString("\n/" + c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
	}
	return b.String()
}
