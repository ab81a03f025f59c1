package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"deskmate/internal/eventbus"
	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

var (
	ErrNoSender  = errors.New("notifier has no transport")
	ErrNoChannel = errors.New("notifier: empty channel id")
)

type Service struct {
	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
	adapter transport.Adapter

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem

	sent   atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{adapter: adapter, log: log, bus: bus}
	s.Apply(cfg)
	return s
}

// Apply swaps the limits. In-flight sends keep the old limiter.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.mu.Unlock()
}

// SetAdapter replaces the transport, e.g. after a transport config change.
func (s *Service) SetAdapter(a transport.Adapter) {
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()
}

// Send delivers text to channelID. It waits for the rate limiter, bounded by
// ctx, and gives the transport SendTimeout to finish.
func (s *Service) Send(ctx context.Context, channelID, text string) error {
	channelID = strings.TrimSpace(channelID)
	s.mu.RLock()
	adapter, limiter, cfg := s.adapter, s.limiter, s.cfg
	s.mu.RUnlock()

	err := func() error {
		if adapter == nil {
			return ErrNoSender
		}
		if channelID == "" {
			return ErrNoChannel
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
		_, err := adapter.SendText(sctx, channelID, text)
		return err
	}()

	s.record(cfg.HistorySize, channelID, text, err)
	data := map[string]any{"channel_id": channelID}
	if err != nil {
		s.failed.Add(1)
		data["error"] = err.Error()
		s.publish(eventbus.NotifyFailed, data)
		return err
	}
	s.sent.Add(1)
	s.publish(eventbus.NotifySent, data)
	return nil
}

func (s *Service) publish(typ string, data map[string]any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (s *Service) record(limit int, channelID, text string, err error) {
	item := HistoryItem{At: time.Now(), ChannelID: channelID, Text: truncate(text, 200)}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if over := len(s.history) - limit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}

// History returns recent sends, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Stats returns the number of successful and failed sends since start.
func (s *Service) Stats() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
