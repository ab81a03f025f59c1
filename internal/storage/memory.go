package storage

import (
	"context"
	"sync"

	"deskmate/internal/reminder"
)

// Memory is a process-local EventStore.
type Memory struct {
	mu     sync.RWMutex
	events []reminder.Event
	index  map[string]int
	closed bool
}

func NewMemory() *Memory {
	return &Memory{index: map[string]int{}}
}

func (m *Memory) Create(_ context.Context, e reminder.Event) (reminder.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return reminder.Event{}, persistErr("create", ErrClosed)
	}
	e = prepareCreate(e)
	m.index[e.ID] = len(m.events)
	m.events = append(m.events, e)
	return e, nil
}

func (m *Memory) List(_ context.Context, f reminder.Filter) ([]reminder.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, persistErr("list", ErrClosed)
	}
	out := make([]reminder.Event, 0, len(m.events))
	for _, e := range m.events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sortByDue(out)
	return out, nil
}

func (m *Memory) Update(_ context.Context, id string, p reminder.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return persistErr("update", ErrClosed)
	}
	i, ok := m.index[id]
	if !ok {
		return nil
	}
	if err := reminder.CheckPatch(m.events[i], p); err != nil {
		return err
	}
	if p.Delivered != nil {
		m.events[i].Delivered = *p.Delivered
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) get(id string) (reminder.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return reminder.Event{}, false
	}
	return m.events[i], true
}

// restore inserts events verbatim, keeping their IDs and delivered state.
func (m *Memory) restore(events []reminder.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if i, ok := m.index[e.ID]; ok {
			m.events[i] = e
			continue
		}
		m.index[e.ID] = len(m.events)
		m.events = append(m.events, e)
	}
}

func (m *Memory) markDelivered(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.index[id]; ok {
		m.events[i].Delivered = true
	}
}
