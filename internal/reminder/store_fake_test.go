package reminder

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
)

// fakeStore is an in-memory EventStore with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	seq     int
	events  []Event
	listErr error
	updErr  error
	updates int
}

func (s *fakeStore) Create(_ context.Context, e Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = strconv.Itoa(s.seq)
	e.Delivered = false
	s.events = append(s.events, e)
	return e, nil
}

func (s *fakeStore) List(_ context.Context, f Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, &PersistenceError{Op: "list", Err: s.listErr}
	}
	var out []Event
	for _, e := range s.events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt < out[j].DueAt })
	return out, nil
}

func (s *fakeStore) Update(_ context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updErr != nil {
		return &PersistenceError{Op: "update", Err: s.updErr}
	}
	for i := range s.events {
		if s.events[i].ID != id {
			continue
		}
		if err := CheckPatch(s.events[i], p); err != nil {
			return err
		}
		if p.Delivered != nil {
			s.events[i].Delivered = *p.Delivered
			s.updates++
		}
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) get(id string) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			return e
		}
	}
	return Event{}
}

type sent struct {
	channel string
	text    string
}

// recorder is a Dispatcher that records sends and optionally fails them.
type recorder struct {
	mu   sync.Mutex
	msgs []sent
	fail error
	sig  chan struct{}
}

func (r *recorder) Send(_ context.Context, channelID, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, sent{channelID, text})
	fail := r.fail
	r.mu.Unlock()
	if r.sig != nil {
		select {
		case r.sig <- struct{}{}:
		default:
		}
	}
	return fail
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

var errBoom = errors.New("boom")
