package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"deskmate/internal/reminder"
	logx "deskmate/pkg/logx"
)

// fileStore keeps all events in memory and persists them as
//
//   - <prefix>.events.snapshot.json (compacted state)
//   - <prefix>.events.journal.jsonl (append-only changes since the snapshot)
//
// The journal is folded into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	mem      *Memory
	snapPath string
	journal  *os.File
	lock     *os.File
	writes   int
}

const compactEvery = 256

type journalRecord struct {
	Op    string          `json:"op"` // "create" | "deliver"
	Event *reminder.Event `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, persistErr("open", errors.New("storage.path is required for the file driver"))
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persistErr("open", err)
	}

	snapPath := prefix + ".events.snapshot.json"
	journalPath := prefix + ".events.journal.jsonl"

	// A second process would keep its own copy in memory and its compaction
	// would erase the other's writes.
	lock, err := lockFile(prefix + ".events.lock")
	if err != nil {
		return nil, persistErr("open", err)
	}
	fail := func(err error) (*fileStore, error) {
		_ = lock.Close()
		return nil, persistErr("open", err)
	}

	mem := NewMemory()
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail(err)
	}
	skipped, err := replayJournal(journalPath, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail(err)
	}
	if skipped > 0 {
		log.Warn("skipped unreadable journal lines", logx.Int("lines", skipped), logx.String("path", journalPath))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return fail(err)
	}
	return &fileStore{log: log, mem: mem, snapPath: snapPath, journal: jf, lock: lock}, nil
}

func (s *fileStore) Create(ctx context.Context, e reminder.Event) (reminder.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Event{}, persistErr("create", ErrClosed)
	}
	e = prepareCreate(e)
	if err := s.appendLocked(journalRecord{Op: "create", Event: &e}); err != nil {
		return reminder.Event{}, persistErr("create", err)
	}
	created, err := s.mem.Create(ctx, e)
	if err != nil {
		return reminder.Event{}, err
	}
	s.maybeCompactLocked()
	return created, nil
}

func (s *fileStore) List(ctx context.Context, f reminder.Filter) ([]reminder.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, persistErr("list", ErrClosed)
	}
	return s.mem.List(ctx, f)
}

func (s *fileStore) Update(ctx context.Context, id string, p reminder.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return persistErr("update", ErrClosed)
	}
	cur, ok := s.mem.get(id)
	if !ok {
		return nil
	}
	if err := reminder.CheckPatch(cur, p); err != nil {
		return err
	}
	if p.Delivered == nil || !*p.Delivered || cur.Delivered {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "deliver", ID: id}); err != nil {
		return persistErr("update", err)
	}
	if err := s.mem.Update(ctx, id, p); err != nil {
		return err
	}
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	lerr := s.lock.Close()
	s.lock = nil
	return persistErr("close", errors.Join(cerr, err, lerr))
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompactLocked folds the journal once compactEvery records have been
// written. It must run after the record reached mem, or the snapshot would
// miss it while the journal holding it is truncated.
func (s *fileStore) maybeCompactLocked() {
	if s.writes < compactEvery {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
		return
	}
	s.writes = 0
}

// compactLocked writes the full state to the snapshot and truncates the journal.
func (s *fileStore) compactLocked() error {
	events, err := s.mem.List(context.Background(), reminder.Filter{})
	if err != nil {
		return err
	}
	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(events); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, mem *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var events []reminder.Event
	if err := json.NewDecoder(f).Decode(&events); err != nil {
		return err
	}
	mem.restore(events)
	return nil
}

// replayJournal applies journal records in order and returns how many lines
// could not be decoded.
func replayJournal(path string, mem *Memory) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		switch r.Op {
		case "create":
			if r.Event != nil && r.Event.ID != "" {
				mem.restore([]reminder.Event{*r.Event})
			}
		case "deliver":
			mem.markDelivered(r.ID)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
