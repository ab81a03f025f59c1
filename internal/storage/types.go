package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"deskmate/internal/reminder"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("store closed")
	ErrInUse         = errors.New("store in use by another process")
)

// Config configures the event store.
type Config struct {
	Driver      string
	Path        string        // sqlite and file
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite; 0 means 5s
	MaxConns    int32         // postgres; 0 means pgx default
}

const defaultPath = "./data/deskmate.db"

func newID() string { return uuid.NewString() }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *reminder.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	var ve *reminder.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &reminder.PersistenceError{Op: op, Err: err}
}

// prepareCreate fills the ID and forces the initial delivered state.
func prepareCreate(e reminder.Event) reminder.Event {
	if e.ID == "" {
		e.ID = newID()
	}
	e.Delivered = false
	return e
}

// sortByDue orders events ascending by due time, keeping insertion order
// for equal times.
func sortByDue(events []reminder.Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].DueAt < events[j].DueAt })
}
