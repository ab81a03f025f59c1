package reminder

import (
	"context"
	"strings"
	"time"
)

// DisplayLayout is the accepted input and display format of an event time.
const DisplayLayout = "2006-01-02 15:04"

type Event struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	DisplayTime string `json:"display_time"`
	// DueAt is epoch seconds of DisplayTime parsed in local time.
	DueAt     int64  `json:"due_at"`
	Content   string `json:"content"`
	Delivered bool   `json:"delivered"`
}

// Due reports whether the event should fire at now.
func (e Event) Due(now time.Time) bool { return e.DueAt <= now.Unix() }

// Filter selects events by equality. Nil or empty fields match everything.
type Filter struct {
	ChannelID string
	Delivered *bool
}

func (f Filter) Match(e Event) bool {
	if f.ChannelID != "" && e.ChannelID != f.ChannelID {
		return false
	}
	if f.Delivered != nil && e.Delivered != *f.Delivered {
		return false
	}
	return true
}

// Patch is a partial update. Only the delivered flag is mutable.
type Patch struct {
	Delivered *bool
}

// EventStore persists events.
//
// Create stores the event with Delivered=false and assigns an ID when empty.
// List returns matching events ascending by DueAt; no match is not an error.
// Update applies a patch; an unknown id is a no-op. Backend failures are
// reported as *PersistenceError.
type EventStore interface {
	Create(ctx context.Context, e Event) (Event, error)
	List(ctx context.Context, f Filter) ([]Event, error)
	Update(ctx context.Context, id string, p Patch) error
	Close() error
}

// CheckPatch rejects patches that would break the one-way delivered flag.
// Store drivers call it before writing.
func CheckPatch(cur Event, p Patch) error {
	if p.Delivered != nil && cur.Delivered && !*p.Delivered {
		return &ValidationError{Field: "delivered", Reason: "a delivered event cannot be reset"}
	}
	return nil
}

// ParseDisplayTime parses "YYYY-MM-DD HH:MM" in loc (time.Local when nil).
func ParseDisplayTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DisplayLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "display_time", Reason: "use YYYY-MM-DD HH:MM", Err: err}
	}
	return t, nil
}

// NewEvent validates user input and builds an undelivered event. It performs
// no I/O; the returned event has no ID yet.
func NewEvent(channelID, displayTime, content string, loc *time.Location) (Event, error) {
	displayTime = strings.TrimSpace(displayTime)
	content = strings.TrimSpace(content)
	if displayTime == "" {
		return Event{}, &ValidationError{Field: "display_time", Reason: "missing"}
	}
	if content == "" {
		return Event{}, &ValidationError{Field: "content", Reason: "missing"}
	}
	due, err := ParseDisplayTime(displayTime, loc)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ChannelID:   channelID,
		DisplayTime: displayTime,
		DueAt:       due.Unix(),
		Content:     content,
	}, nil
}

// AddEvent validates and stores a new event.
func AddEvent(ctx context.Context, store EventStore, channelID, displayTime, content string, loc *time.Location) (Event, error) {
	ev, err := NewEvent(channelID, displayTime, content, loc)
	if err != nil {
		return Event{}, err
	}
	return store.Create(ctx, ev)
}

// ChannelEvents lists every event of a channel ascending by due time.
func ChannelEvents(ctx context.Context, store EventStore, channelID string) ([]Event, error) {
	return store.List(ctx, Filter{ChannelID: channelID})
}

func boolPtr(b bool) *bool { return &b }
