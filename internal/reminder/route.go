package reminder

import "sync"

// RouteState remembers the most recently active channel. It lives for the
// process and is never persisted.
type RouteState struct {
	mu   sync.RWMutex
	last string
}

func NewRouteState() *RouteState { return &RouteState{} }

// Set overwrites the last active channel. Empty ids are ignored so a message
// without a channel cannot erase a known route.
func (r *RouteState) Set(channelID string) {
	if channelID == "" {
		return
	}
	r.mu.Lock()
	r.last = channelID
	r.mu.Unlock()
}

func (r *RouteState) Get() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Observe is the inbound message hook.
func (r *RouteState) Observe(channelID string) { r.Set(channelID) }

// ResolveTarget picks the destination: the event's own channel, then the last
// active channel, then the configured default. Empty means skip the send.
func ResolveTarget(eventChannel string, route *RouteState, defaultChannel string) string {
	if eventChannel != "" {
		return eventChannel
	}
	if last := route.Get(); last != "" {
		return last
	}
	return defaultChannel
}
