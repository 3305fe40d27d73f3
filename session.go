package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SessionState is the lifecycle state of a call session. Transitions only
// move forward: Ringing -> Answered -> Bridged -> Ended.
type SessionState int

const (
	StateRinging SessionState = iota
	StateAnswered
	StateBridged
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateAnswered:
		return "answered"
	case StateBridged:
		return "bridged"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// MarshalJSON encodes the state by name for dashboard consumers.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "ringing":
		*s = StateRinging
	case "answered":
		*s = StateAnswered
	case "bridged":
		*s = StateBridged
	case "ended":
		*s = StateEnded
	default:
		return fmt.Errorf("unknown session state %q", name)
	}
	return nil
}

// CallSession tracks one active channel. TenantID, DID and CallerID are set
// at creation and never change afterwards.
type CallSession struct {
	ChannelID   string       `json:"channel_id"`
	TenantID    int64        `json:"tenant_id"`
	DID         string       `json:"did"`
	CallerID    string       `json:"caller_id"`
	State       SessionState `json:"state"`
	LastEventAt time.Time    `json:"last_event_at"`
}

// SessionRegistry is the concurrent store of active call sessions, keyed by
// channel id. A session exists here iff a call-start event was received and
// no matching call-end has been processed. All mutation goes through its
// methods under one lock; reads return copies and never observe a
// half-applied transition.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
	closed   bool
}

// NewSessionRegistry creates an open, empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*CallSession)}
}

// Start creates the session for a call-start event. It returns the session
// copy, whether it was newly created, and whether the registry accepted the
// event at all (a closed registry rejects it). A duplicate start for a live
// channel refreshes the informational fields without regressing state or
// reassigning the tenant.
func (r *SessionRegistry) Start(ev CallStarted, now time.Time) (CallSession, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return CallSession{}, false, false
	}
	if sess, ok := r.sessions[ev.ChannelID]; ok {
		sess.DID = ev.DID
		sess.CallerID = ev.CallerID
		sess.LastEventAt = now
		return *sess, false, true
	}
	sess := &CallSession{
		ChannelID:   ev.ChannelID,
		TenantID:    ev.TenantID,
		DID:         ev.DID,
		CallerID:    ev.CallerID,
		State:       StateRinging,
		LastEventAt: now,
	}
	r.sessions[ev.ChannelID] = sess
	return *sess, true, true
}

// Answer moves a ringing session to Answered. Returns the session copy, a
// changed flag, and whether the channel is known. Any other current state is
// an idempotent no-op.
func (r *SessionRegistry) Answer(channelID string, now time.Time) (CallSession, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channelID]
	if !ok {
		return CallSession{}, false, false
	}
	sess.LastEventAt = now
	if sess.State != StateRinging {
		return *sess, false, true
	}
	sess.State = StateAnswered
	return *sess, true, true
}

// Bridge moves an answered session to Bridged. This edge is driven by the
// operator transfer surface, not by a gateway event.
func (r *SessionRegistry) Bridge(channelID string, now time.Time) (CallSession, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channelID]
	if !ok {
		return CallSession{}, false, false
	}
	sess.LastEventAt = now
	if sess.State != StateAnswered {
		return *sess, false, true
	}
	sess.State = StateBridged
	return *sess, true, true
}

// Touch records event activity on a live session without transitioning it.
func (r *SessionRegistry) Touch(channelID string, now time.Time) (CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channelID]
	if !ok {
		return CallSession{}, false
	}
	sess.LastEventAt = now
	return *sess, true
}

// End removes the session and returns its final (Ended) snapshot. Ending an
// unknown channel is an idempotent no-op.
func (r *SessionRegistry) End(channelID string, now time.Time) (CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channelID]
	if !ok {
		return CallSession{}, false
	}
	delete(r.sessions, channelID)
	sess.State = StateEnded
	sess.LastEventAt = now
	return *sess, true
}

// Get returns a copy of the session for the channel.
func (r *SessionRegistry) Get(channelID string) (CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[channelID]
	if !ok {
		return CallSession{}, false
	}
	return *sess, true
}

// List returns copies of all active sessions.
func (r *SessionRegistry) List() []CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CallSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, *sess)
	}
	return out
}

// ListByTenant returns copies of all sessions owned by the tenant at the
// instant of the read.
func (r *SessionRegistry) ListByTenant(tenantID int64) []CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []CallSession{}
	for _, sess := range r.sessions {
		if sess.TenantID == tenantID {
			out = append(out, *sess)
		}
	}
	return out
}

// Len returns the number of active sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close empties the registry and rejects further session creation.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*CallSession)
	r.closed = true
}
