package main

import (
	"testing"
	"time"
)

func startEvent(channel string, tenant int64) CallStarted {
	return CallStarted{ChannelID: channel, TenantID: tenant, DID: "+15551230000", CallerID: "+15559998888"}
}

func TestRegistryStartCreatesRinging(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	sess, created, ok := r.Start(startEvent("c1", 1), now)
	if !ok || !created {
		t.Fatal("expected session to be created")
	}
	if sess.State != StateRinging {
		t.Errorf("state = %v, want ringing", sess.State)
	}
	if got, ok := r.Get("c1"); !ok || got.TenantID != 1 {
		t.Errorf("Get(c1) = %+v, %v", got, ok)
	}
}

func TestRegistryDuplicateStartDoesNotRegress(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	r.Start(startEvent("c1", 1), now)
	r.Answer("c1", now)
	r.Bridge("c1", now)

	dup := startEvent("c1", 1)
	dup.DID = "+15550000000"
	sess, created, ok := r.Start(dup, now.Add(time.Second))
	if !ok {
		t.Fatal("duplicate start must still be accepted")
	}
	if created {
		t.Error("duplicate start must not create a new session")
	}
	if sess.State != StateBridged {
		t.Errorf("state = %v, want bridged", sess.State)
	}
	if sess.DID != "+15550000000" {
		t.Errorf("informational DID not refreshed: %q", sess.DID)
	}
}

func TestRegistryAnswerOnlyFromRinging(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	if _, changed, ok := r.Answer("missing", now); ok || changed {
		t.Error("answer for unknown channel must be a no-op")
	}

	r.Start(startEvent("c1", 1), now)
	if _, changed, ok := r.Answer("c1", now); !ok || !changed {
		t.Fatal("expected ringing -> answered")
	}
	// duplicate answer is idempotent
	if _, changed, _ := r.Answer("c1", now); changed {
		t.Error("second answer must not change state")
	}
}

func TestRegistryBridgeOnlyFromAnswered(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	r.Start(startEvent("c1", 1), now)
	if _, changed, _ := r.Bridge("c1", now); changed {
		t.Error("ringing session must not bridge")
	}
	r.Answer("c1", now)
	sess, changed, _ := r.Bridge("c1", now)
	if !changed || sess.State != StateBridged {
		t.Errorf("expected bridged, got %v changed=%v", sess.State, changed)
	}
}

func TestRegistryEndIdempotent(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	r.Start(startEvent("c1", 1), now)
	sess, ok := r.End("c1", now)
	if !ok || sess.State != StateEnded {
		t.Fatalf("End = %+v, %v", sess, ok)
	}
	if _, ok := r.Get("c1"); ok {
		t.Error("session still present after end")
	}
	if _, ok := r.End("c1", now); ok {
		t.Error("second end must be a no-op")
	}
}

func TestRegistryStatesStayInSet(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	r.Start(startEvent("c1", 1), now)
	// arbitrary interleaving of events; state must stay within the known set
	r.Answer("c1", now)
	r.Start(startEvent("c1", 1), now)
	r.Bridge("c1", now)
	r.Answer("c1", now)
	r.Touch("c1", now)

	sess, ok := r.Get("c1")
	if !ok {
		t.Fatal("session missing")
	}
	switch sess.State {
	case StateRinging, StateAnswered, StateBridged, StateEnded:
	default:
		t.Errorf("state %d outside the known set", sess.State)
	}
	if sess.State != StateBridged {
		t.Errorf("state = %v, want bridged", sess.State)
	}
}

func TestRegistryListByTenant(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	r.Start(startEvent("c1", 1), now)
	r.Start(startEvent("c2", 1), now)
	r.Start(startEvent("c3", 2), now)

	if got := len(r.ListByTenant(1)); got != 2 {
		t.Errorf("tenant 1 sessions = %d, want 2", got)
	}
	if got := len(r.ListByTenant(2)); got != 1 {
		t.Errorf("tenant 2 sessions = %d, want 1", got)
	}
	if got := len(r.ListByTenant(3)); got != 0 {
		t.Errorf("tenant 3 sessions = %d, want 0", got)
	}
	if got := r.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
}

func TestRegistryCloseRejectsNewSessions(t *testing.T) {
	r := NewSessionRegistry()
	now := time.Now()

	r.Start(startEvent("c1", 1), now)
	r.Close()
	if r.Len() != 0 {
		t.Error("close must empty the registry")
	}
	if _, created, ok := r.Start(startEvent("c2", 1), now); ok || created {
		t.Error("closed registry must reject new sessions")
	}
}
