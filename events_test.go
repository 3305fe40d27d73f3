package main

import (
	"errors"
	"testing"
)

func TestDecodeCallStarted(t *testing.T) {
	payload := []byte(`{
		"type": "StasisStart",
		"args": ["1", "+15551230000"],
		"channel": {"id": "c1", "state": "Ring", "caller": {"number": "+15559998888"}}
	}`)

	ev, err := DecodeEvent(payload)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	started, ok := ev.(CallStarted)
	if !ok {
		t.Fatalf("expected CallStarted, got %T", ev)
	}
	if started.ChannelID != "c1" {
		t.Errorf("ChannelID = %q, want c1", started.ChannelID)
	}
	if started.TenantID != 1 {
		t.Errorf("TenantID = %d, want 1", started.TenantID)
	}
	if started.DID != "+15551230000" {
		t.Errorf("DID = %q", started.DID)
	}
	if started.CallerID != "+15559998888" {
		t.Errorf("CallerID = %q", started.CallerID)
	}
}

func TestDecodeCallStartedMissingTenant(t *testing.T) {
	for name, payload := range map[string]string{
		"no args":            `{"type": "StasisStart", "channel": {"id": "c1"}}`,
		"non-numeric tenant": `{"type": "StasisStart", "args": ["acme"], "channel": {"id": "c1"}}`,
	} {
		ev, err := DecodeEvent([]byte(payload))
		if ev != nil {
			t.Errorf("%s: expected nil event, got %#v", name, ev)
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("%s: expected DecodeError, got %v", name, err)
		}
	}
}

func TestDecodeCallEnded(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type": "StasisEnd", "channel": {"id": "c1"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ended, ok := ev.(CallEnded); !ok || ended.ChannelID != "c1" {
		t.Fatalf("expected CallEnded{c1}, got %#v", ev)
	}
}

func TestDecodeDigit(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type": "ChannelDtmfReceived", "digit": "5", "channel": {"id": "c1"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	digit, ok := ev.(DigitReceived)
	if !ok || digit.ChannelID != "c1" || digit.Digit != "5" {
		t.Fatalf("expected DigitReceived{c1, 5}, got %#v", ev)
	}

	if _, err := DecodeEvent([]byte(`{"type": "ChannelDtmfReceived", "channel": {"id": "c1"}}`)); err == nil {
		t.Error("expected decode error for missing digit")
	}
}

func TestDecodeChannelState(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type": "ChannelStateChange", "channel": {"id": "c1", "state": "Up"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	st, ok := ev.(ChannelStateChanged)
	if !ok || st.ChannelID != "c1" || st.NewState != "Up" {
		t.Fatalf("expected ChannelStateChanged{c1, Up}, got %#v", ev)
	}
}

func TestDecodePlaybackFinished(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type": "PlaybackFinished", "playback": {"id": "p1"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if pb, ok := ev.(PlaybackFinished); !ok || pb.PlaybackID != "p1" {
		t.Fatalf("expected PlaybackFinished{p1}, got %#v", ev)
	}
}

func TestDecodeUnrecognized(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type": "BridgeCreated", "bridge": {"id": "b1"}}`))
	if ev != nil {
		t.Errorf("expected nil event, got %#v", ev)
	}
	if !errors.Is(err, ErrUnrecognizedEvent) {
		t.Errorf("expected ErrUnrecognizedEvent, got %v", err)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{not json`))
	if ev != nil {
		t.Errorf("expected nil event, got %#v", ev)
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("expected DecodeError, got %v", err)
	}
}

func TestDecodeMissingChannel(t *testing.T) {
	for _, typ := range []string{"StasisStart", "StasisEnd", "ChannelDtmfReceived", "ChannelStateChange"} {
		_, err := DecodeEvent([]byte(`{"type": "` + typ + `"}`))
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("%s: expected DecodeError, got %v", typ, err)
		}
	}
}
