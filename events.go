package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrUnrecognizedEvent is returned by DecodeEvent for payloads whose type
// discriminator is not part of the signaling event set.
var ErrUnrecognizedEvent = errors.New("unrecognized event")

// DecodeError reports a payload that carries a recognized type tag but is
// structurally invalid.
type DecodeError struct {
	Type   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Type, e.Reason)
}

// SignalingEvent is one decoded gateway event. The set of implementations is
// closed; the dispatcher switches over all of them.
type SignalingEvent interface {
	signalingEvent()
}

// CallStarted reports a new channel entering the application.
type CallStarted struct {
	ChannelID string
	TenantID  int64
	DID       string
	CallerID  string
}

// CallEnded reports a channel leaving the application.
type CallEnded struct {
	ChannelID string
}

// DigitReceived reports a DTMF digit pressed on a channel.
type DigitReceived struct {
	ChannelID string
	Digit     string
}

// ChannelStateChanged reports a gateway-side channel state change.
type ChannelStateChanged struct {
	ChannelID string
	NewState  string
}

// PlaybackFinished reports completion of a media playback.
type PlaybackFinished struct {
	PlaybackID string
}

func (CallStarted) signalingEvent()         {}
func (CallEnded) signalingEvent()           {}
func (DigitReceived) signalingEvent()       {}
func (ChannelStateChanged) signalingEvent() {}
func (PlaybackFinished) signalingEvent()    {}

// Wire representation of gateway events. The gateway tags every event with a
// "type" discriminator; fields beyond the ones below are ignored.
type rawEvent struct {
	Type     string       `json:"type"`
	Args     []string     `json:"args"`
	Channel  *rawChannel  `json:"channel"`
	Digit    string       `json:"digit"`
	Playback *rawPlayback `json:"playback"`
}

type rawChannel struct {
	ID     string    `json:"id"`
	State  string    `json:"state"`
	Caller rawCaller `json:"caller"`
}

type rawCaller struct {
	Number string `json:"number"`
}

type rawPlayback struct {
	ID string `json:"id"`
}

// DecodeEvent parses a raw gateway payload into a typed signaling event. It
// never blocks and never mutates state; a payload outside the known set
// yields ErrUnrecognizedEvent, a malformed known payload yields *DecodeError.
func DecodeEvent(payload []byte) (SignalingEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Type: "", Reason: "invalid json"}
	}

	switch raw.Type {
	case "StasisStart":
		if raw.Channel == nil || raw.Channel.ID == "" {
			return nil, &DecodeError{Type: raw.Type, Reason: "missing channel"}
		}
		if len(raw.Args) == 0 {
			return nil, &DecodeError{Type: raw.Type, Reason: "missing tenant argument"}
		}
		tenantID, err := strconv.ParseInt(raw.Args[0], 10, 64)
		if err != nil {
			return nil, &DecodeError{Type: raw.Type, Reason: "unresolvable tenant " + strconv.Quote(raw.Args[0])}
		}
		did := ""
		if len(raw.Args) > 1 {
			did = raw.Args[1]
		}
		return CallStarted{
			ChannelID: raw.Channel.ID,
			TenantID:  tenantID,
			DID:       did,
			CallerID:  raw.Channel.Caller.Number,
		}, nil

	case "StasisEnd":
		if raw.Channel == nil || raw.Channel.ID == "" {
			return nil, &DecodeError{Type: raw.Type, Reason: "missing channel"}
		}
		return CallEnded{ChannelID: raw.Channel.ID}, nil

	case "ChannelDtmfReceived":
		if raw.Channel == nil || raw.Channel.ID == "" {
			return nil, &DecodeError{Type: raw.Type, Reason: "missing channel"}
		}
		if raw.Digit == "" {
			return nil, &DecodeError{Type: raw.Type, Reason: "missing digit"}
		}
		return DigitReceived{ChannelID: raw.Channel.ID, Digit: raw.Digit}, nil

	case "ChannelStateChange":
		if raw.Channel == nil || raw.Channel.ID == "" {
			return nil, &DecodeError{Type: raw.Type, Reason: "missing channel"}
		}
		return ChannelStateChanged{ChannelID: raw.Channel.ID, NewState: raw.Channel.State}, nil

	case "PlaybackFinished":
		if raw.Playback == nil || raw.Playback.ID == "" {
			return nil, &DecodeError{Type: raw.Type, Reason: "missing playback"}
		}
		return PlaybackFinished{PlaybackID: raw.Playback.ID}, nil
	}

	return nil, ErrUnrecognizedEvent
}
