package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Notification types pushed to dashboard subscribers.
const (
	notifyCallStarted = "call_started"
	notifyCallUpdated = "call_updated"
	notifyCallEnded   = "call_ended"
)

// Notification is one session-change message for dashboard subscribers.
type Notification struct {
	Type     string      `json:"type"`
	TenantID int64       `json:"tenant_id"`
	Call     CallSession `json:"call"`
}

// CommandKind enumerates gateway commands a FlowHandler can request.
type CommandKind int

const (
	CmdAnswer CommandKind = iota
	CmdHangup
	CmdPlayMedia
)

// Command is one gateway command requested by a FlowHandler. Commands are
// issued fire-and-forget; a failure never rolls back a session transition.
type Command struct {
	Kind      CommandKind
	ChannelID string
	Media     string
}

// FlowHandler decides which gateway commands to issue on call-flow events. A
// full IVR flow interpreter is an external collaborator satisfying this
// interface; DefaultFlow implements the minimal built-in behavior.
type FlowHandler interface {
	OnCallStarted(sess CallSession) []Command
	OnDigit(sess CallSession, digit string) []Command
	OnPlaybackFinished(playbackID string) []Command
}

// DefaultFlow answers new calls and plays a greeting, echoes digit 1 and
// hangs up on digit 9.
type DefaultFlow struct {
	Greeting string
}

func (f *DefaultFlow) OnCallStarted(sess CallSession) []Command {
	return []Command{
		{Kind: CmdAnswer, ChannelID: sess.ChannelID},
		{Kind: CmdPlayMedia, ChannelID: sess.ChannelID, Media: f.Greeting},
	}
}

func (f *DefaultFlow) OnDigit(sess CallSession, digit string) []Command {
	switch digit {
	case "1":
		return []Command{{Kind: CmdPlayMedia, ChannelID: sess.ChannelID, Media: "digits/1"}}
	case "9":
		return []Command{{Kind: CmdHangup, ChannelID: sess.ChannelID}}
	}
	return nil
}

func (f *DefaultFlow) OnPlaybackFinished(playbackID string) []Command {
	return nil
}

// Dispatcher is the single consumer of the decoded event sequence. It drives
// the session registry and fans out session changes to dashboard
// subscribers. Any processing error is contained to the event that caused it.
type Dispatcher struct {
	registry *SessionRegistry
	commands *CommandClient
	fanout   *Fanout
	flow     FlowHandler
	now      func() time.Time
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(registry *SessionRegistry, commands *CommandClient, fanout *Fanout, flow FlowHandler) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		commands: commands,
		fanout:   fanout,
		flow:     flow,
		now:      time.Now,
	}
}

// Run consumes raw events until the channel closes or ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan json.RawMessage) {
	for {
		select {
		case payload, ok := <-events:
			if !ok {
				coreLog.Info("event stream finished, dispatcher stopping")
				return
			}
			d.handle(ctx, payload)
		case <-ctx.Done():
			return
		}
	}
}

// handle decodes and applies one event.
func (d *Dispatcher) handle(ctx context.Context, payload json.RawMessage) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		if errors.Is(err, ErrUnrecognizedEvent) {
			coreLog.Debugf("dropping unrecognized event: %.200s", payload)
		} else {
			coreLog.Warnf("dropping undecodable event: %v", err)
		}
		return
	}

	switch ev := ev.(type) {
	case CallStarted:
		d.onCallStarted(ctx, ev)
	case CallEnded:
		d.onCallEnded(ev)
	case DigitReceived:
		d.onDigit(ctx, ev)
	case ChannelStateChanged:
		d.onChannelState(ev)
	case PlaybackFinished:
		d.onPlaybackFinished(ctx, ev)
	}
}

func (d *Dispatcher) onCallStarted(ctx context.Context, ev CallStarted) {
	sess, created, ok := d.registry.Start(ev, d.now())
	if !ok {
		coreLog.Debugf("registry closed, ignoring call start for channel %s", ev.ChannelID)
		return
	}
	if !created {
		// benign duplicate: informational fields refreshed, state untouched
		coreLog.Infof("duplicate call start for channel %s", ev.ChannelID)
		d.fanout.Notify(sess.TenantID, Notification{Type: notifyCallUpdated, TenantID: sess.TenantID, Call: sess})
		return
	}
	coreLog.Infof("call started: channel=%s tenant=%d did=%s caller=%s",
		sess.ChannelID, sess.TenantID, sess.DID, sess.CallerID)
	d.fanout.Notify(sess.TenantID, Notification{Type: notifyCallStarted, TenantID: sess.TenantID, Call: sess})
	d.execute(ctx, d.flow.OnCallStarted(sess))
}

func (d *Dispatcher) onCallEnded(ev CallEnded) {
	sess, ok := d.registry.End(ev.ChannelID, d.now())
	if !ok {
		coreLog.Debugf("call end for unknown channel %s", ev.ChannelID)
		return
	}
	coreLog.Infof("call ended: channel=%s tenant=%d", sess.ChannelID, sess.TenantID)
	d.fanout.Notify(sess.TenantID, Notification{Type: notifyCallEnded, TenantID: sess.TenantID, Call: sess})
}

func (d *Dispatcher) onDigit(ctx context.Context, ev DigitReceived) {
	sess, ok := d.registry.Touch(ev.ChannelID, d.now())
	if !ok {
		coreLog.Warnf("digit %s for unknown channel %s", ev.Digit, ev.ChannelID)
		return
	}
	coreLog.Infof("digit received: channel=%s digit=%s", ev.ChannelID, ev.Digit)
	d.execute(ctx, d.flow.OnDigit(sess, ev.Digit))
}

func (d *Dispatcher) onChannelState(ev ChannelStateChanged) {
	if ev.NewState != "Up" {
		if _, ok := d.registry.Touch(ev.ChannelID, d.now()); !ok {
			coreLog.Debugf("state change %s for unknown channel %s", ev.NewState, ev.ChannelID)
		}
		return
	}
	sess, changed, ok := d.registry.Answer(ev.ChannelID, d.now())
	if !ok {
		coreLog.Warnf("state change for unknown channel %s", ev.ChannelID)
		return
	}
	if !changed {
		return
	}
	coreLog.Infof("call answered: channel=%s tenant=%d", sess.ChannelID, sess.TenantID)
	d.fanout.Notify(sess.TenantID, Notification{Type: notifyCallUpdated, TenantID: sess.TenantID, Call: sess})
}

func (d *Dispatcher) onPlaybackFinished(ctx context.Context, ev PlaybackFinished) {
	coreLog.Debugf("playback finished: %s", ev.PlaybackID)
	d.execute(ctx, d.flow.OnPlaybackFinished(ev.PlaybackID))
}

// execute issues flow commands fire-and-forget.
func (d *Dispatcher) execute(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		var err error
		switch cmd.Kind {
		case CmdAnswer:
			err = d.commands.Answer(ctx, cmd.ChannelID)
		case CmdHangup:
			err = d.commands.Hangup(ctx, cmd.ChannelID)
		case CmdPlayMedia:
			err = d.commands.PlayMedia(ctx, cmd.ChannelID, cmd.Media)
		}
		if err != nil {
			coreLog.Warnf("flow command failed on channel %s: %v", cmd.ChannelID, err)
		}
	}
}
