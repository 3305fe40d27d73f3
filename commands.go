package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// commandSender abstracts the request/response side of the Link.
type commandSender interface {
	Send(ctx context.Context, method, path string, body any) (int, []byte, error)
}

// CommandError reports a command the gateway rejected.
type CommandError struct {
	Op     string
	Status int
	Body   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: gateway returned %d: %s", e.Op, e.Status, e.Body)
}

// CommandClient issues typed control commands to the gateway. Each call is a
// single round trip; callers decide whether a failure is retried, surfaced or
// ignored.
type CommandClient struct {
	link commandSender
}

// NewCommandClient creates a CommandClient over the given link.
func NewCommandClient(link commandSender) *CommandClient {
	return &CommandClient{link: link}
}

func (c *CommandClient) do(ctx context.Context, op, method, path string, body any, okMissing bool) error {
	status, respBody, err := c.link.Send(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status == http.StatusNotFound && okMissing {
		ariLog.Debugf("%s: channel already gone", op)
		return nil
	}
	if status < 200 || status > 299 {
		return &CommandError{Op: op, Status: status, Body: string(respBody)}
	}
	return nil
}

// Answer answers a ringing channel. Answering a channel that is already
// answered or gone is not an error.
func (c *CommandClient) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, "answer", http.MethodPost, "/channels/"+channelID+"/answer", nil, true)
}

// Hangup terminates a channel. Hanging up a channel that is already gone is
// not an error.
func (c *CommandClient) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, "hangup", http.MethodDelete, "/channels/"+channelID, nil, true)
}

// PlayMedia plays a sound resource to a channel.
func (c *CommandClient) PlayMedia(ctx context.Context, channelID, media string) error {
	return c.do(ctx, "play", http.MethodPost, "/channels/"+channelID+"/play",
		map[string]string{"media": "sound:" + media}, false)
}

// StartRecording records the channel to a named wav file and returns the
// recording name. An empty name gets a generated one.
func (c *CommandClient) StartRecording(ctx context.Context, channelID, name string, maxDurationSec, maxSilenceSec int) (string, error) {
	if name == "" {
		name = "rec-" + uuid.NewString()
	}
	err := c.do(ctx, "record", http.MethodPost, "/channels/"+channelID+"/record", map[string]any{
		"name":               name,
		"format":             "wav",
		"maxDurationSeconds": maxDurationSec,
		"maxSilenceSeconds":  maxSilenceSec,
	}, false)
	if err != nil {
		return "", err
	}
	return name, nil
}

// CreateBridge creates a bridge of the given kind and returns its gateway id.
func (c *CommandClient) CreateBridge(ctx context.Context, kind string) (string, error) {
	if kind == "" {
		kind = "mixing"
	}
	status, body, err := c.link.Send(ctx, http.MethodPost, "/bridges", map[string]string{"type": kind})
	if err != nil {
		return "", fmt.Errorf("bridge create: %w", err)
	}
	if status < 200 || status > 299 {
		return "", &CommandError{Op: "bridge create", Status: status, Body: string(body)}
	}
	var bridge struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &bridge); err != nil {
		return "", fmt.Errorf("bridge create: bad response: %w", err)
	}
	if bridge.ID == "" {
		return "", fmt.Errorf("bridge create: gateway returned no bridge id")
	}
	return bridge.ID, nil
}

// AddToBridge joins a channel into an existing bridge.
func (c *CommandClient) AddToBridge(ctx context.Context, bridgeID, channelID string) error {
	return c.do(ctx, "bridge add", http.MethodPost, "/bridges/"+bridgeID+"/addChannel",
		map[string]string{"channel": channelID}, false)
}
