package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/tevino/abool"
)

// ErrLinkUnavailable is returned by Send while the gateway link is down.
var ErrLinkUnavailable = errors.New("signaling link unavailable")

// Link maintains the persistent event stream and the request/response command
// channel to the telephony gateway. There is exactly one logical event
// connection at a time; on failure it reconnects with jittered exponential
// backoff until the context is canceled.
type Link struct {
	baseURL  string
	username string
	password string
	app      string

	httpClient *http.Client
	dialer     *websocket.Dialer
	connected  *abool.AtomicBool
	events     chan json.RawMessage

	reconnectBase time.Duration
	reconnectCap  time.Duration
}

// NewLink creates a Link from settings. Run must be called before events
// flow; Send fails fast until the event stream is up.
func NewLink(cfg *Settings) *Link {
	return &Link{
		baseURL:       strings.TrimRight(cfg.ARIURL(), "/"),
		username:      cfg.ARIUsername(),
		password:      cfg.ARIPassword(),
		app:           cfg.ARIApp(),
		httpClient:    &http.Client{Timeout: cfg.SendTimeout()},
		dialer:        &websocket.Dialer{HandshakeTimeout: cfg.SendTimeout()},
		connected:     abool.New(),
		events:        make(chan json.RawMessage, 64),
		reconnectBase: cfg.ReconnectBase(),
		reconnectCap:  cfg.ReconnectCap(),
	}
}

// Events returns the stream of raw gateway events. The channel is closed when
// Run returns.
func (l *Link) Events() <-chan json.RawMessage { return l.events }

// Connected reports whether the event stream is currently up.
func (l *Link) Connected() bool { return l.connected.IsSet() }

// wsURL builds the event stream URL with credentials.
func (l *Link) wsURL() string {
	u := strings.Replace(l.baseURL, "http", "ws", 1)
	q := url.Values{}
	q.Set("app", l.app)
	q.Set("api_key", l.username+":"+l.password)
	return u + "/events?" + q.Encode()
}

// Run maintains the event connection until ctx is canceled. Events in flight
// when a connection drops may be lost; no ordering is guaranteed across a
// reconnect boundary.
func (l *Link) Run(ctx context.Context) {
	defer close(l.events)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.reconnectBase
	bo.MaxInterval = l.reconnectCap
	bo.RandomizationFactor = 1 // full jitter
	bo.MaxElapsedTime = 0      // retry forever

	for {
		conn, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			ariLog.Warnf("gateway connect failed: %v (retry in %s)", err, wait.Round(time.Millisecond))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}

		bo.Reset()
		l.connected.Set()
		ariLog.Infof("gateway event stream connected: %s", l.baseURL)

		err = l.readLoop(ctx, conn)
		l.connected.UnSet()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		ariLog.Warnf("gateway event stream closed: %v", err)
	}
}

func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := l.dialer.DialContext(ctx, l.wsURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// readLoop pumps raw payloads from the connection into the events channel
// until the connection fails or ctx is canceled.
func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ariEvents {
			ariLog.Debugf("received ARI event: %s", payload)
		}
		select {
		case l.events <- json.RawMessage(payload):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send performs one command round trip against the gateway REST surface.
// While the event stream is down it fails fast with ErrLinkUnavailable
// instead of queueing.
func (l *Link) Send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	if !l.connected.IsSet() {
		return 0, nil, ErrLinkUnavailable
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode command: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(l.username, l.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
