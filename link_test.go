package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	ini "gopkg.in/ini.v1"
)

func testSettings(t *testing.T, ariURL string) *Settings {
	t.Helper()
	cfg := ini.Empty()
	sec := cfg.Section("ari")
	sec.Key("url").SetValue(ariURL)
	sec.Key("username").SetValue("ariuser")
	sec.Key("password").SetValue("aripass")
	cfg.Section("link").Key("send_timeout").SetValue("2")
	cfg.Section("link").Key("reconnect_base").SetValue("0")
	s, err := LoadSettings(cfg)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	return s
}

func TestLinkSendFailsFastWhileDisconnected(t *testing.T) {
	link := NewLink(testSettings(t, "http://127.0.0.1:1/ari"))

	_, _, err := link.Send(context.Background(), http.MethodPost, "/channels/c1/answer", nil)
	if !errors.Is(err, ErrLinkUnavailable) {
		t.Errorf("expected ErrLinkUnavailable, got %v", err)
	}
}

func TestLinkWSURL(t *testing.T) {
	link := NewLink(testSettings(t, "https://gateway.example:8089/ari/"))

	u := link.wsURL()
	if !strings.HasPrefix(u, "wss://gateway.example:8089/ari/events?") {
		t.Errorf("wsURL = %q", u)
	}
	if !strings.Contains(u, "app=ivr-handler") {
		t.Errorf("wsURL missing app name: %q", u)
	}
	if !strings.Contains(u, "api_key=ariuser%3Aaripass") {
		t.Errorf("wsURL missing credentials: %q", u)
	}
}

func TestLinkReceiveAndSend(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ari/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "StasisEnd", "channel": {"id": "c1"}}`))
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/ari/channels/c1/answer", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	link := NewLink(testSettings(t, server.URL+"/ari"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	select {
	case payload := <-link.Events():
		if !strings.Contains(string(payload), "StasisEnd") {
			t.Errorf("unexpected payload: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	if !link.Connected() {
		t.Error("link not marked connected")
	}

	status, _, err := link.Send(ctx, http.MethodPost, "/channels/c1/answer", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != http.StatusNoContent {
		t.Errorf("status = %d, want 204", status)
	}

	cancel()
	select {
	case _, open := <-link.Events():
		if open {
			// drain anything still buffered; the channel must close soon
			for range link.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after shutdown")
	}
}

func TestLinkReconnectsAfterStreamDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var (
		mu      sync.Mutex
		accept  = true
		serial  int
		current *websocket.Conn
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/ari/events", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if !accept {
			mu.Unlock()
			http.Error(w, "gateway restarting", http.StatusServiceUnavailable)
			return
		}
		serial++
		n := serial
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		current = conn
		mu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(fmt.Sprintf(`{"type": "StasisEnd", "channel": {"id": "conn-%d"}}`, n)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	link := NewLink(testSettings(t, server.URL+"/ari"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	waitEvent := func(marker string) {
		t.Helper()
		select {
		case payload := <-link.Events():
			if !strings.Contains(string(payload), marker) {
				t.Fatalf("payload %s does not carry %q", payload, marker)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no event carrying %q", marker)
		}
	}

	waitEvent("conn-1")
	if !link.Connected() {
		t.Fatal("link not marked connected")
	}

	// drop the stream and keep the gateway down until the link notices
	mu.Lock()
	accept = false
	current.Close()
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for link.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("link still marked connected after stream drop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	accept = true
	mu.Unlock()

	waitEvent("conn-2")
	if !link.Connected() {
		t.Error("link not marked connected after reconnect")
	}
}
