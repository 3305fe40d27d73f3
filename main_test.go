package main

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

var errInjected = errors.New("injected failure")

func TestMain(m *testing.M) {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	entry := logrus.NewEntry(quiet)
	coreLog, ariLog, httpLog = entry, entry, entry
	os.Exit(m.Run())
}

// sentCommand records one gateway request seen by the fake sender.
type sentCommand struct {
	method string
	path   string
	body   any
}

// fakeSender stands in for the Link's request/response side.
type fakeSender struct {
	mu      sync.Mutex
	sent    []sentCommand
	status  int
	body    []byte
	err     error
	respond func(method, path string) (int, []byte, error)
}

func (f *fakeSender) Send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentCommand{method: method, path: path, body: body})
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(method, path)
	}
	if f.err != nil {
		return 0, nil, f.err
	}
	status := f.status
	if status == 0 {
		status = 200
	}
	body2 := f.body
	if body2 == nil {
		body2 = []byte("{}")
	}
	return status, body2, nil
}

func (f *fakeSender) calls() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCommand, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) Connected() bool { return true }
