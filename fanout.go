package main

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Subscriber is one dashboard connection receiving notifications for exactly
// one tenant. Its queue is closed by Unsubscribe.
type Subscriber struct {
	ID       string
	TenantID int64
	queue    chan []byte
}

// Queue returns the subscriber's outbound message stream.
func (s *Subscriber) Queue() <-chan []byte { return s.queue }

// Fanout distributes session-change notifications to per-tenant subscriber
// sets. A slow or dead subscriber never delays delivery to the others: each
// subscriber has its own bounded queue and is dropped on saturation.
type Fanout struct {
	mu        sync.RWMutex
	tenants   map[int64]map[*Subscriber]struct{}
	queueSize int
}

// NewFanout creates a Fanout with the given per-subscriber queue size.
func NewFanout(queueSize int) *Fanout {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Fanout{
		tenants:   make(map[int64]map[*Subscriber]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscriber for the tenant.
func (f *Fanout) Subscribe(tenantID int64) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		queue:    make(chan []byte, f.queueSize),
	}
	f.mu.Lock()
	set, ok := f.tenants[tenantID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		f.tenants[tenantID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()
	coreLog.Debugf("subscriber %s attached to tenant %d", sub.ID, tenantID)
	return sub
}

// Unsubscribe removes the subscriber and closes its queue. Calling it again
// for the same subscriber is a no-op.
func (f *Fanout) Unsubscribe(sub *Subscriber) {
	f.mu.Lock()
	removed := false
	if set, ok := f.tenants[sub.TenantID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			removed = true
			if len(set) == 0 {
				delete(f.tenants, sub.TenantID)
			}
		}
	}
	f.mu.Unlock()
	if removed {
		close(sub.queue)
		coreLog.Debugf("subscriber %s detached from tenant %d", sub.ID, sub.TenantID)
	}
}

// Notify pushes the notification to every current subscriber of the tenant.
// The payload is marshaled once; a subscriber whose queue is full is dropped
// with a diagnostic so it cannot stall the rest.
func (f *Fanout) Notify(tenantID int64, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		coreLog.Errorf("encode notification: %v", err)
		return
	}

	var stale []*Subscriber
	f.mu.RLock()
	for sub := range f.tenants[tenantID] {
		select {
		case sub.queue <- payload:
		default:
			stale = append(stale, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range stale {
		coreLog.Warnf("subscriber %s for tenant %d unreachable, dropping", sub.ID, sub.TenantID)
		f.Unsubscribe(sub)
	}
}

// NumSubscribers returns the current subscriber count for the tenant.
func (f *Fanout) NumSubscribers(tenantID int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tenants[tenantID])
}
