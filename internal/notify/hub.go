// Package notify fans payment and subscription events out to the dashboard
// sessions of the user they concern.
package notify

import (
	"context"
	"sync"
	"time"
)

// EventType names what happened.
type EventType string

const (
	PaymentCreated       EventType = "payment.created"
	PaymentStatusChanged EventType = "payment.status"
	SubscriptionCreated  EventType = "subscription.created"
	ProvisioningDeferred EventType = "provisioning.deferred"
)

// Level is how the dashboard should present an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Event struct {
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	SessionID string    `json:"sessionId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Publisher is the side of the hub services depend on.
type Publisher interface {
	Publish(userID string, ev Event)
}

const defaultBuffer = 16

// Hub is an in-process per-user publish/subscribe registry.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		buffer: defaultBuffer,
		now:    time.Now,
	}
}

// Publish delivers ev to every current subscriber of userID.
func (h *Hub) Publish(userID string, ev Event) {
	if userID == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = h.now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber for userID. The channel is closed once ctx
// is done.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Event {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[userID], ch)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Subscribers returns how many subscribers userID currently has.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
