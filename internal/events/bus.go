// Package events implements the notification channel for sandbox activity.
//
// Each SandboxManager owns one Bus; shell and browser sessions publish
// into it and callers subscribe with optional type filters. There is no
// process-wide emitter: buses are constructed and closed per manager.
package events

import (
	"sync"
	"time"

	"github.com/spindle-dev/spindle/internal/shared/id"
)

// Type names an event category.
type Type string

const (
	ShellCreated Type = "shell:created"
	ShellOutput  Type = "shell:output"
	ShellError   Type = "shell:error"
	ShellClosed  Type = "shell:closed"

	BrowserCreated    Type = "browser:created"
	BrowserNavigated  Type = "browser:navigated"
	BrowserError      Type = "browser:error"
	BrowserLogin      Type = "browser:login"
	BrowserClosed     Type = "browser:closed"
	BrowserDownloaded Type = "browser:file-downloaded"
)

// Event is one notification, tagged with its originating sandbox and,
// for shell events, session.
type Event struct {
	ID        id.EventID     `json:"id"`
	Type      Type           `json:"type"`
	SandboxID string         `json:"sandbox_id"`
	SessionID string         `json:"session_id,omitempty"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

// subscriber holds one subscription's channel and filter.
type subscriber struct {
	ch     chan Event
	filter map[Type]bool // nil means all types
}

// Bus is a multiplexed publish/subscribe channel for sandbox events.
type Bus struct {
	mu        sync.RWMutex
	subs      map[int]*subscriber
	nextID    int
	closed    bool
	onPublish func(Type)
}

// subscriberBuffer is the per-subscription channel depth. Publish never
// blocks: events beyond this depth are dropped for that subscriber.
const subscriberBuffer = 256

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// OnPublish installs a hook invoked once per published event, before
// fan-out. The owning manager uses it for instrumentation. Must be set
// before the bus is shared.
func (b *Bus) OnPublish(fn func(Type)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Subscribe registers a listener for the given event types (all types
// when none are given). The returned function cancels the subscription
// and closes the channel.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(types) > 0 {
		sub.filter = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.filter[t] = true
		}
	}

	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	key := b.nextID
	b.nextID++
	b.subs[key] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[key]; ok {
			delete(b.subs, key)
			close(s.ch)
		}
	}

	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber. It fills in
// the event ID and timestamp if unset and never blocks: a subscriber
// whose buffer is full misses the event.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = id.NewEventID()
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	if b.onPublish != nil {
		b.onPublish(evt.Type)
	}

	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter[evt.Type] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscriber; drop rather than stall the publisher.
		}
	}
}

// Close terminates all subscriptions. Further Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for key, sub := range b.subs {
		delete(b.subs, key)
		close(sub.ch)
	}
}
