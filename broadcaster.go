package walletauth

import (
	"sync"
	"time"
)

// PushEvent is the unit delivered over the push channel.
type PushEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const defaultSubscriberBuffer = 16

// Broadcaster fans session events out to push subscribers. Each subscriber
// watches a single session id. Publish never blocks: a subscriber that
// cannot keep up has events dropped with a log line.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]map[int]chan PushEvent
	nextID  int
	bufSize int
	logger  Logger
}

// BroadcasterOption customizes broadcaster construction.
type BroadcasterOption func(*Broadcaster)

// WithBroadcasterLogger overrides the broadcaster logger.
func WithBroadcasterLogger(logger Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBroadcasterBuffer sets the per-subscriber channel buffer.
func WithBroadcasterBuffer(size int) BroadcasterOption {
	return func(b *Broadcaster) {
		if size > 0 {
			b.bufSize = size
		}
	}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		subs:    make(map[string]map[int]chan PushEvent),
		bufSize: defaultSubscriberBuffer,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers interest in events for sessionID. The returned cancel
// function must be called when the subscriber goes away; it closes the
// channel.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan PushEvent, func()) {
	ch := make(chan PushEvent, b.bufSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan PushEvent)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		group, ok := b.subs[sessionID]
		if !ok {
			return
		}
		if sub, exists := group[id]; exists {
			delete(group, id)
			close(sub)
		}
		if len(group) == 0 {
			delete(b.subs, sessionID)
		}
	}

	return ch, cancel
}

// Publish delivers event to every subscriber of its session. Slow
// subscribers lose the event rather than stalling the publisher.
func (b *Broadcaster) Publish(event PushEvent) {
	// Sends stay under the read lock: closing a channel requires the write
	// lock, so a send can never race a concurrent cancel.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping push event for slow subscriber", "session", event.SessionID, "type", event.Type)
		}
	}
}

// SubscriberCount returns the number of subscribers for a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
