// Package notify fans graph change notifications out to in-process subscribers.
package notify

import (
	"sync"
	"time"

	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// Action is what happened to an entity.
type Action string

const (
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	// ActionReload means the whole graph was replaced by a source switch.
	ActionReload Action = "reload"
)

// Origin tells whether a change came from this process or from the filesystem.
type Origin string

const (
	OriginLocal    Origin = "local"
	OriginExternal Origin = "external"
)

// Event is one change notification.
type Event struct {
	Kind   schema.Kind `json:"entityKind,omitempty"`
	Action Action      `json:"action"`
	ID     string      `json:"id,omitempty"`
	Origin Origin      `json:"origin"`
	// Source is the data source id, set on reload events.
	Source string    `json:"source,omitempty"`
	Time   time.Time `json:"time"`
}

// Bus delivers every published Event to every subscriber.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Subscribe registers a subscriber with the given channel buffer.
// cancel unregisters it and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int) (events <-chan Event, cancel func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish stamps e with the current time if unset and delivers it.
// It returns the number of subscribers that received the event.
func (b *Bus) Publish(e Event) int {
	if e.Time.IsZero() {
		e.Time = b.now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
