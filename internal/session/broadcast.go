package session

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/codedeck/deckd/internal/event"
)

// Subscriber receives every output and lifecycle event for one session.
type Subscriber func(event.Event)

// broadcaster fans one event out to every registered subscriber. A panicking
// subscriber is recovered and logged; it stays registered and never blocks
// delivery to the others. Events are delivered to all subscribers in the
// order they were produced.
type broadcaster struct {
	mu    sync.Mutex
	subs  map[string]Subscriber
	order []string
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]Subscriber)}
}

// Add registers a subscriber and returns an idempotent removal closure.
func (b *broadcaster) Add(fn Subscriber) func() {
	id := uuid.New().String()

	b.mu.Lock()
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(id)
		})
	}
}

func (b *broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, existing := range b.order {
		if existing == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers one event to all current subscribers in registration order.
// The mutex is held for the whole delivery so per-session ordering is
// preserved across concurrent publishers.
func (b *broadcaster) Publish(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.order {
		fn, ok := b.subs[id]
		if !ok {
			continue
		}
		b.invoke(fn, ev)
	}
}

func (b *broadcaster) invoke(fn Subscriber, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: subscriber panicked on %s event: %v", ev.SessionID, ev.Kind, r)
		}
	}()
	fn(ev)
}

// Clear drops every subscriber. Called when the session is destroyed.
func (b *broadcaster) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]Subscriber)
	b.order = nil
}

// Count returns the number of registered subscribers.
func (b *broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
