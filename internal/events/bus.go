package events

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Handler receives a published event.
type Handler func(ctx context.Context, e Event)

// Publisher is what components depend on to emit events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

const wildcard Name = "*"

type subscription struct {
	id      uint64
	name    Name
	handler Handler
}

// Bus is a synchronous publish/subscribe bus. Handlers run on the publisher's
// goroutine in registration order, specific subscribers before wildcard ones.
// A panicking handler is logged and does not stop delivery.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Name][]subscription
	nextID atomic.Uint64
	log    zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{subs: make(map[Name][]subscription), log: log}
}

// Subscribe registers h for events named name and returns a function that removes it.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID.Add(1)
	b.subs[name] = append(b.subs[name], subscription{id: id, name: name, handler: h})
	return func() { b.unsubscribe(name, id) }
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.Subscribe(wildcard, h)
}

func (b *Bus) unsubscribe(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	specific := append([]subscription(nil), b.subs[e.EventName()]...)
	all := append([]subscription(nil), b.subs[wildcard]...)
	b.mu.RUnlock()

	for _, s := range specific {
		b.safeCall(ctx, s.handler, e)
	}
	for _, s := range all {
		b.safeCall(ctx, s.handler, e)
	}
}

func (b *Bus) safeCall(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("event", string(e.EventName())).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("event handler panicked")
		}
	}()
	h(ctx, e)
}

// SubscriptionCount returns the number of registered handlers.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}
