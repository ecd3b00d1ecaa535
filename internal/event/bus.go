// Package event provides a typed, synchronous pub/sub fan-out used by the
// session manager and the interactive subagent scope to surface session and
// subagent lifecycle events to any number of listeners.
package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Subscriber is a function that receives events. Subscribers are expected to
// return quickly; PublishSync calls them in the publisher's goroutine, and a
// slow subscriber blocks every other listener and the caller.
type Subscriber func(Event)

// PanicHandler is invoked when a subscriber panics during dispatch, so the
// bus can keep running without taking a logging dependency of its own.
// Defaults to a no-op; hosts install one backed by internal/logging.
type PanicHandler func(eventType EventType, recovered any)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is the event bus. It dispatches directly to registered subscriber
// functions rather than through a message-broker transport, the same
// type-safe Subscribe/Publish/PublishSync split the reference opencode event
// package this one is grounded on uses.
type Bus struct {
	mu sync.RWMutex

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context

	onPanic PanicHandler
}

var globalBus = newBus()

func newBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subscribers:  make(map[EventType][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
		onPanic:      func(EventType, any) {},
	}
}

// NewBus creates a standalone bus instance, independent of the process-wide
// global bus. A host typically constructs one Bus and shares it across the
// session manager and every subagent scope it binds.
func NewBus() *Bus { return newBus() }

// SetPanicHandler installs the callback invoked when a subscriber panics
// during dispatch. Per spec §4.6, a listener exception must not abort the
// emission loop; it is caught, reported via this handler, and emission
// continues with the remaining subscribers.
func (b *Bus) SetPanicHandler(h PanicHandler) {
	if h == nil {
		h = func(EventType, any) {}
	}
	b.mu.Lock()
	b.onPanic = h
	b.mu.Unlock()
}

func (b *Bus) newID() uint64 { return atomic.AddUint64(&b.nextID, 1) }

// Subscribe registers fn for a specific event type and returns an unsubscribe
// function. Calling the returned function more than once is a no-op.
func Subscribe(eventType EventType, fn Subscriber) func() { return globalBus.Subscribe(eventType, fn) }

func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribe(eventType, id) }
}

// SubscribeAll registers fn for every event type.
func SubscribeAll(fn Subscriber) func() { return globalBus.SubscribeAll(fn) }

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

func (b *Bus) collect(eventType EventType) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, entry := range b.subscribers[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Publish delivers evt to every matching subscriber asynchronously, one
// goroutine per subscriber. Use PublishSync where ordering matters: §5's
// ordering guarantees depend on synchronous, in-subscription-order delivery.
func Publish(evt Event) { globalBus.Publish(evt) }

func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, sub := range b.collect(evt.Type) {
		go b.dispatch(sub, evt)
	}
}

// PublishSync delivers evt to every matching subscriber synchronously, in
// subscription order, on the caller's goroutine, before returning. This is
// the delivery mode the session manager and subagent scope use.
func PublishSync(evt Event) { globalBus.PublishSync(evt) }

func (b *Bus) PublishSync(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, sub := range b.collect(evt.Type) {
		b.dispatch(sub, evt)
	}
}

func (b *Bus) dispatch(sub Subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.RLock()
			h := b.onPanic
			b.mu.RUnlock()
			h(evt.Type, r)
		}
	}()
	sub(evt)
}

// Close stops the bus. Further Subscribe/Publish calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return nil
}

// Reset clears all subscribers from the global bus. Test-only.
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.closedCancel()
	globalBus.mu.Unlock()

	globalBus = newBus()
}

// String implements fmt.Stringer for readable test failure output.
func (e Event) String() string {
	return fmt.Sprintf("%s[session=%s]", e.Type, e.SessionID)
}
