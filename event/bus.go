// Package event implements the ordered fan-out bus carrying lifecycle and
// credential notifications to external consumers.
//
// Events come in two classes. Lifecycle events (connection, credential and
// pairing updates) are delivered at least once and in publish order; the
// most recent one per name is replayed to late subscribers, so consumers
// must tolerate duplicates. Message-plane events are best-effort: when a
// subscriber cannot keep up they are dropped, never buffered without
// bound.
//
// Each subscriber is served by a single dispatch goroutine, so one
// subscriber's callbacks never run concurrently with each other.
package event

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Name identifies an event stream.
type Name string

const (
	// ConnectionUpdate carries connection state transitions.
	ConnectionUpdate Name = "connection.update"
	// CredsUpdate carries a fresh credentials snapshot after mutation.
	CredsUpdate Name = "creds.update"
	// PairingUpdate carries the current pairing reference or code.
	PairingUpdate Name = "pairing.update"
	// DecryptFailure reports a per-message decryption failure.
	// Message-plane: best-effort delivery.
	DecryptFailure Name = "message.decrypt-failure"
)

// lifecycle reports whether a name gets the ordered at-least-once
// treatment with replay.
func (n Name) lifecycle() bool {
	switch n {
	case ConnectionUpdate, CredsUpdate, PairingUpdate:
		return true
	}
	return false
}

// Event is one published notification.
type Event struct {
	Name    Name
	Payload any
}

// Handler consumes events for one subscriber. Handlers for the same
// subscription are never invoked concurrently.
type Handler func(Event)

// subscriberBuffer bounds the per-subscriber queue. Lifecycle publishes
// block on a full queue; best-effort publishes drop instead.
const subscriberBuffer = 64

type subscriber struct {
	names map[Name]bool
	ch    chan Event
	done  chan struct{}
}

func (s *subscriber) wants(n Name) bool {
	return len(s.names) == 0 || s.names[n]
}

// Bus is the fan-out hub. The zero value is not usable; call NewBus.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	last   map[Name]Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{last: make(map[Name]Event)}
}

// Subscribe registers handler for the given event names (all events when
// none are named). The returned cancel function stops delivery and
// releases the dispatch goroutine. The latest lifecycle event per
// subscribed name is replayed immediately.
func (b *Bus) Subscribe(handler Handler, names ...Name) (cancel func()) {
	sub := &subscriber{
		names: make(map[Name]bool, len(names)),
		ch:    make(chan Event, subscriberBuffer),
		done:  make(chan struct{}),
	}
	for _, n := range names {
		sub.names[n] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	// Replay retained lifecycle events so a late subscriber still sees
	// the current state. Duplicates are the consumer's problem by
	// contract.
	for _, n := range []Name{ConnectionUpdate, CredsUpdate, PairingUpdate} {
		if evt, ok := b.last[n]; ok && sub.wants(n) {
			sub.ch <- evt
		}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case evt := <-sub.ch:
				handler(evt)
			case <-sub.done:
				// Drain what was already queued to honor at-least-once
				// for lifecycle events published before cancel.
				for {
					select {
					case evt := <-sub.ch:
						handler(evt)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Publish fans an event out to all matching subscribers. Lifecycle events
// block until queued (preserving order and at-least-once); best-effort
// events are dropped for subscribers that lag.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if evt.Name.lifecycle() {
		b.last[evt.Name] = evt
	}
	subs := append([]*subscriber(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.wants(evt.Name) {
			continue
		}
		if evt.Name.lifecycle() {
			select {
			case sub.ch <- evt:
			case <-sub.done:
			}
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Publish",
				"package":  "event",
				"event":    string(evt.Name),
			}).Debug("Dropping best-effort event for slow subscriber")
		}
	}
}

// Close stops the bus. Subscribers drain what was already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}
