package events

import (
	"sync"

	"github.com/modelbench-go/pkg/metrics"
)

// DefaultChannelDepth is the per-subscriber backlog used when the caller
// passes a non-positive depth.
const DefaultChannelDepth = 1000

// Bus is a lossy broadcast channel. Subscribers receive events published
// after they subscribed, in publish order. A subscriber that falls behind
// loses its oldest undelivered events once its backlog exceeds the configured
// depth; producers are never blocked by slow consumers.
type Bus struct {
	mu    sync.RWMutex
	subs  map[*Subscription]struct{}
	depth int
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// NewBus creates a bus with the given per-subscriber backlog depth.
func NewBus(depth int) *Bus {
	if depth <= 0 {
		depth = DefaultChannelDepth
	}
	return &Bus{
		subs:  make(map[*Subscription]struct{}),
		depth: depth,
	}
}

// Subscribe registers a new subscriber. The caller must drain C() and call
// Unsubscribe when done.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, b.depth),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish fans the event out to every live subscriber. Publishing with no
// subscribers is not an error.
func (b *Bus) Publish(event Event) {
	metrics.EventsPublished.WithLabelValues(event.Type).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		sub.offer(event)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// offer enqueues the event, dropping the oldest backlog entry when full.
// The per-subscription mutex keeps publish order intact for that subscriber
// even when two publishers race on a full channel.
func (s *Subscription) offer(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
			metrics.EventsDropped.Inc()
		default:
		}
	}
}

// C returns the receive channel. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events this subscriber lost to backlog overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Unsubscribe detaches from the bus and closes the channel.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.bus.remove(s)
}
