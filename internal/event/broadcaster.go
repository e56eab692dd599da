package event

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loykin/devdash/internal/metrics"
)

var (
	ErrClosed             = errors.New("broadcaster closed")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// DefaultBuffer is the channel capacity used when Subscribe is given a
// non-positive size.
const DefaultBuffer = 64

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(Event)
}

// Subscription is one observer. C is closed on Unsubscribe or Close.
type Subscription struct {
	ID string
	C  <-chan Event
}

// Stats counts deliveries to one subscriber.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriber struct {
	ch      chan Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Broadcaster fans events out to every subscriber without ever blocking the
// publisher: a subscriber whose buffer is full misses the event. Events from
// a single publishing goroutine arrive at each subscriber in publish order.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	closed    bool
	published atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*subscriber)}
}

// Subscribe registers a new observer with the given buffer size.
func (b *Broadcaster) Subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := uuid.NewString()
	s := &subscriber{ch: make(chan Event, buffer)}
	b.subs[id] = s
	metrics.SetSubscribers(len(b.subs))
	return &Subscription{ID: id, C: s.ch}, nil
}

// Unsubscribe removes the observer and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	close(s.ch)
	metrics.SetSubscribers(len(b.subs))
	return nil
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	metrics.IncEventPublished(string(e.Type))
	for _, s := range b.subs {
		select {
		case s.ch <- e:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
			metrics.IncEventDropped()
		}
	}
}

// Stats returns delivery counters for a subscriber.
func (b *Broadcaster) Stats(id string) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.subs[id]
	if !ok {
		return Stats{}, ErrSubscriberNotFound
	}
	return Stats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}, nil
}

// Published returns the number of events published so far.
func (b *Broadcaster) Published() uint64 { return b.published.Load() }

// Subscribers returns the current number of subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel; later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
	metrics.SetSubscribers(0)
}
