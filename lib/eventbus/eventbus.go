// Package eventbus implements the topic-keyed fan-out pub/sub that carries
// terminal output, session lifecycle, sync progress, and auth events to
// subscribers. Delivery is best-effort in order per topic: a slow
// subscriber drops its own oldest queued events rather than blocking the
// producer or other subscribers.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Event is one published payload, tagged with the topic it was published on.
type Event struct {
	Topic   string
	Payload interface{}
}

// Subscription is a cancellable handle returned by Subscribe. Events arrive
// on C until Cancel is called or the bus is closed.
type Subscription struct {
	C <-chan Event

	bus      *Bus
	topic    string
	id       uint64
	c        chan Event
	dropped  uint64
	cancelled bool
	mu       sync.Mutex
}

// Dropped returns the number of events dropped for this subscriber so far
// because its queue was full, so callers can surface it to the user.
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Cancel unsubscribes and releases the handle. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()
	s.bus.unsubscribe(s.topic, s.id)
}

// Config configures a Bus.
type Config struct {
	// QueueSize bounds the number of buffered events per subscriber before
	// the oldest is dropped to make room for the newest.
	QueueSize int
	Log       logrus.FieldLogger
}

// CheckAndSetDefaults validates and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return nil
}

// Bus is a topic-keyed fan-out publish/subscribe hub.
type Bus struct {
	Config
	log logrus.FieldLogger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription
}

// New constructs a Bus.
func New(cfg Config) (*Bus, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Bus{
		Config: cfg,
		log:    cfg.Log.WithField(trace.Component, "eventbus"),
		subs:   make(map[string]map[uint64]*Subscription),
	}, nil
}

// Subscribe registers for topic and returns a handle whose C channel
// receives every Publish call on that topic until Cancel is called.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	c := make(chan Event, b.QueueSize)
	sub := &Subscription{C: c, bus: b, topic: topic, id: id, c: c}

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][id] = sub
	return sub
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[topic]; ok {
		if sub, ok := subs[id]; ok {
			close(sub.c)
			delete(subs, id)
		}
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Publish delivers payload to every subscriber of topic. A subscriber whose
// queue is full has its oldest queued event dropped to make room; the drop
// is counted on that subscriber's Dropped().
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{Topic: topic, Payload: payload}
	for _, sub := range b.subs[topic] {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *Subscription, event Event) {
	select {
	case sub.c <- event:
		return
	default:
	}

	// Queue is full: drop the oldest buffered event to make room for the
	// newest, then count the drop. This keeps the bus non-blocking for
	// producers even under a stalled subscriber.
	select {
	case <-sub.c:
		atomic.AddUint64(&sub.dropped, 1)
	default:
	}
	select {
	case sub.c <- event:
	default:
		// Another goroutine raced us and refilled the queue; count this
		// event as dropped rather than blocking the publisher.
		atomic.AddUint64(&sub.dropped, 1)
	}
}

// Close cancels every subscription and releases resources.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for id, sub := range subs {
			close(sub.c)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}
