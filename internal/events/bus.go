package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the subscriber channel size used when none is given.
const DefaultBufferSize = 256

// EventBus routes progress events to subscribers by topic. Notify never
// blocks: an event a full subscriber cannot take is dropped for that
// subscriber and counted. EventBus satisfies Sink.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscription
	closed  bool
	dropped atomic.Uint64
}

type subscription struct {
	ch     chan Event
	topics []string // empty: every topic
}

func (s *subscription) wants(topic string) bool {
	return len(s.topics) == 0 || slices.Contains(s.topics, topic)
}

// NewEventBus creates an event bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel receiving the events published on topics, or
// on every topic when none are given. The channel is closed by Close.
func (b *EventBus) Subscribe(bufSize int, topics ...string) <-chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, &subscription{ch: ch, topics: slices.Clone(topics)})
	return ch
}

// Attach subscribes s to topics and delivers events to it from a separate
// goroutine, so a slow sink never holds up Notify. The returned channel is
// closed once the bus is closed and every buffered event was delivered.
func (b *EventBus) Attach(s Sink, bufSize int, topics ...string) <-chan struct{} {
	sub := b.Subscribe(bufSize, topics...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub {
			s.Notify(e)
		}
	}()
	return done
}

// Notify publishes e on the topic returned by TopicFor.
func (b *EventBus) Notify(e Event) {
	topic := TopicFor(e)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.wants(topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later calls do nothing.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
