package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/stewart/internal/monitoring"
)

// DefaultQueueSize is the publish queue capacity used when none is given.
const DefaultQueueSize = 256

// Sink receives messages for one subscriber. An error marks the subscriber
// for removal; it is never retried.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

type subscriberState int

const (
	subscriberActive subscriberState = iota
	subscriberPendingRemoval
)

type subscriber struct {
	sink  Sink
	state subscriberState
}

// Broadcaster decouples producers from subscriber I/O. Publish only enqueues
// onto a bounded queue; a single consumer (Run) drains it and delivers to
// each active subscriber in turn. A subscriber whose Send fails is marked
// pending removal and purged before the next delivery, so one broken
// subscriber never stops delivery to the others.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber

	queue     chan Message
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewBroadcaster returns a Broadcaster with the given queue capacity, or
// DefaultQueueSize when size is not positive.
func NewBroadcaster(size int) *Broadcaster {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		queue:       make(chan Message, size),
	}
}

// Subscribe registers sink and returns its id.
func (b *Broadcaster) Subscribe(sink Sink) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = &subscriber{sink: sink}
	return id
}

// Unsubscribe removes the subscriber. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Count returns the number of active subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subscribers {
		if s.state == subscriberActive {
			n++
		}
	}
	return n
}

// Publish enqueues msg without blocking. It reports false, and counts a
// drop, when the queue is full.
func (b *Broadcaster) Publish(msg Message) bool {
	select {
	case b.queue <- msg:
		return true
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			monitoring.Logf("telemetry: publish queue full, %d messages dropped", n)
		}
		return false
	}
}

// PublishJSON encodes v and publishes it. Encoding failures are logged.
func (b *Broadcaster) PublishJSON(kind Kind, v any) bool {
	msg, err := Encode(kind, v)
	if err != nil {
		monitoring.Logf("telemetry: %v", err)
		return false
	}
	return b.Publish(msg)
}

// Dropped returns how many messages Publish has discarded.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Delivered returns how many successful sink deliveries have been made.
func (b *Broadcaster) Delivered() uint64 { return b.delivered.Load() }

// Run consumes the queue until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			b.deliver(ctx, msg)
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, msg Message) {
	type target struct {
		id   string
		sink Sink
	}

	b.mu.Lock()
	targets := make([]target, 0, len(b.subscribers))
	for id, s := range b.subscribers {
		if s.state == subscriberPendingRemoval {
			delete(b.subscribers, id)
			continue
		}
		targets = append(targets, target{id: id, sink: s.sink})
	}
	b.mu.Unlock()

	for _, t := range targets {
		if err := t.sink.Send(ctx, msg); err != nil {
			monitoring.Logf("telemetry: subscriber %s failed, removing: %v", t.id, err)
			b.mu.Lock()
			if s, ok := b.subscribers[t.id]; ok {
				s.state = subscriberPendingRemoval
			}
			b.mu.Unlock()
			continue
		}
		b.delivered.Add(1)
	}
}
