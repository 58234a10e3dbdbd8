package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *recordingSink) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *recordingSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Kind, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Kind
	}
	return out
}

func rawMsg(t *testing.T, text string) Message {
	t.Helper()
	msg, err := Encode(KindRaw, RawPayload{Type: KindRaw, Raw: text})
	require.NoError(t, err)
	return msg
}

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster(0)
	a, c := &recordingSink{}, &recordingSink{}
	b.Subscribe(a)
	b.Subscribe(c)
	assert.Equal(t, 2, b.Count())

	for _, k := range []Kind{KindTelemetry, KindRaw, KindMotionTick} {
		require.True(t, b.Publish(Message{Kind: k, Body: []byte(`{}`)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.Eventually(t, func() bool { return a.count() == 3 && c.count() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []Kind{KindTelemetry, KindRaw, KindMotionTick}, a.kinds())
	assert.Equal(t, a.kinds(), c.kinds())
	assert.Equal(t, uint64(6), b.Delivered())
}

func TestBroadcaster_BrokenSubscriberPurged(t *testing.T) {
	b := NewBroadcaster(8)
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("connection reset")}
	b.Subscribe(good)
	badID := b.Subscribe(bad)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(rawMsg(t, "one"))
	require.Eventually(t, func() bool { return good.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, time.Millisecond)

	b.Publish(rawMsg(t, "two"))
	require.Eventually(t, func() bool { return good.count() == 2 }, time.Second, time.Millisecond)

	b.mu.Lock()
	_, stillThere := b.subscribers[badID]
	b.mu.Unlock()
	assert.False(t, stillThere, "pending removal subscriber is purged on the next sweep")
}

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster(4)
	for i := range 10 {
		ok := b.Publish(rawMsg(t, "x"))
		assert.Equal(t, i < 4, ok)
	}
	assert.Equal(t, uint64(6), b.Dropped())
}

func TestBroadcaster_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcaster(2)
	release := make(chan struct{})
	b.Subscribe(SinkFunc(func(ctx context.Context, msg Message) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	msg := rawMsg(t, "x")
	done := make(chan struct{})
	go func() {
		for range 50 {
			b.Publish(msg)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked behind a slow subscriber")
	}
	close(release)
	assert.Positive(t, b.Dropped())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(4)
	s := &recordingSink{}
	id := b.Subscribe(s)
	b.Unsubscribe(id)
	b.Unsubscribe("unknown")
	assert.Zero(t, b.Count())

	b.Publish(rawMsg(t, "x"))
	b.deliver(context.Background(), <-b.queue)
	assert.Zero(t, s.count())
}

func TestBroadcaster_PublishJSON(t *testing.T) {
	b := NewBroadcaster(1)
	assert.True(t, b.PublishJSON(KindRaw, RawPayload{Type: KindRaw, Raw: "x"}))
	assert.False(t, b.PublishJSON(KindRaw, map[string]any{"bad": func() {}}))

	msg := <-b.queue
	assert.JSONEq(t, `{"type":"raw","ts":0,"raw":"x"}`, string(msg.Body))
}

func TestBroadcaster_RunStopsOnCancel(t *testing.T) {
	b := NewBroadcaster(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
