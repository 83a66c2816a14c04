package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBus is an in-process Bus.
type memoryBus struct {
	mu           sync.Mutex
	subs         map[string][]*memorySub
	published    [][]byte
	publishErr   error
	subscribeErr error
	subscribes   int
}

type memorySub struct {
	ch   chan []byte
	once sync.Once
}

func (s *memorySub) Messages() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

func newMemoryBus() *memoryBus {
	return &memoryBus{subs: map[string][]*memorySub{}}
}

func (b *memoryBus) Publish(_ context.Context, channel string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, data)
	for _, s := range b.subs[channel] {
		s.ch <- data
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	s := &memorySub{ch: make(chan []byte, 8)}
	b.subs[channel] = append(b.subs[channel], s)
	return s, nil
}

func (b *memoryBus) subscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *memoryBus) subscribeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

type recordedBroadcast struct {
	room    string
	payload map[string]any
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []recordedBroadcast
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, room string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedBroadcast{room: room, payload: payload})
	return nil
}

func (r *recordingBroadcaster) snapshot() []recordedBroadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedBroadcast(nil), r.calls...)
}

func TestRedisPublisher_Broadcast(t *testing.T) {
	bus := newMemoryBus()
	pub := NewRedisPublisher(bus, "relay")

	require.NoError(t, pub.Broadcast(context.Background(), "42", map[string]any{"ai_response": "Hello"}))

	require.Len(t, bus.published, 1)
	var msg busMessage
	require.NoError(t, json.Unmarshal(bus.published[0], &msg))
	assert.Equal(t, "42", msg.Room)
	assert.Equal(t, "Hello", msg.Payload["ai_response"])
}

func TestRedisPublisher_PublishError(t *testing.T) {
	bus := newMemoryBus()
	bus.publishErr = errors.New("connection refused")
	pub := NewRedisPublisher(bus, "relay")

	err := pub.Broadcast(context.Background(), "42", map[string]any{})
	assert.ErrorIs(t, err, bus.publishErr)
}

func TestBridge_ForwardsToLocalHub(t *testing.T) {
	bus := newMemoryBus()
	local := &recordingBroadcaster{}
	bridge := NewBridge(bus, "relay", local, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscriberCount("relay") == 1 }, time.Second, 5*time.Millisecond)

	pub := NewRedisPublisher(bus, "relay")
	require.NoError(t, pub.Broadcast(ctx, "7", map[string]any{"patient_id": 7}))
	require.NoError(t, bus.Publish(ctx, "relay", []byte("not json")))
	require.NoError(t, pub.Broadcast(ctx, "8", map[string]any{"patient_id": 8}))

	require.Eventually(t, func() bool { return len(local.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	calls := local.snapshot()
	assert.Equal(t, "7", calls[0].room)
	assert.Equal(t, json.Number("7"), calls[0].payload["patient_id"])
	assert.Equal(t, "8", calls[1].room)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop after cancellation")
	}
}

func TestBridge_ResubscribesAfterFailure(t *testing.T) {
	bus := newMemoryBus()
	bus.subscribeErr = errors.New("redis down")
	bridge := NewBridge(bus, "relay", &recordingBroadcaster{}, nil)
	bridge.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.subscribeCalls() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
