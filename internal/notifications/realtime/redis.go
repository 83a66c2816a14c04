package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"notifyrelay/internal/types"
)

// Bus is the pub/sub transport shared by relay instances.
type Bus interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers raw channel messages until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// busMessage is the wire form of a broadcast on the shared channel.
type busMessage struct {
	Room    string         `json:"room"`
	Payload map[string]any `json:"payload"`
}

// RedisBus implements Bus on go-redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus parses a redis:// URL and returns a bus over a new client.
func NewRedisBus(url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBus{client: redis.NewClient(opts)}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, data []byte) error {
	return b.client.Publish(ctx, channel, data).Err()
}

// Subscribe waits for the subscription to be confirmed before returning.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan []byte)}
	go sub.pump()
	return sub, nil
}

// Ping reports whether redis is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	once sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- []byte(msg.Payload)
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		// Unblock pump if nobody is reading anymore.
		go func() {
			for range s.out {
			}
		}()
	})
	return err
}

// RedisPublisher is a core.RealtimeSink that publishes broadcasts to the
// shared channel instead of writing to local sessions.
type RedisPublisher struct {
	bus     Bus
	channel string
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(bus Bus, channel string) *RedisPublisher {
	return &RedisPublisher{bus: bus, channel: channel}
}

func (p *RedisPublisher) Broadcast(ctx context.Context, room string, payload map[string]any) error {
	data, err := json.Marshal(busMessage{Room: room, Payload: payload})
	if err != nil {
		return fmt.Errorf("realtime: encode bus message: %w", err)
	}
	if err := p.bus.Publish(ctx, p.channel, data); err != nil {
		return fmt.Errorf("realtime: publish to %s: %w", p.channel, err)
	}
	return nil
}

// Broadcaster is the local fan-out a Bridge feeds.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, payload map[string]any) error
}

// DefaultResubscribeDelay is the wait between bridge subscription attempts.
const DefaultResubscribeDelay = 5 * time.Second

// Bridge subscribes to the shared channel and rebroadcasts each message to
// the local Hub.
type Bridge struct {
	bus        Bus
	channel    string
	local      Broadcaster
	logger     types.Logger
	retryDelay time.Duration
}

// NewBridge creates a Bridge.
func NewBridge(bus Bus, channel string, local Broadcaster, logger types.Logger) *Bridge {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Bridge{
		bus:        bus,
		channel:    channel,
		local:      local,
		logger:     logger.With("channel", channel),
		retryDelay: DefaultResubscribeDelay,
	}
}

// Run keeps the bridge subscribed until ctx is cancelled, resubscribing after
// a delay whenever the subscription fails or ends.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		err := b.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Error("realtime bridge interrupted, resubscribing",
			"error", err,
			"retry_in", b.retryDelay.String(),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.retryDelay):
		}
	}
}

func (b *Bridge) consume(ctx context.Context) error {
	sub, err := b.bus.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	defer sub.Close()
	b.logger.Info("realtime bridge subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("realtime: subscription to %s closed", b.channel)
			}
			b.forward(ctx, data)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, data []byte) {
	var msg busMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil || msg.Room == "" {
		b.logger.Warn("ignoring malformed bus message", "error", err, "bytes", len(data))
		return
	}
	if err := b.local.Broadcast(ctx, msg.Room, msg.Payload); err != nil {
		b.logger.Warn("local broadcast failed", "room", msg.Room, "error", err)
	}
}
