// Package queue provides the broker-facing side of the relay: connecting to a
// durable message queue, declaring queues, and handing each received message
// to a handler that must settle it exactly once.
//
// Two drivers are provided: AMQP 0-9-1 (RabbitMQ) and AWS SQS. Both share the
// dispatch path in dispatch.go, which owns panic recovery, body decoding and the
// bounded worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadySettled is returned by Ack/Nack on a delivery that has already been
// acknowledged or rejected. The second call has no effect on the broker.
var ErrAlreadySettled = errors.New("queue: delivery already settled")

// ErrConnectionClosed is the cause recorded when the broker closes the
// connection or delivery stream without reporting a reason.
var ErrConnectionClosed = errors.New("queue: connection closed")

// ConnectionError reports a failure to reach the broker or the loss of an
// established connection. The supervisor treats it as retryable.
type ConnectionError struct {
	Op   string // dial, declare, consume, receive
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("queue: %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("queue: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Handler processes one delivery. It must settle the delivery; if it returns
// without doing so the dispatcher acknowledges it.
type Handler func(ctx context.Context, d *Delivery)

// Broker opens connections to a message broker.
type Broker interface {
	Connect(ctx context.Context) (Connection, error)
	// Name identifies the driver and endpoint in logs.
	Name() string
}

// Connection is one live session with the broker. Several queues may be
// consumed concurrently over the same Connection.
type Connection interface {
	// Declare ensures the named queue exists and is durable. Idempotent.
	Declare(ctx context.Context, queue string) error
	// Consume blocks, invoking h for every message on queue. It returns nil
	// when ctx is cancelled and a *ConnectionError when the session is lost.
	Consume(ctx context.Context, queue string, h Handler) error
	Close() error
}

// Message is the broker-neutral view of a received message.
type Message struct {
	ID              string
	Queue           string
	Body            []byte
	ContentEncoding string
	Redelivered     bool
	// Timestamp is when the producer sent the message, zero if unknown.
	Timestamp time.Time
}

// Acknowledger performs the broker-side settlement of a single message.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is a received message together with its settle-once guard.
type Delivery struct {
	Message

	acker   Acknowledger
	mu      sync.Mutex
	settled bool
}

// NewDelivery wraps msg so that at most one Ack or Nack reaches acker.
func NewDelivery(msg Message, acker Acknowledger) *Delivery {
	return &Delivery{Message: msg, acker: acker}
}

// Ack acknowledges the message, removing it from the queue.
func (d *Delivery) Ack() error {
	if !d.claim() {
		return ErrAlreadySettled
	}
	return d.acker.Ack()
}

// Nack rejects the message. With requeue the broker redelivers it; without,
// it is discarded (or dead-lettered by broker policy).
func (d *Delivery) Nack(requeue bool) error {
	if !d.claim() {
		return ErrAlreadySettled
	}
	return d.acker.Nack(requeue)
}

// Settled reports whether Ack or Nack has been called.
func (d *Delivery) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

// Age is how long the message waited in the queue, zero if unknown.
func (d *Delivery) Age(now time.Time) time.Duration {
	if d.Timestamp.IsZero() || now.Before(d.Timestamp) {
		return 0
	}
	return now.Sub(d.Timestamp)
}

func (d *Delivery) claim() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}
