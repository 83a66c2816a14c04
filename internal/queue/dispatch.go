package queue

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"notifyrelay/internal/types"
)

// dispatcher runs handler invocations for one consumer on at most `workers`
// goroutines. With one worker, messages are handled strictly in order.
type dispatcher struct {
	ctx     context.Context
	handler Handler
	logger  types.Logger
	group   errgroup.Group
}

func newDispatcher(ctx context.Context, workers int, h Handler, logger types.Logger) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	d := &dispatcher{ctx: ctx, handler: h, logger: logger}
	d.group.SetLimit(workers)
	return d
}

// dispatch blocks until a worker slot is free, then handles d on it.
func (p *dispatcher) dispatch(d *Delivery) {
	p.group.Go(func() error {
		handleSafely(p.ctx, p.handler, d, p.logger)
		return nil
	})
}

// wait blocks until every in-flight handler has returned.
func (p *dispatcher) wait() {
	_ = p.group.Wait()
}

// handleSafely decodes the body, runs the handler, and guarantees the
// delivery is settled afterwards. A panicking handler is logged and its
// message acknowledged so it cannot wedge the queue.
func handleSafely(ctx context.Context, h Handler, d *Delivery, logger types.Logger) {
	log := logger.With("queue", d.Queue, "message_id", d.ID, "redelivered", d.Redelivered)

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked, acknowledging message",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		if !d.Settled() {
			if err := d.Ack(); err != nil {
				log.Error("failed to acknowledge message", "error", err)
			}
		}
	}()

	if d.ContentEncoding != EncodingIdentity {
		body, err := DecodeBody(d.ContentEncoding, d.Body)
		if err != nil {
			log.Error("failed to decode message body, discarding",
				"content_encoding", d.ContentEncoding,
				"error", err,
			)
			return
		}
		d.Body = body
		d.ContentEncoding = EncodingIdentity
	}

	h(ctx, d)
}
