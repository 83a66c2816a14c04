// Package listener keeps the relay attached to its broker. The Supervisor
// connects, declares and consumes every configured queue, and when anything
// goes wrong it tears the connection down, waits, and starts over. It never
// gives up on its own; only cancellation stops it.
package listener

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"notifyrelay/internal/queue"
	"notifyrelay/internal/types"
)

// DefaultBackoff is the wait between a failure and the next connect attempt.
const DefaultBackoff = 5 * time.Second

// State is the supervisor's lifecycle position.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// BackoffPolicy decides how long to wait before reconnect attempt n (1-based
// count of consecutive failures).
type BackoffPolicy interface {
	Next(failures int) time.Duration
}

// FixedBackoff waits the same duration after every failure.
type FixedBackoff time.Duration

func (b FixedBackoff) Next(int) time.Duration { return time.Duration(b) }

// ReconnectRecorder counts reconnect attempts.
type ReconnectRecorder interface {
	RecordReconnect(ctx context.Context)
}

// Route binds a queue to the handler that settles its messages.
type Route struct {
	Queue   string
	Handler queue.Handler
}

// Supervisor owns the connect/consume/reconnect loop.
type Supervisor struct {
	broker  queue.Broker
	routes  []Route
	backoff BackoffPolicy
	metrics ReconnectRecorder
	logger  types.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithBackoff replaces the fixed 5s backoff.
func WithBackoff(p BackoffPolicy) Option {
	return func(s *Supervisor) {
		if p != nil {
			s.backoff = p
		}
	}
}

// WithReconnectRecorder reports every reconnect attempt.
func WithReconnectRecorder(r ReconnectRecorder) Option {
	return func(s *Supervisor) { s.metrics = r }
}

// NewSupervisor creates a stopped Supervisor.
func NewSupervisor(broker queue.Broker, routes []Route, logger types.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = types.NopLogger{}
	}
	s := &Supervisor{
		broker:  broker,
		routes:  routes,
		backoff: FixedBackoff(DefaultBackoff),
		logger:  logger.With("broker", broker.Name()),
		sleep:   sleepContext,
		state:   StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Consuming reports whether the supervisor is attached to the broker.
func (s *Supervisor) Consuming() bool {
	return s.State() == StateConsuming
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start launches Run on its own goroutine and returns immediately. Calling
// Start on a running supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels a supervisor launched with Start and waits for it to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled, reconnecting after every failure. A
// supervisor without routes has nothing to consume and returns at once.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.setState(StateStopped)

	if len(s.routes) == 0 {
		s.logger.Error("listener has no queues to consume, not starting")
		return
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.session(ctx)
		if ctx.Err() != nil {
			s.logger.Info("listener stopped")
			return
		}

		failures++
		wait := s.backoff.Next(failures)
		s.setState(StateConnecting)
		s.logger.Error("listener disconnected, reconnecting",
			"error", err,
			"attempt", failures,
			"retry_in", wait.String(),
		)
		if s.sleep(ctx, wait) != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.RecordReconnect(ctx)
		}
	}
}

// session runs one connection lifetime: connect, declare every queue, then
// consume them concurrently until one fails or ctx ends. A panic in the
// session or in any consume goroutine is converted to an error so the loop
// keeps going.
func (s *Supervisor) session(ctx context.Context) (err error) {
	defer s.recoverPanic(&err)

	s.setState(StateConnecting)
	conn, err := s.broker.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, queue.ErrConnectionClosed) {
			s.logger.Warn("error closing broker connection", "error", cerr)
		}
	}()

	for _, r := range s.routes {
		if err := conn.Declare(ctx, r.Queue); err != nil {
			return err
		}
	}

	s.setState(StateConsuming)
	s.logger.Info("listener consuming", "queues", s.queueNames())

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.routes {
		g.Go(func() (err error) {
			defer s.recoverPanic(&err)
			if err := conn.Consume(gctx, r.Queue, s.wrap(r)); err != nil {
				return err
			}
			if ctx.Err() == nil {
				return &queue.ConnectionError{Op: "consume", Err: fmt.Errorf("%s: %w", r.Queue, queue.ErrConnectionClosed)}
			}
			return nil
		})
	}
	return g.Wait()
}

// recoverPanic turns a panic on the calling goroutine into *err.
func (s *Supervisor) recoverPanic(err *error) {
	r := recover()
	if r == nil {
		return
	}
	*err = fmt.Errorf("listener panic: %v", r)
	s.logger.Error("recovered panic in listener session",
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()),
	)
}

// wrap gives each message its own context carrying the message ID and an
// enriched logger.
func (s *Supervisor) wrap(r Route) queue.Handler {
	log := s.logger.With("queue", r.Queue)
	return func(ctx context.Context, d *queue.Delivery) {
		ctx = types.WithMessageID(ctx, d.ID)
		ctx = types.WithLogger(ctx, log.With("message_id", d.ID))
		r.Handler(ctx, d)
	}
}

func (s *Supervisor) queueNames() []string {
	names := make([]string, len(s.routes))
	for i, r := range s.routes {
		names[i] = r.Queue
	}
	return names
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
