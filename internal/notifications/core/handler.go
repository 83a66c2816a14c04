package core

import (
	"context"
	"errors"
	"time"

	"notifyrelay/internal/queue"
	"notifyrelay/internal/types"
)

// Deliverer routes a decoded event to its sinks.
type Deliverer interface {
	Deliver(ctx context.Context, ev types.NotificationEvent) DeliveryOutcome
}

// deadLetterTimeout bounds the dead-letter write so a slow database cannot
// hold the delivery unsettled.
const deadLetterTimeout = 5 * time.Second

// NotificationHandler is the per-message entry point for the notification
// queue: decode, route, dead-letter on chat failure, acknowledge.
//
// Every message is acknowledged exactly once. Malformed messages are dropped
// because redelivering them cannot succeed; chat failures are dead-lettered
// instead of requeued so a dead chat platform cannot spin the queue.
type NotificationHandler struct {
	router      Deliverer
	deadLetters DeadLetterRepository
	metrics     NotificationMetrics
	logger      types.Logger
	now         func() time.Time
}

// NewNotificationHandler creates a handler. deadLetters may be nil, in which
// case failed deliveries are only logged.
func NewNotificationHandler(router Deliverer, deadLetters DeadLetterRepository, metrics NotificationMetrics, logger types.Logger) *NotificationHandler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &NotificationHandler{
		router:      router,
		deadLetters: deadLetters,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle satisfies queue.Handler.
func (h *NotificationHandler) Handle(ctx context.Context, d *queue.Delivery) {
	log := messageLogger(ctx, h.logger, d)
	defer settle(d, log)

	h.metrics.RecordQueueLag(ctx, d.Queue, d.Age(h.now()))

	ev, ignored, err := DecodeNotification(d.Body)
	if err != nil {
		h.metrics.RecordDecodeFailure(ctx, d.Queue)
		log.Error("discarding malformed notification",
			"error", err,
			"redelivered", d.Redelivered,
			"body_bytes", len(d.Body),
		)
		return
	}

	log = log.With("patient_id", ev.SubjectID, "has_audio", ev.HasAudio())
	for _, fe := range ignored {
		log.Warn("ignoring unusable optional field", "field", fe.Field, "error", fe)
	}
	ctx = types.WithMessageID(ctx, d.ID)
	ctx = types.WithLogger(ctx, log)

	outcome := h.router.Deliver(ctx, ev)
	if !outcome.Failed() {
		log.Info("notification delivered",
			"realtime_ok", outcome.RealtimeErr == nil,
			"chat_skipped", outcome.ChatSkipped,
		)
		return
	}

	log.Error("chat push failed",
		"stage", string(outcome.Stage),
		"error", outcome.Err,
	)
	h.deadLetter(ctx, d, ev, outcome, log)
}

func (h *NotificationHandler) deadLetter(ctx context.Context, d *queue.Delivery, ev types.NotificationEvent, outcome DeliveryOutcome, log types.Logger) {
	if h.deadLetters == nil {
		log.Warn("no dead-letter store configured, notification dropped",
			"stage", string(outcome.Stage),
			"payload", ev.Payload,
		)
		return
	}

	// The consume context may be cancelled during shutdown; the record should
	// still be written.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()

	dl := types.DeadLetter{
		MessageID: d.ID,
		Queue:     d.Queue,
		SubjectID: ev.SubjectID,
		Stage:     string(outcome.Stage),
		Reason:    outcome.Reason,
		Payload:   ev.Payload,
		CreatedAt: h.now().UTC(),
	}
	if err := h.deadLetters.Record(writeCtx, dl); err != nil {
		log.Error("failed to record dead letter", "error", err, "payload", ev.Payload)
		return
	}
	log.Info("notification dead-lettered", "stage", string(outcome.Stage))
}

// messageLogger prefers the per-message logger the listener put in ctx and
// otherwise derives one from fallback.
func messageLogger(ctx context.Context, fallback types.Logger, d *queue.Delivery) types.Logger {
	if l := types.LoggerFromContext(ctx); l != nil {
		return l
	}
	return fallback.With("message_id", d.ID, "queue", d.Queue)
}

// settle acknowledges d unless something upstream already did.
func settle(d *queue.Delivery, log types.Logger) {
	if err := d.Ack(); err != nil && !errors.Is(err, queue.ErrAlreadySettled) {
		log.Error("failed to acknowledge message", "error", err)
	}
}
