package core

import (
	"context"
	"time"

	"notifyrelay/internal/types"
)

// OutcomeStatus is the overall result of routing one event.
type OutcomeStatus string

const (
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Stage names the chat push step that failed.
type Stage string

const (
	StageText  Stage = "text"
	StageAudio Stage = "audio"
)

// DeliveryOutcome reports what happened to one event. Realtime failures are
// recorded but never make the outcome Failed.
type DeliveryOutcome struct {
	Status      OutcomeStatus
	Stage       Stage
	Reason      string
	Err         error
	RealtimeErr error
	// ChatSkipped is set when no chat sink is configured.
	ChatSkipped bool
}

// Failed reports whether the chat delivery did not complete.
func (o DeliveryOutcome) Failed() bool {
	return o.Status == OutcomeFailed
}

func delivered() DeliveryOutcome {
	return DeliveryOutcome{Status: OutcomeDelivered}
}

func failed(stage Stage, err error) DeliveryOutcome {
	return DeliveryOutcome{Status: OutcomeFailed, Stage: stage, Reason: err.Error(), Err: err}
}

// Router fans a decoded event out to the realtime room and the chat platform.
//
// Order per event: realtime broadcast once, then chat text, then chat audio
// when the event carries one. Audio is never sent if the text push failed.
type Router struct {
	realtime      RealtimeSink
	chat          ChatPushSink
	metrics       NotificationMetrics
	audioFallback time.Duration
	now           func() time.Time
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithAudioFallback sets the duration used when an event omits audio_duration_ms.
func WithAudioFallback(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.audioFallback = d
		}
	}
}

// WithMetrics attaches a metrics backend.
func WithMetrics(m NotificationMetrics) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRouter creates a Router. chat may be nil to disable chat delivery.
func NewRouter(realtime RealtimeSink, chat ChatPushSink, opts ...RouterOption) *Router {
	r := &Router{
		realtime:      realtime,
		chat:          chat,
		metrics:       NopMetrics{},
		audioFallback: types.DefaultAudioDuration,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deliver routes ev. The logger is taken from ctx when present.
func (r *Router) Deliver(ctx context.Context, ev types.NotificationEvent) DeliveryOutcome {
	log := types.LoggerFromContext(ctx)
	if log == nil {
		log = types.NopLogger{}
	}

	var realtimeErr error
	if r.realtime != nil {
		start := r.now()
		realtimeErr = r.realtime.Broadcast(ctx, ev.SubjectID, ev.Payload)
		r.record(ctx, types.SinkRealtime, realtimeErr, r.now().Sub(start))
		if realtimeErr != nil {
			log.Warn("realtime broadcast failed, continuing with chat push",
				"room", ev.SubjectID,
				"error", realtimeErr,
			)
		}
	}

	if r.chat == nil {
		r.metrics.RecordDelivery(ctx, types.SinkChat, MetricSkipped)
		out := delivered()
		out.ChatSkipped = true
		out.RealtimeErr = realtimeErr
		return out
	}

	start := r.now()
	if err := r.chat.PushText(ctx, ev.SubjectID, ev.ResponseText); err != nil {
		r.record(ctx, types.SinkChat, err, r.now().Sub(start))
		out := failed(StageText, err)
		out.RealtimeErr = realtimeErr
		return out
	}

	if ev.HasAudio() {
		duration := ev.AudioDuration(r.audioFallback)
		if err := r.chat.PushAudio(ctx, ev.SubjectID, ev.AudioReference, duration); err != nil {
			r.record(ctx, types.SinkChat, err, r.now().Sub(start))
			out := failed(StageAudio, err)
			out.RealtimeErr = realtimeErr
			return out
		}
	}
	r.record(ctx, types.SinkChat, nil, r.now().Sub(start))

	out := delivered()
	out.RealtimeErr = realtimeErr
	return out
}

func (r *Router) record(ctx context.Context, sink types.SinkName, err error, elapsed time.Duration) {
	result := MetricSuccess
	if err != nil {
		result = MetricFailed
	}
	r.metrics.RecordDelivery(ctx, sink, result)
	r.metrics.RecordLatency(ctx, sink, elapsed)
}
