// Package core holds the per-message notification pipeline shared by every
// queue the relay consumes: decoding, routing to the realtime and chat
// channels, alert persistence, dead-lettering and delivery metrics.
package core

import (
	"context"
	"time"

	"notifyrelay/internal/types"
)

// RealtimeSink broadcasts an event to every live session in a room.
// Delivery is best effort; an error never blocks the chat push.
type RealtimeSink interface {
	Broadcast(ctx context.Context, room string, payload map[string]any) error
}

// ChatPushSink pushes messages to a user on the third-party chat platform.
type ChatPushSink interface {
	PushText(ctx context.Context, userID, text string) error
	// PushAudio sends an audio message. objectRef is a URL or a storage
	// object name the implementation knows how to resolve.
	PushAudio(ctx context.Context, userID, objectRef string, durationMs int) error
}

// AlertRepository persists alerts raised by the screening workers.
type AlertRepository interface {
	Create(ctx context.Context, alert types.AlertEvent) (*types.UserAlert, error)
}

// DeadLetterRepository keeps notifications whose chat push failed for good.
type DeadLetterRepository interface {
	Record(ctx context.Context, dl types.DeadLetter) error
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics abstracts the telemetry backend (Prometheus or
// CloudWatch) for the notification pipeline.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, sink types.SinkName, result MetricResult)
	RecordLatency(ctx context.Context, sink types.SinkName, duration time.Duration)
	RecordQueueLag(ctx context.Context, queue string, lag time.Duration)
	RecordDecodeFailure(ctx context.Context, queue string)
	RecordAlertStored(ctx context.Context, result MetricResult)
	RecordReconnect(ctx context.Context)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.SinkName, MetricResult)  {}
func (NopMetrics) RecordLatency(context.Context, types.SinkName, time.Duration) {}
func (NopMetrics) RecordQueueLag(context.Context, string, time.Duration)        {}
func (NopMetrics) RecordDecodeFailure(context.Context, string)                  {}
func (NopMetrics) RecordAlertStored(context.Context, MetricResult)              {}
func (NopMetrics) RecordReconnect(context.Context)                              {}

var _ NotificationMetrics = NopMetrics{}
