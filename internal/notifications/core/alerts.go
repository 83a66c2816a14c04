package core

import (
	"context"
	"time"

	"notifyrelay/internal/queue"
	"notifyrelay/internal/types"
)

// alertWriteTimeout bounds a single alert insert.
const alertWriteTimeout = 5 * time.Second

// AlertHandler stores alerts from the alert queue so clinicians see them in
// the dashboard. Every message is acknowledged; a database failure is logged
// rather than retried.
type AlertHandler struct {
	repo    AlertRepository
	metrics NotificationMetrics
	logger  types.Logger
}

// NewAlertHandler creates an AlertHandler. repo may be nil when no database
// is configured; alerts are then only logged.
func NewAlertHandler(repo AlertRepository, metrics NotificationMetrics, logger types.Logger) *AlertHandler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &AlertHandler{repo: repo, metrics: metrics, logger: logger}
}

// Handle satisfies queue.Handler.
func (h *AlertHandler) Handle(ctx context.Context, d *queue.Delivery) {
	log := messageLogger(ctx, h.logger, d)
	defer settle(d, log)

	alert, err := DecodeAlert(d.Body)
	if err != nil {
		h.metrics.RecordDecodeFailure(ctx, d.Queue)
		log.Error("discarding malformed alert", "error", err)
		return
	}
	log = log.With("user_id", alert.UserID)

	if h.repo == nil {
		h.metrics.RecordAlertStored(ctx, MetricSkipped)
		log.Warn("alert received but no database is configured", "reason", alert.Reason)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, alertWriteTimeout)
	defer cancel()

	stored, err := h.repo.Create(writeCtx, alert)
	if err != nil {
		h.metrics.RecordAlertStored(ctx, MetricFailed)
		log.Error("failed to store alert", "error", err, "reason", alert.Reason)
		return
	}
	h.metrics.RecordAlertStored(ctx, MetricSuccess)
	log.Info("alert stored", "alert_id", stored.ID)
}
