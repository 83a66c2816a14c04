package db

import (
	"context"

	"notifyrelay/internal/types"
)

// AlertRepository writes screening alerts to user_alerts, where the
// dashboard picks them up for clinician confirmation.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates an AlertRepository.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an unconfirmed alert and returns the stored row.
func (r *AlertRepository) Create(ctx context.Context, alert types.AlertEvent) (*types.UserAlert, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO user_alerts (user_id, message, created_at, is_confirmed)
		 VALUES ($1, $2, NOW(), FALSE)
		 RETURNING id, user_id, message, created_at, is_confirmed`,
		alert.UserID,
		alert.Reason,
	)

	var stored types.UserAlert
	if err := row.Scan(&stored.ID, &stored.UserID, &stored.Message, &stored.CreatedAt, &stored.IsConfirmed); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create user alert", err).
			WithDetails(map[string]any{"user_id": alert.UserID})
	}
	return &stored, nil
}
