package db

import (
	"context"
	"encoding/json"

	"notifyrelay/internal/types"
)

// DeadLetterRepository keeps notifications whose chat push could not be
// completed, with the full original payload for replay.
type DeadLetterRepository struct {
	db DBTX
}

// NewDeadLetterRepository creates a DeadLetterRepository.
func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Record inserts dl. A zero CreatedAt defaults to the database clock.
func (r *DeadLetterRepository) Record(ctx context.Context, dl types.DeadLetter) error {
	payload, err := json.Marshal(dl.Payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode dead-letter payload", err)
	}
	if dl.Payload == nil {
		payload = []byte("{}")
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO notification_dead_letters
		 (message_id, queue, subject_id, stage, reason, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		dl.MessageID,
		dl.Queue,
		dl.SubjectID,
		dl.Stage,
		dl.Reason,
		payload,
		nilIfZeroTime(dl.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record dead letter", err).
			WithDetails(map[string]any{"message_id": dl.MessageID})
	}
	return nil
}
