package types

import "time"

// DefaultAudioDuration is used for an audio push when the producer did not
// say how long the clip is.
const DefaultAudioDuration = 60 * time.Second

// NotificationEvent is the decoded form of one AI-worker result message.
// JSON tags use snake_case to match the producer's payload keys.
//
// Payload holds every key of the original message so the realtime channel can
// forward it untouched; the typed fields are the ones the relay itself reads.
type NotificationEvent struct {
	// SubjectID is the recipient. Numeric producer IDs are rendered in decimal.
	SubjectID string `json:"patient_id" validate:"required"`

	ResponseText string `json:"ai_response" validate:"required"`

	// AudioReference is a URL or storage object name. Empty means no audio.
	AudioReference string `json:"response_audio_url,omitempty"`

	// AudioDurationMs is zero when the producer omitted it.
	AudioDurationMs int `json:"audio_duration_ms,omitempty"`

	Payload map[string]any `json:"-"`
}

// HasAudio reports whether the event carries an audio reply.
func (e NotificationEvent) HasAudio() bool {
	return e.AudioReference != ""
}

// AudioDuration returns the clip length in milliseconds, falling back to the
// supplied default when the producer omitted it.
func (e NotificationEvent) AudioDuration(fallback time.Duration) int {
	if e.AudioDurationMs > 0 {
		return e.AudioDurationMs
	}
	if fallback <= 0 {
		fallback = DefaultAudioDuration
	}
	return int(fallback / time.Millisecond)
}

// AlertEvent is an out-of-band alert raised by the screening workers.
type AlertEvent struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required"`
}

// UserAlert is the persisted form of an AlertEvent.
type UserAlert struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
	IsConfirmed bool      `json:"is_confirmed"`
}

// DeadLetter records a notification that could not be delivered to the chat
// platform after the client exhausted its retries.
type DeadLetter struct {
	MessageID string         `json:"message_id"`
	Queue     string         `json:"queue"`
	SubjectID string         `json:"patient_id"`
	Stage     string         `json:"stage"`
	Reason    string         `json:"reason"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
