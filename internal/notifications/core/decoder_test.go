package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Valid(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		subject    string
		text       string
		audio      string
		durationMs int
	}{
		{
			name:    "string subject text only",
			raw:     `{"patient_id":"42","ai_response":"Hello"}`,
			subject: "42",
			text:    "Hello",
		},
		{
			name:       "numeric subject with audio",
			raw:        `{"patient_id":7,"ai_response":"Hi","response_audio_url":"a.m4a","audio_duration_ms":4200}`,
			subject:    "7",
			text:       "Hi",
			audio:      "a.m4a",
			durationMs: 4200,
		},
		{
			name:    "empty audio reference is absent",
			raw:     `{"patient_id":"9","ai_response":"x","response_audio_url":""}`,
			subject: "9",
			text:    "x",
		},
		{
			name:    "null optional fields",
			raw:     `{"patient_id":"9","ai_response":"x","response_audio_url":null,"audio_duration_ms":null}`,
			subject: "9",
			text:    "x",
		},
		{
			name:       "decimal string duration",
			raw:        `{"patient_id":"3","ai_response":"x","response_audio_url":"obj://abc","audio_duration_ms":"3000"}`,
			subject:    "3",
			text:       "x",
			audio:      "obj://abc",
			durationMs: 3000,
		},
		{
			name:    "float-formatted integral subject",
			raw:     `{"patient_id":12.0,"ai_response":"x"}`,
			subject: "12",
			text:    "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.subject, ev.SubjectID)
			assert.Equal(t, tt.text, ev.ResponseText)
			assert.Equal(t, tt.audio, ev.AudioReference)
			assert.Equal(t, tt.durationMs, ev.AudioDurationMs)
		})
	}
}

func TestDecode_PayloadKeepsEveryKey(t *testing.T) {
	raw := `{"patient_id":7,"ai_response":"Hi","session":"abc","scores":[1,2],"extra":{"k":true}}`

	ev, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.Len(t, ev.Payload, 5)
	assert.Equal(t, json.Number("7"), ev.Payload["patient_id"])
	assert.Equal(t, "abc", ev.Payload["session"])

	// Re-encoding the payload must preserve numeric form.
	out, err := json.Marshal(ev.Payload["patient_id"])
	require.NoError(t, err)
	assert.Equal(t, "7", string(out))
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"malformed json", `{"patient_id":`, ""},
		{"empty body", ``, ""},
		{"array", `[1,2]`, ""},
		{"trailing garbage", `{"patient_id":"1","ai_response":"x"} {}`, ""},
		{"missing ai_response", `{"patient_id":"42"}`, "ai_response"},
		{"empty ai_response", `{"patient_id":"42","ai_response":""}`, "ai_response"},
		{"missing patient_id", `{"ai_response":"Hello"}`, "patient_id"},
		{"blank patient_id", `{"patient_id":"  ","ai_response":"Hello"}`, "patient_id"},
		{"null patient_id", `{"patient_id":null,"ai_response":"Hello"}`, "patient_id"},
		{"unrelated object", `{"foo":1}`, "patient_id"},
		{"boolean patient_id", `{"patient_id":true,"ai_response":"x"}`, "patient_id"},
		{"fractional patient_id", `{"patient_id":1.5,"ai_response":"x"}`, "patient_id"},
		{"numeric ai_response", `{"patient_id":"1","ai_response":5}`, "ai_response"},
		{"missing required beside bad optional", `{"ai_response":"x","audio_duration_ms":"n/a"}`, "patient_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "expected *DecodeError, got %v", err)
			assert.Equal(t, tt.field, decErr.Field)
		})
	}
}

func TestDecodeNotification_IgnoresUnusableOptionalFields(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		audio string
		field string
	}{
		{"object audio url", `{"patient_id":"1","ai_response":"x","response_audio_url":{}}`, "", "response_audio_url"},
		{"numeric audio url", `{"patient_id":"1","ai_response":"x","response_audio_url":123}`, "", "response_audio_url"},
		{"unparseable duration", `{"patient_id":"1","ai_response":"x","audio_duration_ms":"n/a"}`, "", "audio_duration_ms"},
		{"negative duration", `{"patient_id":"1","ai_response":"x","audio_duration_ms":-5}`, "", "audio_duration_ms"},
		{"zero duration", `{"patient_id":"1","ai_response":"x","audio_duration_ms":0}`, "", "audio_duration_ms"},
		{"boolean duration with audio", `{"patient_id":"1","ai_response":"x","response_audio_url":"a.m4a","audio_duration_ms":true}`, "a.m4a", "audio_duration_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ignored, err := DecodeNotification([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, "1", ev.SubjectID)
			assert.Equal(t, "x", ev.ResponseText)
			assert.Equal(t, tt.audio, ev.AudioReference)
			assert.Zero(t, ev.AudioDurationMs)
			assert.NotEmpty(t, ev.Payload)
			require.Len(t, ignored, 1)
			assert.Equal(t, tt.field, ignored[0].Field)
		})
	}
}

func TestDecodeNotification_CleanMessageIgnoresNothing(t *testing.T) {
	_, ignored, err := DecodeNotification([]byte(`{"patient_id":"1","ai_response":"x","audio_duration_ms":1200}`))
	require.NoError(t, err)
	assert.Empty(t, ignored)
}

func TestDecodeAlert(t *testing.T) {
	alert, err := DecodeAlert([]byte(`{"user_id":"15","reason":"PHQ-9 score above threshold"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(15), alert.UserID)
	assert.Equal(t, "PHQ-9 score above threshold", alert.Reason)

	numeric, err := DecodeAlert([]byte(`{"user_id":15,"reason":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(15), numeric.UserID)

	for _, raw := range []string{
		`{"user_id":"abc","reason":"r"}`,
		`{"user_id":15}`,
		`{"reason":"r"}`,
		`{"user_id":0,"reason":"r"}`,
		`not json`,
	} {
		_, err := DecodeAlert([]byte(raw))
		var decErr *DecodeError
		assert.True(t, errors.As(err, &decErr), "input %s: expected *DecodeError, got %v", raw, err)
	}
}

func TestDecodeError_Message(t *testing.T) {
	err := &DecodeError{Field: "ai_response", Reason: "is required"}
	assert.Equal(t, "decode ai_response: is required", err.Error())

	wrapped := &DecodeError{Reason: "malformed JSON", Err: errors.New("unexpected EOF")}
	assert.Equal(t, "decode: malformed JSON: unexpected EOF", wrapped.Error())
}
