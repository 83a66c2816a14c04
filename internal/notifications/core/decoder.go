package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"notifyrelay/internal/types"
)

// Wire keys of the AI-worker result message.
const (
	keySubjectID     = "patient_id"
	keyResponseText  = "ai_response"
	keyAudioRef      = "response_audio_url"
	keyAudioDuration = "audio_duration_ms"

	keyAlertUserID = "user_id"
	keyAlertReason = "reason"
)

// DecodeError reports why a queue message could not become an event.
// Field is the offending wire key, empty when the body itself is unusable.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode: " + e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report wire names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses one notification message. It performs no I/O. Problems with
// optional fields are dropped; use DecodeNotification to see them.
func Decode(raw []byte) (types.NotificationEvent, error) {
	ev, _, err := DecodeNotification(raw)
	return ev, err
}

// DecodeNotification parses one notification message. Only unusable bodies
// and missing required fields are errors. An optional field with the wrong
// type or value is reported in ignored and treated as absent, so the event
// still reaches both sinks.
func DecodeNotification(raw []byte) (ev types.NotificationEvent, ignored []*DecodeError, err error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return types.NotificationEvent{}, nil, err
	}

	if ev.SubjectID, err = identifierField(obj, keySubjectID); err != nil {
		return types.NotificationEvent{}, nil, err
	}
	if ev.ResponseText, err = stringField(obj, keyResponseText); err != nil {
		return types.NotificationEvent{}, nil, err
	}
	if err := validateStruct(ev); err != nil {
		return types.NotificationEvent{}, nil, err
	}

	if ref, ferr := stringField(obj, keyAudioRef); ferr != nil {
		ignored = append(ignored, ferr.(*DecodeError))
	} else {
		ev.AudioReference = strings.TrimSpace(ref)
	}
	if ms, ferr := durationField(obj, keyAudioDuration); ferr != nil {
		ignored = append(ignored, ferr.(*DecodeError))
	} else {
		ev.AudioDurationMs = ms
	}

	ev.Payload = obj
	return ev, ignored, nil
}

// DecodeAlert parses one alert message.
func DecodeAlert(raw []byte) (types.AlertEvent, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return types.AlertEvent{}, err
	}

	id, err := identifierField(obj, keyAlertUserID)
	if err != nil {
		return types.AlertEvent{}, err
	}
	var alert types.AlertEvent
	if id != "" {
		alert.UserID, err = strconv.ParseInt(id, 10, 64)
		if err != nil {
			return types.AlertEvent{}, &DecodeError{Field: keyAlertUserID, Reason: "must be an integer", Err: err}
		}
	}
	if alert.Reason, err = stringField(obj, keyAlertReason); err != nil {
		return types.AlertEvent{}, err
	}

	if err := validateStruct(alert); err != nil {
		return types.AlertEvent{}, err
	}
	return alert, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &DecodeError{Reason: "empty body"}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Reason: "trailing data after JSON value"}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("expected a JSON object, got %s", jsonKind(v))}
	}
	return obj, nil
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := "is required"
		if fe.Tag() != "required" {
			reason = fmt.Sprintf("failed %q check", fe.Tag())
		}
		return &DecodeError{Field: fe.Field(), Reason: reason}
	}
	return &DecodeError{Reason: "invalid event", Err: err}
}

// identifierField accepts a JSON string or an integral JSON number and
// returns it as text. Absent, null and blank values yield "".
func identifierField(obj map[string]any, key string) (string, error) {
	switch v := obj[key].(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return "", &DecodeError{Field: key, Reason: "numeric identifier must be an integer"}
		}
		return strconv.FormatInt(int64(f), 10), nil
	default:
		return "", &DecodeError{Field: key, Reason: "must be a string or number, got " + jsonKind(v)}
	}
}

// stringField returns a string value; absent or null yields "".
func stringField(obj map[string]any, key string) (string, error) {
	switch v := obj[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", &DecodeError{Field: key, Reason: "must be a string, got " + jsonKind(v)}
	}
}

// durationField returns a positive integer of milliseconds. Absent or null
// yields 0 so the configured fallback applies. Decimal strings such as
// "3000" are accepted.
func durationField(obj map[string]any, key string) (int, error) {
	var n json.Number
	switch v := obj[key].(type) {
	case nil:
		return 0, nil
	case json.Number:
		n = v
	case string:
		n = json.Number(strings.TrimSpace(v))
	default:
		return 0, &DecodeError{Field: key, Reason: "must be a number, got " + jsonKind(v)}
	}

	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, &DecodeError{Field: key, Reason: "must be an integer number of milliseconds"}
	}
	if f <= 0 || f > math.MaxInt32 {
		return 0, &DecodeError{Field: key, Reason: "must be positive"}
	}
	return int(f), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
