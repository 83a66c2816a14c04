package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"` + redactedPlaceholder + `"`)

// SecretString holds a credential such as the LINE channel token or the
// broker password. fmt, encoding/json and slog all see a placeholder; only
// Unmask returns the raw value.
type SecretString string

func (s SecretString) String() string {
	return redactedPlaceholder
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue keeps the secret out of structured log attributes.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// IsSet reports whether a non-empty value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}

// Unmask returns the raw value. Call it only at the point the secret is handed
// to a client (Authorization header, broker URL, storage credentials).
func (s SecretString) Unmask() string {
	return string(s)
}

var _ slog.LogValuer = SecretString("")
