package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "line-channel-token-12345"

func TestSecretString_Redaction(t *testing.T) {
	s := SecretString(testSecret)

	cases := map[string]string{
		"String":   s.String(),
		"%s":       fmt.Sprintf("%s", s),
		"%v":       fmt.Sprintf("%v", s),
		"%+v":      fmt.Sprintf("%+v", s),
		"LogValue": s.LogValue().String(),
	}
	for name, got := range cases {
		if strings.Contains(got, testSecret) {
			t.Errorf("%s leaked the raw secret: %q", name, got)
		}
	}
}

func TestSecretString_MarshalJSON_InStruct(t *testing.T) {
	type lineConfig struct {
		Token SecretString `json:"token"`
		Base  string       `json:"base"`
	}

	data, err := json.Marshal(lineConfig{Token: testSecret, Base: "https://api.line.me"})
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("json.Marshal leaked the raw secret: %s", data)
	}
	if !strings.Contains(string(data), redactedPlaceholder) {
		t.Errorf("json.Marshal did not contain the placeholder: %s", data)
	}
}

func TestSecretString_SlogAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("connecting", "password", SecretString(testSecret))

	if strings.Contains(buf.String(), testSecret) {
		t.Errorf("slog output leaked the raw secret: %s", buf.String())
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want %q", s.Unmask(), testSecret)
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for a configured secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for an empty secret")
	}
}
