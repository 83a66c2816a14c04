// Package line implements the chat push sink on the LINE Messaging API.
//
// Only the push endpoint is used: one request per message, text first and
// audio second. Each push carries an X-Line-Retry-Key so the BaseClient's
// retries cannot deliver the same message twice.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"notifyrelay/internal/external"
	"notifyrelay/internal/notifications/core"
	"notifyrelay/internal/types"
)

const (
	// DefaultBaseURL is the production Messaging API host.
	DefaultBaseURL = "https://api.line.me"

	pushPath       = "/v2/bot/message/push"
	retryKeyHeader = "X-Line-Retry-Key"

	// maxResponseBodyRead limits how much of an error body is read.
	maxResponseBodyRead = 4096
)

// AudioResolver turns an audio object reference into a fetchable https URL.
type AudioResolver interface {
	ResolveAudioURL(ctx context.Context, ref string) (string, error)
}

// Config holds what the client needs from the environment.
type Config struct {
	ChannelAccessToken string
	BaseURL            string
}

// Client implements core.ChatPushSink.
type Client struct {
	base    *external.BaseClient
	token   string
	baseURL string
	audio   AudioResolver
	newKey  func() string
}

var _ core.ChatPushSink = (*Client)(nil)

// NewClient creates a Client. audio may be nil, in which case audio
// references must already be absolute URLs.
func NewClient(base *external.BaseClient, cfg Config, audio AudioResolver) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		base:    base,
		token:   cfg.ChannelAccessToken,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		audio:   audio,
		newKey:  func() string { return uuid.NewString() },
	}
}

type pushRequest struct {
	To       string    `json:"to"`
	Messages []message `json:"messages"`
}

type message struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	Duration           int    `json:"duration,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	Details []struct {
		Message  string `json:"message"`
		Property string `json:"property"`
	} `json:"details"`
}

// PushText sends a text message to userID.
func (c *Client) PushText(ctx context.Context, userID, text string) error {
	return c.push(ctx, userID, message{Type: "text", Text: text})
}

// PushAudio resolves objectRef and sends it as an audio message.
func (c *Client) PushAudio(ctx context.Context, userID, objectRef string, durationMs int) error {
	audioURL := objectRef
	if c.audio != nil {
		resolved, err := c.audio.ResolveAudioURL(ctx, objectRef)
		if err != nil {
			return fmt.Errorf("resolve audio %q: %w", objectRef, err)
		}
		audioURL = resolved
	}
	return c.push(ctx, userID, message{
		Type:               "audio",
		OriginalContentURL: audioURL,
		Duration:           durationMs,
	})
}

func (c *Client) push(ctx context.Context, userID string, msg message) error {
	body, err := json.Marshal(pushRequest{To: userID, Messages: []message{msg}})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal LINE push payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create LINE push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(retryKeyHeader, c.newKey())

	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("line push %s: %w", msg.Type, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict && resp.Header.Get("X-Line-Accepted-Request-Id") != "":
		// A retry of a request LINE already accepted.
		return nil
	}
	return c.handleErrorResponse(resp, msg.Type)
}

// handleErrorResponse maps a non-retryable LINE response to an AppError.
func (c *Client) handleErrorResponse(resp *http.Response, kind string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	detail := strings.TrimSpace(string(raw))
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
		detail = parsed.Message
		if len(parsed.Details) > 0 {
			detail = fmt.Sprintf("%s (%s: %s)", parsed.Message, parsed.Details[0].Property, parsed.Details[0].Message)
		}
	}

	return types.NewAppError(types.ErrCodeUpstreamChatRequest, fmt.Sprintf("LINE rejected %s push with %d: %s", kind, resp.StatusCode, detail), nil).
		WithDetails(map[string]any{
			"status":     resp.StatusCode,
			"request_id": resp.Header.Get("X-Line-Request-Id"),
		})
}
