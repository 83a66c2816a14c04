package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"notifyrelay/internal/types"
)

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestJSON_Success(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]string{"status": "healthy"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if rec.Body.String() != `{"status":"healthy"}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	JSON(rec, req, http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) || resp.Error.RequestID != "req-1" {
		t.Errorf("unexpected fallback: %+v", resp.Error)
	}
}

func TestError_AppError(t *testing.T) {
	cases := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeNotFoundRoute, http.StatusNotFound},
		{types.ErrCodeValidationMissingField, http.StatusBadRequest},
		{types.ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{types.ErrCodeUpstreamRealtime, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), types.NewAppError(tc.code, "boom", nil))

			if rec.Code != tc.status {
				t.Errorf("expected %d, got %d", tc.status, rec.Code)
			}
			if resp := decodeErrorResponse(t, rec); resp.Error.Code != string(tc.code) {
				t.Errorf("expected code %s, got %s", tc.code, resp.Error.Code)
			}
		})
	}
}

func TestError_WrappedAppErrorKeepsDetails(t *testing.T) {
	appErr := types.NewAppError(types.ErrCodeValidationInvalidField, "bad room", nil).
		WithDetails(map[string]any{"field": "room"})
	rec := httptest.NewRecorder()

	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("serve: %w", appErr))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error.Details["field"] != "room" {
		t.Errorf("expected details to survive, got %v", resp.Error.Details)
	}
}

func TestError_GenericErrorIsOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error.Message != "an unexpected error occurred" {
		t.Errorf("internal error leaked: %q", resp.Error.Message)
	}
}
