package core

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airtime/internal/types"
)

func newRequestWithID(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(types.WithRequestID(req.Context(), "req-123"))
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := newRequestWithID(http.MethodGet, "/", "")

	JSON(rec, req, http.StatusOK, APIResponse{Data: map[string]string{"hello": "world"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "world", body["data"]["hello"])
}

func TestJSON_MarshalFailureFallsBackTo500(t *testing.T) {
	rec := httptest.NewRecorder()
	req := newRequestWithID(http.MethodGet, "/", "")

	// Channels cannot be marshaled.
	JSON(rec, req, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), body.Error.Code)
	assert.Equal(t, "req-123", body.Error.RequestID)
}

func TestError_AppErrorStatusAndEnvelope(t *testing.T) {
	cases := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{types.ErrCodePaymentRequired, http.StatusPaymentRequired},
		{types.ErrCodeQuotaExceeded, http.StatusForbidden},
		{types.ErrCodeNotFoundSession, http.StatusNotFound},
		{types.ErrCodeConcurrentSession, http.StatusConflict},
		{types.ErrCodeRateLimit, http.StatusTooManyRequests},
		{types.ErrCodeUpstreamRealtime, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := newRequestWithID(http.MethodGet, "/", "")

			Error(rec, req, types.NewAppError(tc.code, "boom", nil))

			assert.Equal(t, tc.status, rec.Code)
			var body APIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tc.code), body.Error.Code)
			assert.Equal(t, "req-123", body.Error.RequestID)
		})
	}
}

func TestError_OpaqueErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	req := newRequestWithID(http.MethodGet, "/", "")

	Error(rec, req, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), body.Error.Code)
}

func TestError_WrappedAppErrorUnwrapped(t *testing.T) {
	inner := types.NewAppError(types.ErrCodeQuotaExceeded, "quota exhausted", nil)
	wrapped := &wrapError{msg: "settling session: ", err: inner}

	rec := httptest.NewRecorder()
	req := newRequestWithID(http.MethodGet, "/", "")
	Error(rec, req, wrapped)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type wrapError struct {
	msg string
	err error
}

func (w *wrapError) Error() string { return w.msg + w.err.Error() }
func (w *wrapError) Unwrap() error { return w.err }

func TestDecodeJSON_Valid(t *testing.T) {
	var dst struct {
		Model string `json:"model"`
	}
	rec := httptest.NewRecorder()
	req := newRequestWithID(http.MethodPost, "/", `{"model":"gpt-realtime"}`)

	require.NoError(t, DecodeJSON(rec, req, &dst))
	assert.Equal(t, "gpt-realtime", dst.Model)
}

func TestDecodeJSON_Failures(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		contains string
	}{
		{"malformed", `{oops`, "malformed JSON"},
		{"unknown_field", `{"nope": 1}`, "unknown field"},
		{"empty_body", ``, "must not be empty"},
		{"trailing_content", `{} {}`, "single JSON object"},
		{"wrong_type", `{"model": 42}`, "invalid value"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var dst struct {
				Model string `json:"model"`
			}
			rec := httptest.NewRecorder()
			req := newRequestWithID(http.MethodPost, "/", tc.body)

			err := DecodeJSON(rec, req, &dst)
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
			assert.Contains(t, appErr.Message, tc.contains)
		})
	}
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	var dst struct {
		Metadata map[string]string `json:"metadata"`
	}
	huge := `{"metadata":{"k":"` + strings.Repeat("x", maxRequestBodySize+1) + `"}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(huge))
	req = req.WithContext(types.WithRequestID(req.Context(), "req-123"))

	err := DecodeJSON(rec, req, &dst)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
	assert.Contains(t, appErr.Message, "too large")
}
