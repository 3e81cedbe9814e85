package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"airtime/internal/types"
)

// realtimeAPIBase is the streaming AI vendor's default API base URL.
// Overridable in tests via RealtimeClientConfig.BaseURL.
const realtimeAPIBase = "https://api.openai.com"

// RealtimeClientConfig holds the configuration for creating a RealtimeHTTPClient.
type RealtimeClientConfig struct {
	APIKey  string
	BaseURL string // Override for testing; defaults to realtimeAPIBase
	Logger  *slog.Logger
}

// realtimeSessionRequest is the body sent to the ephemeral-session endpoint.
// The vendor mints a single-use client secret bounded by expires_after.
type realtimeSessionRequest struct {
	Model        string         `json:"model"`
	ExpiresAfter realtimeExpiry `json:"expires_after"`
}

type realtimeExpiry struct {
	Anchor  string `json:"anchor"`
	Seconds int64  `json:"seconds"`
}

// realtimeSessionResponse is the subset of the vendor response the engine uses.
type realtimeSessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// RealtimeHTTPClient implements CredentialIssuer by calling the vendor's
// ephemeral-session REST endpoint through BaseClient. Routing through
// BaseClient gives these requests the platform's resilience infrastructure
// (circuit breaker, retries, error mapping) and makes testing with httptest
// straightforward.
type RealtimeHTTPClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewRealtimeClient creates a new RealtimeHTTPClient. The httpClient timeout
// should be set appropriately for the vendor API (e.g., 15 seconds).
func NewRealtimeClient(httpClient *http.Client, cfg RealtimeClientConfig) *RealtimeHTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = realtimeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"realtime",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Airtime/1.0",
	)

	return &RealtimeHTTPClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewRealtimeClientWithBase creates a RealtimeHTTPClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewRealtimeClientWithBase(base *BaseClient, cfg RealtimeClientConfig) *RealtimeHTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = realtimeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RealtimeHTTPClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Issue requests a single-use client secret for the given model with the
// given lifetime. The master API key never leaves this process; the client
// only ever sees the short-lived secret.
func (c *RealtimeHTTPClient) Issue(ctx context.Context, model string, ttl time.Duration) (*RealtimeCredential, error) {
	reqBody := realtimeSessionRequest{
		Model: model,
		ExpiresAfter: realtimeExpiry{
			Anchor:  "created_at",
			Seconds: int64(ttl.Seconds()),
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize credential request",
			err,
		)
	}

	url := c.baseURL + "/v1/realtime/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create credential request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.InfoContext(ctx, "requesting ephemeral realtime credential",
		"model", model,
		"ttl_seconds", int64(ttl.Seconds()),
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError("Issue", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp, "Issue")
	}

	var sessResp realtimeSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessResp); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRealtime,
			"failed to decode credential response",
			err,
		)
	}
	if sessResp.ClientSecret.Value == "" {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRealtime,
			"realtime vendor returned empty client secret",
			nil,
		)
	}

	expiresAt := time.Unix(sessResp.ClientSecret.ExpiresAt, 0).UTC()
	if sessResp.ClientSecret.ExpiresAt == 0 {
		// Some vendor environments omit expires_at; fall back to the requested TTL.
		expiresAt = time.Now().UTC().Add(ttl)
	}

	c.logger.InfoContext(ctx, "ephemeral realtime credential issued",
		"model", model,
		"expires_at", expiresAt.Format(time.RFC3339),
	)

	return &RealtimeCredential{
		Secret:    sessResp.ClientSecret.Value,
		ExpiresAt: expiresAt,
	}, nil
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *RealtimeHTTPClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("realtime vendor API error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	return types.NewAppError(
		types.ErrCodeUpstreamRealtime,
		fmt.Sprintf("realtime vendor returned %d: %s", resp.StatusCode, operation),
		fmt.Errorf("realtime %s returned %d: %s", operation, resp.StatusCode, bodyStr),
	)
}

// wrapError converts errors from BaseClient.Do into realtime-specific errors.
func (c *RealtimeHTTPClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if ok := asAppError(err, &appErr); ok {
		return types.NewAppError(
			types.ErrCodeUpstreamRealtime,
			fmt.Sprintf("realtime %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamRealtime,
		fmt.Sprintf("realtime %s failed", operation),
		err,
	)
}

// asAppError checks if err is an *types.AppError and extracts it.
func asAppError(err error, target **types.AppError) bool {
	var ae *types.AppError
	if ok := errors.As(err, &ae); ok {
		*target = ae
		return true
	}
	return false
}

// Compile-time interface compliance check.
var _ CredentialIssuer = (*RealtimeHTTPClient)(nil)
