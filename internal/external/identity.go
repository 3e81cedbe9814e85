package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"airtime/internal/types"
)

// IdentityClientConfig holds the configuration for creating an HTTPIdentityVerifier.
type IdentityClientConfig struct {
	// BaseURL is the auth vendor's API base, e.g. https://auth.example.com.
	BaseURL string
	Logger  *slog.Logger
}

// userinfoResponse is the auth vendor's userinfo payload. Only the fields the
// engine needs are decoded.
type userinfoResponse struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// HTTPIdentityVerifier implements IdentityVerifier by calling the auth
// vendor's userinfo endpoint with the client's bearer token. All requests go
// through BaseClient for circuit breaking and retries.
type HTTPIdentityVerifier struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewIdentityVerifier creates an HTTPIdentityVerifier. The httpClient timeout
// should be short (a few seconds); identity verification sits on the hot path
// of every request.
func NewIdentityVerifier(httpClient *http.Client, cfg IdentityClientConfig) *HTTPIdentityVerifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"identity",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    200 * time.Millisecond,
			MaxWait:    2 * time.Second,
		},
		"Airtime/1.0",
	)

	return &HTTPIdentityVerifier{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// Verify resolves a bearer token via GET /userinfo. A 401 from the vendor
// means the token is invalid or expired; anything else unexpected maps to an
// upstream error so the caller can distinguish "bad token" from "provider down".
func (v *HTTPIdentityVerifier) Verify(ctx context.Context, token string) (*types.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/userinfo", nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create userinfo request",
			err,
		)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.base.Do(req)
	if err != nil {
		return nil, wrapUpstreamError(types.ErrCodeUpstreamIdentity, "identity verification", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "bearer token rejected by auth provider", nil)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		v.logger.Error("identity provider error",
			"status_code", resp.StatusCode,
			"response_body", string(body),
		)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("identity provider returned %d", resp.StatusCode),
			nil,
		)
	}

	var info userinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamIdentity,
			"failed to decode userinfo response",
			err,
		)
	}
	if info.Sub == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity, "userinfo response missing subject", nil)
	}

	return &types.Identity{UserID: info.Sub, Email: info.Email}, nil
}

// wrapUpstreamError converts errors from BaseClient.Do into provider-specific
// upstream errors while preserving auth codes.
func wrapUpstreamError(code types.ErrorCode, operation string, err error) error {
	var appErr *types.AppError
	if ok := asAppError(err, &appErr); ok {
		if strings.HasPrefix(string(appErr.Code), "auth_") {
			return appErr
		}
		return types.NewAppError(code, fmt.Sprintf("%s: %s", operation, appErr.Message), appErr.Err)
	}
	return types.NewAppError(code, fmt.Sprintf("%s failed", operation), err)
}

// Compile-time interface compliance check.
var _ IdentityVerifier = (*HTTPIdentityVerifier)(nil)
