package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ValidationResult is the outcome of a validation check: a pass/fail signal
// and a human-readable message for the CLI.
type ValidationResult struct {
	Valid   bool
	Message string
}

// HTTPClient is the interface used by validators that probe vendor APIs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector abstracts the database connection probe for testing.
type DatabaseConnector interface {
	// Connect attempts a connection to the database at the given DSN and
	// closes it before returning.
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector is the production DatabaseConnector. It opens a real
// connection to verify reachability and credentials, then closes it.
type PgxConnector struct{}

func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// Validator holds the dependencies used by input validation functions.
type Validator struct {
	httpClient HTTPClient
	dbConn     DatabaseConnector
}

// NewValidator creates a Validator with production dependencies.
func NewValidator() *Validator {
	return &Validator{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dbConn:     &PgxConnector{},
	}
}

// NewValidatorWithDeps creates a Validator with injected dependencies, for tests.
func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector) *Validator {
	return &Validator{
		httpClient: httpClient,
		dbConn:     dbConn,
	}
}

// validateTimeout is the outer bound for active validation probes, covering
// DNS resolution and TLS handshake on top of the HTTP client timeout.
const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks that the input parses as a postgres:// URL and
// that an actual connection can be established with it.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Valid: false, Message: "database URL must not be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("database URL does not parse: %v", err)}
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{Valid: false, Message: "database URL must use the postgres:// scheme"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	if err := v.dbConn.Connect(probeCtx, rawURL); err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("database connection failed: %v", err)}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname()),
	}
}

// realtimeKeyRegex is a loose format guard for the realtime vendor API key.
var realtimeKeyRegex = regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`)

// ValidateRealtimeKey validates the realtime vendor API key by checking the
// key format and making a GET request to the vendor's /v1/models endpoint,
// the lightest call that verifies the key without side effects.
func (v *Validator) ValidateRealtimeKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return ValidationResult{Valid: false, Message: "realtime API key must not be empty"}
	}
	if !realtimeKeyRegex.MatchString(key) {
		return ValidationResult{Valid: false, Message: "realtime API key must match format sk-[alphanumeric 20+ chars]"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, "https://api.openai.com/v1/models", nil)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "Airtime-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("realtime API probe failed: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized {
		return ValidationResult{Valid: false, Message: "realtime API returned 401 Unauthorized: key is invalid or revoked"}
	}
	if resp.StatusCode != http.StatusOK {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("realtime API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200)),
		}
	}

	return ValidationResult{Valid: true, Message: "realtime API key verified"}
}

// ValidateRegex is a generic format validator for inputs that need no active
// probe.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("%s must not be empty", fieldName)}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("internal error: invalid pattern for %s: %v", fieldName, err)}
	}
	if !re.MatchString(input) {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("%s has an unexpected format", fieldName)}
	}

	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s format accepted", fieldName)}
}

// truncateBody shortens a response body for error messages.
func truncateBody(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
