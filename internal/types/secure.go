package types

import "log/slog"

// redacted replaces secret values anywhere they could be rendered.
const redacted = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a sensitive configuration value (vendor API keys,
// webhook signing secrets, connection strings with credentials). Every
// rendering path (fmt verbs, JSON encoding, slog attributes) produces a
// redacted placeholder, so a secret can only leave the process through an
// explicit Unmask call.
type SecretString string

func (s SecretString) String() string {
	return redacted
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue keeps secrets out of structured logs even when a SecretString is
// passed as a raw slog attribute value.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// Unmask returns the raw plaintext. Call sites should be limited to the
// points where the secret actually leaves the process: Authorization
// headers, the database DSN, webhook signature verification.
func (s SecretString) Unmask() string {
	return string(s)
}
