package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretString_FmtVerbsRedact(t *testing.T) {
	secret := SecretString("sk-realtime-12345")

	assert.Equal(t, "***REDACTED***", secret.String())
	assert.Equal(t, "***REDACTED***", fmt.Sprintf("%s", secret))
	assert.Equal(t, "***REDACTED***", fmt.Sprintf("%v", secret))
	assert.NotContains(t, fmt.Sprintf("%+v", secret), "sk-realtime-12345")
}

func TestSecretString_JSONRedacts(t *testing.T) {
	payload := struct {
		APIKey SecretString `json:"api_key"`
	}{APIKey: "whsec_supersecret"}

	out, err := json.Marshal(payload)
	require.NoError(t, err)

	assert.JSONEq(t, `{"api_key":"***REDACTED***"}`, string(out))
	assert.NotContains(t, string(out), "whsec_supersecret")
}

func TestSecretString_SlogAttrRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("configured upstream", "api_key", SecretString("sk-realtime-12345"))

	assert.Contains(t, buf.String(), "***REDACTED***")
	assert.NotContains(t, buf.String(), "sk-realtime-12345")
}

func TestSecretString_UnmaskReturnsPlaintext(t *testing.T) {
	secret := SecretString("sk-realtime-12345")
	assert.Equal(t, "sk-realtime-12345", secret.Unmask())
}

func TestSecretString_EmptyStillRedacts(t *testing.T) {
	assert.Equal(t, "***REDACTED***", SecretString("").String())
	assert.Empty(t, SecretString("").Unmask())
}
