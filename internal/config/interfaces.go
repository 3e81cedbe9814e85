package config

import "context"

// SecretProvider abstracts secret retrieval to support both AWS SSM Parameter
// Store (deployed environments) and plain environment variables (local
// development).
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values. The keys slice
	// contains SSM parameter paths (or equivalent identifiers). Returns a map
	// of key to plaintext value for all successfully resolved parameters.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
