package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// EnvManager resolves secrets from the process environment only
type EnvManager struct{}

// GetSecret looks key up as an upper-case environment variable, so
// "search_api_key" and "search-api-key" both read SEARCH_API_KEY.
func (EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(EnvKey(key))
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m EnvManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// EnvKey converts a secret key into its environment variable name
func EnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}
