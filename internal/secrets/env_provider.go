package secrets

import (
	"context"
	"os"

	pkgsecrets "github.com/gxo-labs/converge/pkg/converge/v1/secrets"
)

// EnvProvider resolves secrets from environment variables. It backs the
// 'secret' template function and the SSH password lookup.
type EnvProvider struct{}

// NewEnvProvider creates a new environment variable secrets provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// GetSecret returns the value of the environment variable key and whether
// it was set.
func (p *EnvProvider) GetSecret(_ context.Context, key string) (string, bool, error) {
	value, found := os.LookupEnv(key)
	return value, found, nil
}

var _ pkgsecrets.Provider = (*EnvProvider)(nil)
