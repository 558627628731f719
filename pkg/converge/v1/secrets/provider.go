package secrets

import "context"

// Provider retrieves secrets by name. The engine exposes it to playbooks
// through the 'secret' template function and uses it for SSH passwords.
type Provider interface {
	// GetSecret returns the value and true if found, or "" and false if
	// not. The error is reserved for backend failures.
	GetSecret(ctx context.Context, key string) (string, bool, error)
}
