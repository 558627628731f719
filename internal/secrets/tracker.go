package secrets

import (
	"sort"
	"strings"
	"sync"
)

// SecretTracker records every secret value resolved during a run so that
// visitor output and saved results can be redacted.
type SecretTracker struct {
	mu              sync.RWMutex
	resolvedSecrets map[string]struct{}
}

// NewSecretTracker creates a new, empty tracker.
func NewSecretTracker() *SecretTracker {
	return &SecretTracker{
		resolvedSecrets: make(map[string]struct{}),
	}
}

// Add marks a secret value as seen. Empty strings are ignored.
func (t *SecretTracker) Add(secretValue string) {
	if secretValue == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolvedSecrets[secretValue] = struct{}{}
}

// IsTracked reports whether value is exactly a tracked secret.
func (t *SecretTracker) IsTracked(value string) bool {
	if value == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, found := t.resolvedSecrets[value]
	return found
}

// ContainsTrackedSecret reports whether input contains any tracked secret as
// a substring, which catches secrets embedded in command lines and URLs.
func (t *SecretTracker) ContainsTrackedSecret(input string) bool {
	if input == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for secret := range t.resolvedSecrets {
		if strings.Contains(input, secret) {
			return true
		}
	}
	return false
}

// Values returns the tracked secrets, longest first, so that replacing them
// in order never leaves a fragment of a longer secret behind.
func (t *SecretTracker) Values() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.resolvedSecrets))
	for secret := range t.resolvedSecrets {
		out = append(out, secret)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}
