package template

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	pkgsecrets "github.com/gxo-labs/converge/pkg/converge/v1/secrets"
)

const secretLookupTimeout = 10 * time.Second

// GetFuncMap builds the function map for playbook templates. The 'secret'
// function is only present when a provider is configured; values it returns
// are added to tracker.
func GetFuncMap(secretsProvider pkgsecrets.Provider, bus events.Bus, tracker *secrets.SecretTracker) template.FuncMap {
	fm := template.FuncMap{
		"env":      os.Getenv,
		"default":  funcDefault,
		"lower":    strings.ToLower,
		"upper":    strings.ToUpper,
		"trim":     strings.TrimSpace,
		"contains": func(substr, s string) bool { return strings.Contains(s, substr) },
	}
	if secretsProvider != nil {
		fm["secret"] = createSecretFunc(secretsProvider, bus, tracker)
	}
	return fm
}

// funcDefault returns value unless it is empty, in which case def.
// Usage: {{ .port | default 22 }}.
func funcDefault(def, value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return def
	case string:
		if v == "" {
			return def
		}
	}
	return value
}

func createSecretFunc(provider pkgsecrets.Provider, bus events.Bus, tracker *secrets.SecretTracker) func(string) (string, error) {
	return func(key string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), secretLookupTimeout)
		defer cancel()

		value, found, err := provider.GetSecret(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to retrieve secret '%s': %w", key, err)
		}
		if !found {
			return "", fmt.Errorf("secret '%s' not found", key)
		}

		if bus != nil {
			bus.Emit(events.Event{
				Type:      events.SecretAccessed,
				Timestamp: time.Now(),
				Payload:   map[string]interface{}{"secret_key": key},
			})
		}
		if tracker != nil {
			tracker.Add(value)
		}
		return value, nil
	}
}
