package template

import (
	"strings"

	"github.com/gxo-labs/converge/internal/secrets"
)

// RedactedSecretValue replaces tracked secret values in saved results and
// reported messages.
const RedactedSecretValue = "[REDACTED_SECRET]"

// RedactTrackedSecrets walks data and replaces every string holding a
// tracked secret with RedactedSecretValue. The input is not modified; the
// boolean reports whether anything was replaced.
func RedactTrackedSecrets(data interface{}, tracker *secrets.SecretTracker) (interface{}, bool) {
	if data == nil || tracker == nil {
		return data, false
	}
	return redactRecursive(data, tracker)
}

func redactRecursive(data interface{}, tracker *secrets.SecretTracker) (interface{}, bool) {
	switch v := data.(type) {
	case string:
		if tracker.ContainsTrackedSecret(v) {
			return RedactedSecretValue, true
		}
		return v, false

	case map[string]interface{}:
		if v == nil {
			return nil, false
		}
		redacted := false
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			newVal, was := redactRecursive(val, tracker)
			out[key] = newVal
			redacted = redacted || was
		}
		return out, redacted

	case []interface{}:
		if v == nil {
			return nil, false
		}
		redacted := false
		out := make([]interface{}, len(v))
		for i, val := range v {
			newVal, was := redactRecursive(val, tracker)
			out[i] = newVal
			redacted = redacted || was
		}
		return out, redacted

	default:
		return data, false
	}
}

// RedactMessage replaces each tracked secret occurring in msg, keeping the
// surrounding text readable.
func RedactMessage(msg string, tracker *secrets.SecretTracker) string {
	if msg == "" || tracker == nil {
		return msg
	}
	for _, secret := range tracker.Values() {
		msg = strings.ReplaceAll(msg, secret, RedactedSecretValue)
	}
	return msg
}
