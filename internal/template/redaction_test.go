package template_test

import (
	"testing"

	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/gxo-labs/converge/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTracker() *secrets.SecretTracker {
	tracker := secrets.NewSecretTracker()
	tracker.Add("s3cr3t_p@ssw0rd")
	tracker.Add("another-key-456")
	return tracker
}

func TestRedactTrackedSecrets_Strings(t *testing.T) {
	tracker := setupTracker()

	redacted, was := template.RedactTrackedSecrets("s3cr3t_p@ssw0rd", tracker)
	assert.True(t, was)
	assert.Equal(t, template.RedactedSecretValue, redacted)

	redacted, was = template.RedactTrackedSecrets("the key is another-key-456 today", tracker)
	assert.True(t, was)
	assert.Equal(t, template.RedactedSecretValue, redacted)

	redacted, was = template.RedactTrackedSecrets("nothing to see", tracker)
	assert.False(t, was)
	assert.Equal(t, "nothing to see", redacted)
}

func TestRedactTrackedSecrets_NilInputs(t *testing.T) {
	redacted, was := template.RedactTrackedSecrets(nil, setupTracker())
	assert.False(t, was)
	assert.Nil(t, redacted)

	redacted, was = template.RedactTrackedSecrets("s3cr3t_p@ssw0rd", nil)
	assert.False(t, was)
	assert.Equal(t, "s3cr3t_p@ssw0rd", redacted)
}

func TestRedactTrackedSecrets_NestedDoesNotMutateInput(t *testing.T) {
	tracker := setupTracker()
	input := map[string]interface{}{
		"stdout": "token=s3cr3t_p@ssw0rd",
		"rc":     0,
		"lines":  []interface{}{"ok", "another-key-456"},
	}

	out, was := template.RedactTrackedSecrets(input, tracker)
	require.True(t, was)
	m := out.(map[string]interface{})
	assert.Equal(t, template.RedactedSecretValue, m["stdout"])
	assert.Equal(t, 0, m["rc"])
	assert.Equal(t, []interface{}{"ok", template.RedactedSecretValue}, m["lines"])

	assert.Equal(t, "token=s3cr3t_p@ssw0rd", input["stdout"])
}

func TestRedactMessage(t *testing.T) {
	tracker := setupTracker()
	msg := template.RedactMessage("login failed for s3cr3t_p@ssw0rd on web1", tracker)
	assert.Equal(t, "login failed for [REDACTED_SECRET] on web1", msg)
	assert.Equal(t, "plain", template.RedactMessage("plain", tracker))
	assert.Equal(t, "x", template.RedactMessage("x", nil))
}
