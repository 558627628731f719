package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRunConfig_IsValid(t *testing.T) {
	cfg := DefaultRunConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"find", "du"}, cfg.ListingStrategies)
}

func TestParseRunConfig_Overlay(t *testing.T) {
	cfg, err := ParseRunConfig(`
schema_version = "1.2.0"
forks = 20
default_user = "deploy"
connect_timeout = "3s"
listing_strategies = ["du"]
log_format = "JSON"
`)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Forks)
	assert.Equal(t, "deploy", cfg.DefaultUser)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, []string{"du"}, cfg.ListingStrategies)
	assert.Equal(t, "json", cfg.LogFormat)
	// untouched keys keep defaults
	assert.Equal(t, 22, cfg.SSHPort)
	assert.Equal(t, 2, cfg.ConnectRetries)
}

func TestParseRunConfig_Rejects(t *testing.T) {
	testCases := map[string]string{
		"zero forks":       "forks = 0",
		"bad port":         "ssh_port = 70000",
		"unknown strategy": `listing_strategies = ["ls"]`,
		"empty strategies": "listing_strategies = []",
		"major version":    `schema_version = "2.0.0"`,
		"not semver":       `schema_version = "latest"`,
		"bad duration":     `command_timeout = "forever"`,
		"unknown key":      `parallelism = 4`,
		"bad log level":    `log_level = "loud"`,
		"malformed toml":   `forks = `,
		"negative timeout": `connect_timeout = "-1s"`,
		"too many retries": "connect_retries = 99",
	}
	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRunConfig(content)
			assert.Error(t, err)
		})
	}
}

func TestLoadRunConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converge.toml")
	require.NoError(t, os.WriteFile(path, []byte("ssh_insecure_ignore_host_key = true\nssh_password_env = \"SSH_PASS\"\n"), 0o644))

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.SSHInsecureIgnoreHostKey)
	assert.Equal(t, "SSH_PASS", cfg.SSHPasswordEnv)

	_, err = LoadRunConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
