package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"golang.org/x/mod/semver"
)

// SupportedSchemaVersionConstraint is the major version of run-config files
// this engine reads.
const SupportedSchemaVersionConstraint = "v1"

// Listing strategy names understood by the fetch module.
const (
	ListingFind = "find"
	ListingDu   = "du"
)

// DefaultListingStrategies is the enumeration order used when neither the
// run config nor the task picks one.
var DefaultListingStrategies = []string{ListingFind, ListingDu}

// RunConfig holds engine-wide settings. CLI flags override it.
type RunConfig struct {
	SchemaVersion            string `validate:"required"`
	Forks                    int    `validate:"min=1,max=1024"`
	DefaultUser              string `validate:"omitempty,max=256"`
	SSHPort                  int    `validate:"min=1,max=65535"`
	SSHKeyFile               string
	SSHKnownHosts            string
	SSHInsecureIgnoreHostKey bool
	SSHPasswordEnv           string        `validate:"omitempty,max=256"`
	ConnectTimeout           time.Duration `validate:"gte=0"`
	CommandTimeout           time.Duration `validate:"gte=0"`
	ConnectRetries           int           `validate:"min=0,max=20"`
	LogLevel                 string        `validate:"oneof=debug info warn warning error"`
	LogFormat                string        `validate:"oneof=text json"`
	ListingStrategies        []string      `validate:"min=1,dive,oneof=find du"`
}

// DefaultRunConfig returns the settings used without a config file.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		SchemaVersion:     "1.0.0",
		Forks:             5,
		SSHPort:           22,
		ConnectTimeout:    10 * time.Second,
		ConnectRetries:    2,
		LogLevel:          "info",
		LogFormat:         "text",
		ListingStrategies: append([]string(nil), DefaultListingStrategies...),
	}
}

// runConfigFile is the TOML key mapping. Durations are Go duration strings.
type runConfigFile struct {
	SchemaVersion            string   `toml:"schema_version"`
	Forks                    int      `toml:"forks"`
	DefaultUser              string   `toml:"default_user"`
	SSHPort                  int      `toml:"ssh_port"`
	SSHKeyFile               string   `toml:"ssh_key_file"`
	SSHKnownHosts            string   `toml:"ssh_known_hosts"`
	SSHInsecureIgnoreHostKey bool     `toml:"ssh_insecure_ignore_host_key"`
	SSHPasswordEnv           string   `toml:"ssh_password_env"`
	ConnectTimeout           string   `toml:"connect_timeout"`
	CommandTimeout           string   `toml:"command_timeout"`
	ConnectRetries           int      `toml:"connect_retries"`
	LogLevel                 string   `toml:"log_level"`
	LogFormat                string   `toml:"log_format"`
	ListingStrategies        []string `toml:"listing_strategies"`
}

// LoadRunConfig reads a TOML run-config file and overlays the keys it
// defines onto DefaultRunConfig.
func LoadRunConfig(path string) (RunConfig, error) {
	var raw runConfigFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RunConfig{}, convergeerrors.NewConfigError(fmt.Sprintf("failed to read run config '%s'", path), err)
	}
	return overlayRunConfig(raw, meta, path)
}

// ParseRunConfig is LoadRunConfig for in-memory content.
func ParseRunConfig(data string) (RunConfig, error) {
	var raw runConfigFile
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return RunConfig{}, convergeerrors.NewConfigError("failed to parse run config", err)
	}
	return overlayRunConfig(raw, meta, "<inline>")
}

func overlayRunConfig(raw runConfigFile, meta toml.MetaData, source string) (RunConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return RunConfig{}, convergeerrors.NewConfigError(fmt.Sprintf("run config '%s' has unknown keys: %s", source, strings.Join(keys, ", ")), nil)
	}

	cfg := DefaultRunConfig()
	if meta.IsDefined("schema_version") {
		cfg.SchemaVersion = strings.TrimSpace(raw.SchemaVersion)
	}
	if meta.IsDefined("forks") {
		cfg.Forks = raw.Forks
	}
	if meta.IsDefined("default_user") {
		cfg.DefaultUser = strings.TrimSpace(raw.DefaultUser)
	}
	if meta.IsDefined("ssh_port") {
		cfg.SSHPort = raw.SSHPort
	}
	if meta.IsDefined("ssh_key_file") {
		cfg.SSHKeyFile = strings.TrimSpace(raw.SSHKeyFile)
	}
	if meta.IsDefined("ssh_known_hosts") {
		cfg.SSHKnownHosts = strings.TrimSpace(raw.SSHKnownHosts)
	}
	if meta.IsDefined("ssh_insecure_ignore_host_key") {
		cfg.SSHInsecureIgnoreHostKey = raw.SSHInsecureIgnoreHostKey
	}
	if meta.IsDefined("ssh_password_env") {
		cfg.SSHPasswordEnv = strings.TrimSpace(raw.SSHPasswordEnv)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(raw.ConnectTimeout)
		if err != nil {
			return RunConfig{}, convergeerrors.NewConfigError(fmt.Sprintf("run config '%s': connect_timeout", source), err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("command_timeout") {
		d, err := time.ParseDuration(raw.CommandTimeout)
		if err != nil {
			return RunConfig{}, convergeerrors.NewConfigError(fmt.Sprintf("run config '%s': command_timeout", source), err)
		}
		cfg.CommandTimeout = d
	}
	if meta.IsDefined("connect_retries") {
		cfg.ConnectRetries = raw.ConnectRetries
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}
	if meta.IsDefined("listing_strategies") {
		cfg.ListingStrategies = raw.ListingStrategies
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, convergeerrors.NewConfigError(fmt.Sprintf("run config '%s'", source), err)
	}
	return cfg, nil
}

var runConfigValidator = validator.New()

// Validate checks field ranges and the schema version.
func (c RunConfig) Validate() error {
	if err := runConfigValidator.Struct(c); err != nil {
		return err
	}
	v := c.SchemaVersion
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("invalid schema_version '%s'", c.SchemaVersion)
	}
	if semver.Major(v) != SupportedSchemaVersionConstraint {
		return fmt.Errorf("schema_version '%s' is not compatible with '%s'", c.SchemaVersion, SupportedSchemaVersionConstraint)
	}
	return nil
}
