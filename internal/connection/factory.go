package connection

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
)

// Kind selects the transport a Factory produces.
type Kind int

const (
	KindNoOp Kind = iota
	KindLocal
	KindSSH
)

func (k Kind) String() string {
	switch k {
	case KindNoOp:
		return "noop"
	case KindLocal:
		return "local"
	case KindSSH:
		return "ssh"
	}
	return "unknown"
}

// Host variables that override SSH settings per host.
const (
	VarSSHHostname = "converge_ssh_hostname"
	VarSSHPort     = "converge_ssh_port"
	VarSSHUser     = "converge_ssh_user"
	VarSSHKeyFile  = "converge_ssh_key_file"
)

// Factory builds one Connection per host.
type Factory struct {
	kind           Kind
	sshDefaults    SSHConfig
	commandTimeout time.Duration
	log            convergelog.Logger
}

var _ connection.Factory = (*Factory)(nil)

// NewFactory creates a factory for kind. sshDefaults supplies the settings
// hosts do not override; its CommandTimeout also bounds local commands.
func NewFactory(kind Kind, sshDefaults SSHConfig, log convergelog.Logger) *Factory {
	return &Factory{
		kind:           kind,
		sshDefaults:    sshDefaults,
		commandTimeout: sshDefaults.CommandTimeout,
		log:            log,
	}
}

// Kind returns the transport this factory produces.
func (f *Factory) Kind() Kind { return f.kind }

func (f *Factory) NewConnection(host string, vars map[string]interface{}) (connection.Connection, error) {
	switch f.kind {
	case KindNoOp:
		return NewNoOp(host), nil
	case KindLocal:
		return NewLocal(host, f.commandTimeout), nil
	case KindSSH:
		cfg, err := f.sshConfigFor(vars)
		if err != nil {
			return nil, convergeerrors.NewConfigError(fmt.Sprintf("host '%s'", host), err)
		}
		return NewSSH(host, cfg, f.log), nil
	}
	return nil, convergeerrors.NewConfigError(fmt.Sprintf("unknown connection kind %d", f.kind), nil)
}

func (f *Factory) sshConfigFor(vars map[string]interface{}) (SSHConfig, error) {
	cfg := f.sshDefaults
	if v, ok := vars[VarSSHHostname].(string); ok && v != "" {
		cfg.Address = v
	}
	if v, ok := vars[VarSSHUser].(string); ok && v != "" {
		cfg.User = v
	}
	if v, ok := vars[VarSSHKeyFile].(string); ok && v != "" {
		cfg.KeyFile = v
	}
	if raw, ok := vars[VarSSHPort]; ok && raw != nil {
		port, err := toPort(raw)
		if err != nil {
			return SSHConfig{}, err
		}
		cfg.Port = port
	}
	return cfg, nil
}

func toPort(raw interface{}) (int, error) {
	var port int
	switch v := raw.(type) {
	case int:
		port = v
	case int64:
		port = int(v)
	case uint64:
		port = int(v)
	case float64:
		port = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number, got '%s'", VarSSHPort, v)
		}
		port = n
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", VarSSHPort, raw)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%s out of range: %d", VarSSHPort, port)
	}
	return port, nil
}
