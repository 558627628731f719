package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

func init() {
	module.Register("shell", NewShellModule)
}

// unsafeChars are rejected in a command unless the task sets unsafe: true,
// so a variable rendered into cmd cannot chain a second command.
const unsafeChars = ";&|<>`$\n"

var allowedParams = []string{"cmd", "unsafe"}

// ShellModule runs a command on the host. It never matches: Query always
// asks for creation, and Create runs the command.
type ShellModule struct{}

func NewShellModule() plugin.Module {
	return &ShellModule{}
}

type Action struct {
	Cmd    string
	Unsafe bool
}

func (m *ShellModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, allowedParams); err != nil {
		return nil, err
	}
	cmd, err := paramutil.GetRequiredString(params, "cmd")
	if err != nil {
		return nil, err
	}
	unsafe, err := paramutil.GetDeferredBoolDefault(params, "unsafe", false)
	if err != nil {
		return nil, err
	}
	return &Action{Cmd: cmd, Unsafe: unsafe}, nil
}

func (a *Action) Dispatch(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		if !a.Unsafe && !strings.Contains(a.Cmd, "{{") && strings.ContainsAny(a.Cmd, unsafeChars) {
			return h.IsFailed(req, convergeerrors.NewValidationError(
				fmt.Sprintf("cmd '%s' contains shell operators; set unsafe: true to allow them", a.Cmd), nil).Error())
		}
		return h.IsValidated(req)
	case protocol.Query:
		return h.NeedsCreation(req)
	case protocol.Create:
		return a.run(ctx, h, req)
	default:
		return h.NotSupported(req)
	}
}

func (a *Action) run(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	res, err := h.RunCommand(ctx, req, a.Cmd)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	outputs := map[string]interface{}{
		"rc":  res.ExitCode,
		"out": res.Output(),
	}
	if res.ExitCode != 0 {
		cause := convergeerrors.NewTaskExecutionError("shell", fmt.Errorf("command exited with status %d", res.ExitCode))
		msg := cause.Error()
		if out := res.Output(); out != "" {
			msg += ": " + out
		}
		return h.IsFailed(req, msg).WithOutputs(outputs)
	}
	return h.IsCreated(req).WithOutputs(outputs)
}
