// Package debug prints host variables as YAML.
package debug

import (
	"context"
	"strings"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"gopkg.in/yaml.v3"
)

func init() {
	module.Register("debug", NewDebugModule)
}

type DebugModule struct{}

func NewDebugModule() plugin.Module {
	return &DebugModule{}
}

// Action prints Vars, or every variable of the host when Vars is empty.
type Action struct {
	Vars []string
}

func (m *DebugModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, []string{"vars"}); err != nil {
		return nil, err
	}
	vars, _, err := paramutil.GetOptionalStringSlice(params, "vars")
	if err != nil {
		return nil, err
	}
	return &Action{Vars: vars}, nil
}

func (a *Action) Dispatch(_ context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		return h.IsValidated(req)
	case protocol.Query:
		selected := a.selected(h)
		out, err := yaml.Marshal(selected)
		if err != nil {
			return h.IsFailed(req, "cannot render variables: "+err.Error())
		}
		resp := h.IsMatched(req).WithOutputs(map[string]interface{}{"vars": selected})
		resp.Message = strings.TrimRight(string(out), "\n")
		return resp
	default:
		return h.NotSupported(req)
	}
}

// selected returns the requested variables. A missing one is reported as
// null rather than failing the task.
func (a *Action) selected(h plugin.Handle) map[string]interface{} {
	if len(a.Vars) == 0 {
		return h.Vars().GetAll()
	}
	out := make(map[string]interface{}, len(a.Vars))
	for _, name := range a.Vars {
		v, _ := h.Vars().Get(name)
		out[name] = v
	}
	return out
}
