// Package echo prints a message in the run output. It never changes
// anything.
package echo

import (
	"context"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

func init() {
	module.Register("echo", NewEchoModule)
}

type EchoModule struct{}

func NewEchoModule() plugin.Module {
	return &EchoModule{}
}

type Action struct {
	Msg string
}

func (m *EchoModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, []string{"msg"}); err != nil {
		return nil, err
	}
	msg, err := paramutil.GetRequiredString(params, "msg")
	if err != nil {
		return nil, err
	}
	return &Action{Msg: msg}, nil
}

func (a *Action) Dispatch(_ context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		return h.IsValidated(req)
	case protocol.Query:
		resp := h.IsMatched(req).WithOutputs(map[string]interface{}{"msg": a.Msg})
		resp.Message = a.Msg
		return resp
	default:
		return h.NotSupported(req)
	}
}
