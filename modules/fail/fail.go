// Package fail stops the host with an error. Combined with a condition it
// guards a playbook against hosts it was not written for.
package fail

import (
	"context"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

const defaultMessage = "failed as requested"

func init() {
	module.Register("fail", NewFailModule)
}

type FailModule struct{}

func NewFailModule() plugin.Module {
	return &FailModule{}
}

type Action struct {
	Msg string
}

func (m *FailModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, []string{"msg"}); err != nil {
		return nil, err
	}
	msg, found, err := paramutil.GetOptionalString(params, "msg")
	if err != nil {
		return nil, err
	}
	if !found || msg == "" {
		msg = defaultMessage
	}
	return &Action{Msg: msg}, nil
}

func (a *Action) Dispatch(_ context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		return h.IsValidated(req)
	case protocol.Query:
		return h.IsFailed(req, a.Msg)
	default:
		return h.NotSupported(req)
	}
}
