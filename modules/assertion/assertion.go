// Package assertion fails a host when a set of conditions does not hold.
// Conditions are template expressions, already rendered by the time the
// task runs, so each arrives as a boolean or a boolean-like string.
package assertion

import (
	"context"
	"fmt"
	"strings"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	"github.com/gxo-labs/converge/internal/template"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

func init() {
	module.Register("assert", NewAssertModule)
}

var (
	scalarChecks  = []string{"true", "false"}
	listChecks    = []string{"all_true", "all_false", "some_true"}
	allowedParams = []string{"msg", "true", "false", "all_true", "all_false", "some_true"}
)

type AssertModule struct{}

func NewAssertModule() plugin.Module {
	return &AssertModule{}
}

// Action holds the raw condition values per check kind.
type Action struct {
	Msg    string
	checks map[string][]interface{}
}

func (m *AssertModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, allowedParams); err != nil {
		return nil, err
	}
	msg, _, err := paramutil.GetOptionalString(params, "msg")
	if err != nil {
		return nil, err
	}
	a := &Action{Msg: msg, checks: map[string][]interface{}{}}
	for _, key := range scalarChecks {
		if v, ok := params[key]; ok {
			a.checks[key] = []interface{}{v}
		}
	}
	for _, key := range listChecks {
		v, ok := params[key]
		if !ok {
			continue
		}
		list, isList := v.([]interface{})
		if !isList || len(list) == 0 {
			return nil, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a non-empty list", key), nil)
		}
		a.checks[key] = list
	}
	if len(a.checks) == 0 {
		return nil, convergeerrors.NewValidationError("assert needs at least one of: "+strings.Join(append(scalarChecks, listChecks...), ", "), nil)
	}
	return a, nil
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return template.ParseBool(b)
	}
	return false, convergeerrors.NewValidationError(fmt.Sprintf("condition %v is not a boolean", v), nil)
}

func (a *Action) Dispatch(_ context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		for _, values := range a.checks {
			for _, v := range values {
				if s, ok := v.(string); ok && template.IsTemplated(s) {
					continue
				}
				if _, err := toBool(v); err != nil {
					return h.IsFailed(req, err.Error())
				}
			}
		}
		return h.IsValidated(req)
	case protocol.Query:
		failed, err := a.evaluate()
		if err != nil {
			return h.IsFailed(req, err.Error())
		}
		if len(failed) > 0 {
			msg := "assertion failed: " + strings.Join(failed, ", ")
			if a.Msg != "" {
				msg = a.Msg + " (" + strings.Join(failed, ", ") + ")"
			}
			return h.IsFailed(req, msg)
		}
		return h.IsMatched(req)
	default:
		return h.NotSupported(req)
	}
}

// evaluate returns the names of the checks that do not hold, in a fixed
// order.
func (a *Action) evaluate() ([]string, error) {
	var failed []string
	for _, key := range append(append([]string(nil), scalarChecks...), listChecks...) {
		values, ok := a.checks[key]
		if !ok {
			continue
		}
		trues := 0
		for _, v := range values {
			b, err := toBool(v)
			if err != nil {
				return nil, err
			}
			if b {
				trues++
			}
		}
		var holds bool
		switch key {
		case "true", "all_true":
			holds = trues == len(values)
		case "false", "all_false":
			holds = trues == 0
		case "some_true":
			holds = trues > 0
		}
		if !holds {
			failed = append(failed, key)
		}
	}
	return failed, nil
}
