package module

import (
	"errors"

	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
)

// Evaluate looks up the module registered under name and evaluates params
// into an Action. Errors that are not already typed are wrapped in a
// ValidationError, since Evaluate performs no I/O.
func Evaluate(registry plugin.Registry, name string, params map[string]interface{}) (plugin.Action, error) {
	factory, err := registry.Get(name)
	if err != nil {
		return nil, err
	}
	mod := factory()
	if mod == nil {
		return nil, convergeerrors.NewConfigError("module factory for '"+name+"' returned nil", nil)
	}

	action, err := mod.Evaluate(params)
	if err != nil {
		var ve *convergeerrors.ValidationError
		var te *convergeerrors.TemplateError
		if errors.As(err, &ve) || errors.As(err, &te) {
			return nil, err
		}
		return nil, convergeerrors.NewValidationError("module '"+name+"'", err)
	}
	if action == nil {
		return nil, convergeerrors.NewValidationError("module '"+name+"' produced no action", nil)
	}
	return action, nil
}
