package plugin

import (
	"context"

	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/gxo-labs/converge/pkg/converge/v1/state"
)

// Module defines the public interface that every converge resource module
// must implement. A Module is the declarative side of a task: it knows which
// fields it accepts and how to turn them into an executable Action.
type Module interface {
	// Evaluate turns the task's fields into an Action.
	//
	// - params: the module fields of the task. Template expressions have
	//   already been resolved against the target host's variables, except in
	//   syntax-check mode where unresolved expressions are passed through.
	//   Modules should use the helpers from internal/paramutil to read them
	//   and to reject unknown fields.
	//
	// Evaluate must not perform I/O. It returns a ValidationError when a field
	// is missing or has the wrong shape.
	Evaluate(params map[string]interface{}) (Action, error)
}

// Action is the executable, host-resolved counterpart of a task. It holds
// fully resolved parameters and implements the reconciliation protocol.
type Action interface {
	// Dispatch performs the phase named by req.Type and returns the outcome.
	//
	// Validate must only inspect the Action's own parameters. Query must be
	// read-only. Create, Modify and Remove must be safe to re-run. Modify
	// applies exactly req.Changes and never re-derives them. Phases an
	// Action does not take part in return NotSupported.
	//
	// Ordinary failures are reported as a Failed response built with
	// Handle.IsFailed, never by panicking.
	Dispatch(ctx context.Context, h Handle, req *protocol.TaskRequest) *protocol.TaskResponse
}

// Handle is the capability-restricted facade a module receives. It proxies
// the host's Connection, exposes a read-only view of the host's variables,
// and builds responses.
type Handle interface {
	// Host returns the name of the host being converged.
	Host() string
	// Vars returns a read-only view of the host's resolved variables.
	Vars() state.StateReader
	// Local returns the controller-side filesystem.
	Local() connection.Filesystem

	IsDirectory(ctx context.Context, req *protocol.TaskRequest, path string) (bool, error)
	IsFile(ctx context.Context, req *protocol.TaskRequest, path string) (bool, error)
	ContentHash(ctx context.Context, req *protocol.TaskRequest, path string) (string, error)
	FetchFile(ctx context.Context, req *protocol.TaskRequest, remotePath, localPath string) error
	PushFile(ctx context.Context, req *protocol.TaskRequest, localPath, remotePath string) error
	RunCommand(ctx context.Context, req *protocol.TaskRequest, cmd string) (*connection.CommandResult, error)

	IsValidated(req *protocol.TaskRequest) *protocol.TaskResponse
	IsMatched(req *protocol.TaskRequest) *protocol.TaskResponse
	NeedsCreation(req *protocol.TaskRequest) *protocol.TaskResponse
	NeedsModification(req *protocol.TaskRequest, changes []protocol.Change) *protocol.TaskResponse
	NeedsRemoval(req *protocol.TaskRequest) *protocol.TaskResponse
	IsCreated(req *protocol.TaskRequest) *protocol.TaskResponse
	IsModified(req *protocol.TaskRequest, changes []protocol.Change) *protocol.TaskResponse
	IsRemoved(req *protocol.TaskRequest) *protocol.TaskResponse
	IsFailed(req *protocol.TaskRequest, msg string) *protocol.TaskResponse
	NotSupported(req *protocol.TaskRequest) *protocol.TaskResponse
}

// ModuleFactory is a function type that creates new instances of a Module.
type ModuleFactory func() Module

// Registry defines the public interface for the engine's module registry.
// It maps a module tag (the YAML tag of a task, e.g. "fetch") to a factory.
type Registry interface {
	// Get retrieves the factory for a module name. It returns a
	// ModuleNotFoundError if the name is not registered.
	Get(name string) (ModuleFactory, error)

	// Register associates a module name with its factory. It returns an
	// error if the name is empty, the factory is nil, or the name is taken.
	Register(name string, factory ModuleFactory) error

	// List returns the names of all registered modules in no particular order.
	List() []string
}
