package state

import (
	"errors"
)

// ErrHostNotFound indicates that no variables were ever registered for a host.
var ErrHostNotFound = errors.New("host not found in playbook context")

// StateReader is a read-only view of one host's resolved variables. Values
// returned are deep copies; callers may mutate them freely.
type StateReader interface {
	// Get retrieves the value of a variable. Dotted keys ("saved.out")
	// descend into nested maps.
	Get(key string) (interface{}, bool)

	// GetAll returns a copy of every variable visible to the host.
	GetAll() map[string]interface{}
}

// Context is the run-scoped store shared by every host pipeline. A host's
// variables are only written by that host's own pipeline; reads and writes
// are synchronized by the implementation.
type Context interface {
	// SetHostVars installs the layered inventory variables of a host.
	SetHostVars(host string, vars map[string]interface{})
	// SetFacts merges runtime facts into the host's fact layer, which takes
	// precedence over inventory variables.
	SetFacts(host string, facts map[string]interface{}) error
	// Save records a task's outputs under name in the host's variables.
	Save(host, name string, value interface{}) error
	// HostView returns a read-only view of the host's variables.
	HostView(host string) StateReader
	// Vars returns a copy of the host's merged variables.
	Vars(host string) (map[string]interface{}, error)

	// SetCursor records the play, host and task currently executing.
	SetCursor(play, host, task string)
	// Cursor returns the last recorded position for host.
	Cursor(host string) (play, task string)
}
