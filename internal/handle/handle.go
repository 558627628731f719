// Package handle implements the capability-restricted facade resource
// modules receive while being driven through the reconciliation phases.
package handle

import (
	"context"
	"fmt"

	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/gxo-labs/converge/pkg/converge/v1/state"
)

// PhaseError reports a connection operation that the current phase may not
// perform.
type PhaseError struct {
	Op    string
	Phase protocol.RequestType
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s is not permitted during %s", e.Op, e.Phase)
}

// TaskHandle wraps one host's Connection, the controller filesystem and a
// read-only view of the host's variables. It enforces the side-effect rules
// of the protocol: Validate may not touch the connection at all, and Query
// may only read.
type TaskHandle struct {
	host  string
	conn  connection.Connection
	local connection.Filesystem
	vars  state.StateReader
}

var _ plugin.Handle = (*TaskHandle)(nil)

// New creates a handle for host.
func New(host string, conn connection.Connection, local connection.Filesystem, vars state.StateReader) *TaskHandle {
	return &TaskHandle{host: host, conn: conn, local: local, vars: vars}
}

// Host returns the inventory name of the host being converged.
func (h *TaskHandle) Host() string { return h.host }

// Vars returns the host's variables. Writes go through the engine only.
func (h *TaskHandle) Vars() state.StateReader { return h.vars }

// Local returns the controller filesystem. It is not phase-gated; modules
// keep Query free of local writes themselves.
func (h *TaskHandle) Local() connection.Filesystem { return h.local }

func (h *TaskHandle) allowRead(req *protocol.TaskRequest, op string) error {
	if req == nil || req.Type == protocol.Validate {
		return &PhaseError{Op: op, Phase: protocol.Validate}
	}
	return nil
}

func (h *TaskHandle) allowWrite(req *protocol.TaskRequest, op string) error {
	if err := h.allowRead(req, op); err != nil {
		return err
	}
	if req.Type == protocol.Query {
		return &PhaseError{Op: op, Phase: protocol.Query}
	}
	return nil
}

// IsDirectory reports whether path is a directory on the host, following a
// symlink. Not allowed during Validate.
func (h *TaskHandle) IsDirectory(ctx context.Context, req *protocol.TaskRequest, path string) (bool, error) {
	if err := h.allowRead(req, "IsDirectory"); err != nil {
		return false, err
	}
	return h.conn.IsDirectory(ctx, path)
}

// IsFile reports whether path is a regular file on the host. Not allowed
// during Validate.
func (h *TaskHandle) IsFile(ctx context.Context, req *protocol.TaskRequest, path string) (bool, error) {
	if err := h.allowRead(req, "IsFile"); err != nil {
		return false, err
	}
	return h.conn.IsFile(ctx, path)
}

// ContentHash returns the hex SHA-512 digest of a remote file. Not allowed
// during Validate.
func (h *TaskHandle) ContentHash(ctx context.Context, req *protocol.TaskRequest, path string) (string, error) {
	if err := h.allowRead(req, "ContentHash"); err != nil {
		return "", err
	}
	return h.conn.ContentHash(ctx, path)
}

// RunCommand is allowed during Query because listing and fact gathering
// are done with commands. Modules must only issue read-only commands there.
func (h *TaskHandle) RunCommand(ctx context.Context, req *protocol.TaskRequest, cmd string) (*connection.CommandResult, error) {
	if err := h.allowRead(req, "RunCommand"); err != nil {
		return nil, err
	}
	return h.conn.RunCommand(ctx, cmd)
}

// FetchFile copies a remote file to the controller. Only Create, Modify and
// Remove may transfer files.
func (h *TaskHandle) FetchFile(ctx context.Context, req *protocol.TaskRequest, remotePath, localPath string) error {
	if err := h.allowWrite(req, "FetchFile"); err != nil {
		return err
	}
	return h.conn.FetchFile(ctx, remotePath, localPath)
}

// PushFile copies a controller file to the host. Only Create, Modify and
// Remove may transfer files.
func (h *TaskHandle) PushFile(ctx context.Context, req *protocol.TaskRequest, localPath, remotePath string) error {
	if err := h.allowWrite(req, "PushFile"); err != nil {
		return err
	}
	return h.conn.PushFile(ctx, localPath, remotePath)
}

// IsValidated answers a Validate request.
func (h *TaskHandle) IsValidated(req *protocol.TaskRequest) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.IsValidated, nil, "")
}

// IsMatched reports from Query that the host already converged.
func (h *TaskHandle) IsMatched(req *protocol.TaskRequest) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.IsMatched, nil, "")
}

// NeedsCreation reports from Query that the resource is absent.
func (h *TaskHandle) NeedsCreation(req *protocol.TaskRequest) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.NeedsCreation, nil, "")
}

// NeedsModification requires a non-empty change set; an empty one is turned
// into Failed, since Modify would have nothing to apply.
func (h *TaskHandle) NeedsModification(req *protocol.TaskRequest, changes []protocol.Change) *protocol.TaskResponse {
	if len(changes) == 0 {
		return h.IsFailed(req, "NeedsModification reported without any changes")
	}
	return protocol.NewTaskResponse(req, protocol.NeedsModification, changes, "")
}

// NeedsRemoval reports from Query that the resource must be removed.
func (h *TaskHandle) NeedsRemoval(req *protocol.TaskRequest) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.NeedsRemoval, nil, "")
}

// IsCreated answers a successful Create.
func (h *TaskHandle) IsCreated(req *protocol.TaskRequest) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.IsCreated, nil, "")
}

// IsModified answers a successful Modify with the changes applied.
func (h *TaskHandle) IsModified(req *protocol.TaskRequest, changes []protocol.Change) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.IsModified, changes, "")
}

// IsRemoved answers a successful Remove.
func (h *TaskHandle) IsRemoved(req *protocol.TaskRequest) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.IsRemoved, nil, "")
}

// IsFailed reports a failure in any phase; msg is shown to the user.
func (h *TaskHandle) IsFailed(req *protocol.TaskRequest, msg string) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.Failed, nil, msg)
}

// NotSupported answers a phase the module does not implement.
func (h *TaskHandle) NotSupported(req *protocol.TaskRequest) *protocol.TaskResponse {
	return protocol.NewTaskResponse(req, protocol.NotSupported, nil, "")
}
