// Package filecopy pushes a single controller file to the host. It is the
// inverse of a single-file fetch: presence and content hash decide whether
// the remote copy is refreshed.
package filecopy

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

func init() {
	module.Register("copy", NewCopyModule)
}

type CopyModule struct{}

func NewCopyModule() plugin.Module {
	return &CopyModule{}
}

// Action copies Src, on the controller, to Dest, on the host.
type Action struct {
	Src  string
	Dest string
}

func (m *CopyModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, []string{"src", "dest"}); err != nil {
		return nil, err
	}
	src, err := paramutil.GetRequiredPath(params, "src")
	if err != nil {
		return nil, err
	}
	dest, err := paramutil.GetRequiredString(params, "dest")
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(dest, "/") {
		return nil, convergeerrors.NewValidationError("'dest' must name a file, not a directory", nil)
	}
	a := &Action{Src: src, Dest: dest}
	if !strings.Contains(src, "{{") {
		a.Src = filepath.ToSlash(filepath.Clean(src))
	}
	if !strings.Contains(dest, "{{") {
		a.Dest = path.Clean(dest)
	}
	return a, nil
}

func (a *Action) Dispatch(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		return h.IsValidated(req)
	case protocol.Query:
		return a.query(ctx, h, req)
	case protocol.Create:
		if err := h.PushFile(ctx, req, a.Src, a.Dest); err != nil {
			return h.IsFailed(req, "Unable to copy the file: "+err.Error())
		}
		return h.IsCreated(req).WithOutputs(a.outputs())
	case protocol.Modify:
		for _, c := range req.Changes {
			if c.Kind != protocol.CreateFile || c.Path != a.Dest {
				return h.IsFailed(req, fmt.Sprintf("unexpected change %s", c))
			}
			if err := h.PushFile(ctx, req, c.Source, c.Path); err != nil {
				return h.IsFailed(req, "Unable to copy the file: "+err.Error())
			}
		}
		return h.IsModified(req, req.Changes).WithOutputs(a.outputs())
	default:
		return h.NotSupported(req)
	}
}

func (a *Action) outputs() map[string]interface{} {
	return map[string]interface{}{"src": a.Src, "dest": a.Dest}
}

func (a *Action) query(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	local := h.Local()
	exists, err := local.Exists(a.Src)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if isDir, _ := local.IsDirectory(a.Src); !exists || isDir {
		return h.IsFailed(req, convergeerrors.NewPreconditionError(a.Src, "Local source file not found").Error())
	}

	isDir, err := h.IsDirectory(ctx, req, a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if isDir {
		return h.IsFailed(req, fmt.Sprintf("remote destination %s is a directory", a.Dest))
	}
	present, err := h.IsFile(ctx, req, a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if !present {
		return h.NeedsCreation(req)
	}

	localSum, err := local.ContentHash(a.Src)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	remoteSum, err := h.ContentHash(ctx, req, a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if localSum == remoteSum {
		return h.IsMatched(req).WithOutputs(a.outputs())
	}
	return h.NeedsModification(req, []protocol.Change{protocol.NewCreateFile(a.Src, a.Dest)})
}
