// Package directory ensures a directory exists on the host, or with
// remove: true that it does not.
package directory

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	"github.com/gxo-labs/converge/internal/util"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

func init() {
	module.Register("directory", NewDirectoryModule)
}

type DirectoryModule struct{}

func NewDirectoryModule() plugin.Module {
	return &DirectoryModule{}
}

type Action struct {
	Path   string
	Remove bool
}

func (m *DirectoryModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, []string{"path", "remove"}); err != nil {
		return nil, err
	}
	p, err := paramutil.GetRequiredString(params, "path")
	if err != nil {
		return nil, err
	}
	remove, err := paramutil.GetDeferredBoolDefault(params, "remove", false)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(p, "{{") {
		p = path.Clean(p)
	}
	return &Action{Path: p, Remove: remove}, nil
}

func (a *Action) Dispatch(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		if a.Remove && a.Path == "/" {
			return h.IsFailed(req, convergeerrors.NewValidationError("refusing to remove /", nil).Error())
		}
		return h.IsValidated(req)
	case protocol.Query:
		return a.query(ctx, h, req)
	case protocol.Create:
		return a.run(ctx, h, req, "mkdir -p "+util.ShellQuote(a.Path), h.IsCreated)
	case protocol.Remove:
		return a.run(ctx, h, req, "rm -rf "+util.ShellQuote(a.Path), h.IsRemoved)
	default:
		return h.NotSupported(req)
	}
}

func (a *Action) query(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	isDir, err := h.IsDirectory(ctx, req, a.Path)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if !isDir {
		isFile, err := h.IsFile(ctx, req, a.Path)
		if err != nil {
			return h.IsFailed(req, err.Error())
		}
		if isFile {
			return h.IsFailed(req, convergeerrors.NewPreconditionError(a.Path, "exists and is not a directory").Error())
		}
	}
	switch {
	case isDir && a.Remove:
		return h.NeedsRemoval(req)
	case !isDir && !a.Remove:
		return h.NeedsCreation(req)
	}
	return h.IsMatched(req)
}

func (a *Action) run(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest, cmd string, done func(*protocol.TaskRequest) *protocol.TaskResponse) *protocol.TaskResponse {
	res, err := h.RunCommand(ctx, req, cmd)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if res.ExitCode != 0 {
		return h.IsFailed(req, fmt.Sprintf("'%s' exited with status %d: %s", cmd, res.ExitCode, res.Output()))
	}
	return done(req).WithOutputs(map[string]interface{}{"path": a.Path})
}
