// Package fetch mirrors a file or a directory tree from a managed host onto
// the controller.
//
// In folder mode the Query phase diffs the remote tree against the local
// destination and returns the change set; Modify applies exactly that set:
// folders are created first, then files are refreshed (stale copy deleted,
// then fetched again), and only in mirror mode are extraneous files and
// finally extraneous folders deleted.
package fetch

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

func init() {
	module.Register("fetch", NewFetchModule)
}

// VarListingStrategies is the host variable holding the run-wide listing
// strategy order. A task's own 'listing' field takes precedence.
const VarListingStrategies = "converge_listing_strategies"

var allowedParams = []string{"src", "dest", "is_folder", "mirror_mode", "listing", "exclude"}

// FetchModule evaluates 'fetch' tasks.
type FetchModule struct{}

func NewFetchModule() plugin.Module {
	return &FetchModule{}
}

// Action is a fetch task resolved for one host.
type Action struct {
	Src        string
	Dest       string
	IsFolder   bool
	MirrorMode bool
	Listing    []string
	Exclude    []string

	excludes []glob.Glob
	// deferred is set when some field still holds a template expression.
	deferred bool
}

var _ plugin.Action = (*Action)(nil)

func (m *FetchModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, allowedParams); err != nil {
		return nil, err
	}
	src, err := paramutil.GetRequiredString(params, "src")
	if err != nil {
		return nil, err
	}
	dest, err := paramutil.GetRequiredPath(params, "dest")
	if err != nil {
		return nil, err
	}
	isFolder, err := paramutil.GetDeferredBoolDefault(params, "is_folder", false)
	if err != nil {
		return nil, err
	}
	mirror, err := paramutil.GetDeferredBoolDefault(params, "mirror_mode", true)
	if err != nil {
		return nil, err
	}
	listing, _, err := paramutil.GetOptionalStringSlice(params, "listing")
	if err != nil {
		return nil, err
	}
	exclude, _, err := paramutil.GetOptionalStringSlice(params, "exclude")
	if err != nil {
		return nil, err
	}

	a := &Action{
		Src:        cleanRemote(src),
		Dest:       cleanLocal(dest),
		IsFolder:   isFolder,
		MirrorMode: mirror,
		Listing:    listing,
		Exclude:    exclude,
	}
	for _, key := range allowedParams {
		if paramutil.Unresolved(params, key) {
			a.deferred = true
		}
	}
	for _, pattern := range exclude {
		if strings.Contains(pattern, "{{") {
			a.deferred = true
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, convergeerrors.NewValidationError(fmt.Sprintf("invalid exclude pattern '%s'", pattern), err)
		}
		a.excludes = append(a.excludes, g)
	}
	return a, nil
}

func cleanRemote(p string) string {
	if strings.Contains(p, "{{") {
		return p
	}
	return path.Clean(p)
}

func cleanLocal(p string) string {
	if strings.Contains(p, "{{") {
		return p
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func (a *Action) Dispatch(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		if err := a.validate(); err != nil {
			return h.IsFailed(req, err.Error())
		}
		return h.IsValidated(req)
	case protocol.Query:
		if a.IsFolder {
			return a.queryFolder(ctx, h, req)
		}
		return a.queryFile(ctx, h, req)
	case protocol.Create:
		return a.create(ctx, h, req)
	case protocol.Modify:
		return a.modify(ctx, h, req)
	default:
		return h.NotSupported(req)
	}
}

func (a *Action) validate() error {
	if len(a.Exclude) > 0 && !a.IsFolder {
		return convergeerrors.NewValidationError("'exclude' requires is_folder: true", nil)
	}
	for _, name := range a.Listing {
		if strings.Contains(name, "{{") {
			continue
		}
		if _, ok := strategies[name]; !ok {
			return convergeerrors.NewValidationError(fmt.Sprintf("unknown listing strategy '%s' (known: %s)", name, strings.Join(StrategyNames(), ", ")), nil)
		}
	}
	if a.deferred {
		return nil
	}
	if a.IsFolder && a.MirrorMode && a.Dest == "/" {
		return convergeerrors.NewValidationError("refusing to mirror a folder into /", nil)
	}
	if a.Src == "." || a.Dest == "." {
		return convergeerrors.NewValidationError("'src' and 'dest' must name a path", nil)
	}
	return nil
}

func (a *Action) outputs(fetched, deleted int) map[string]interface{} {
	return map[string]interface{}{
		"src":     a.Src,
		"dest":    a.Dest,
		"fetched": fetched,
		"deleted": deleted,
	}
}

func (a *Action) queryFile(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	exists, err := h.IsFile(ctx, req, a.Src)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if !exists {
		return h.IsFailed(req, convergeerrors.NewPreconditionError(a.Src, "Remote source file not found").Error())
	}

	local := h.Local()
	present, err := local.Exists(a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if !present {
		return h.NeedsCreation(req)
	}
	isDir, err := local.IsDirectory(a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if isDir {
		return h.IsFailed(req, fmt.Sprintf("local destination %s is a directory", a.Dest))
	}

	localSum, err := local.ContentHash(a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	remoteSum, err := h.ContentHash(ctx, req, a.Src)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if localSum == remoteSum {
		return h.IsMatched(req).WithOutputs(a.outputs(0, 0))
	}
	return h.NeedsModification(req, []protocol.Change{protocol.NewCreateFile(a.Src, a.Dest)})
}

func (a *Action) queryFolder(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	exists, err := h.IsDirectory(ctx, req, a.Src)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if !exists {
		return h.IsFailed(req, convergeerrors.NewPreconditionError(a.Src, "Remote folder not found").Error())
	}

	local := h.Local()
	present, err := local.Exists(a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if !present {
		return h.NeedsCreation(req)
	}
	isDir, err := local.IsDirectory(a.Dest)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if !isDir {
		return h.IsFailed(req, fmt.Sprintf("local destination %s exists and is not a directory", a.Dest))
	}

	changes, err := a.diff(ctx, h, req, true)
	if err != nil {
		return h.IsFailed(req, err.Error())
	}
	if len(changes) == 0 {
		return h.IsMatched(req).WithOutputs(a.outputs(0, 0))
	}
	return h.NeedsModification(req, changes)
}

// create fetches everything. For a folder this is the diff against an empty
// destination, applied.
func (a *Action) create(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	var changes []protocol.Change
	if a.IsFolder {
		var err error
		changes, err = a.diff(ctx, h, req, false)
		if err != nil {
			return h.IsFailed(req, "Unable to fetch the folder: "+err.Error())
		}
	} else {
		if err := h.Local().MkdirAll(path.Dir(a.Dest)); err != nil {
			return h.IsFailed(req, "Unable to fetch the file: "+err.Error())
		}
		changes = []protocol.Change{protocol.NewCreateFile(a.Src, a.Dest)}
	}

	res := a.apply(ctx, h, req, changes)
	if err := res.errs.ErrorOrNil(); err != nil {
		return h.IsFailed(req, fmt.Sprintf("fetched %d of %d files: %v", res.fetched, countKind(changes, protocol.CreateFile), err))
	}
	return h.IsCreated(req).WithOutputs(a.outputs(res.fetched, res.deleted))
}

// modify applies exactly the change set the Query produced.
func (a *Action) modify(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	res := a.apply(ctx, h, req, req.Changes)
	if err := res.errs.ErrorOrNil(); err != nil {
		return h.IsFailed(req, fmt.Sprintf("%d of %d changes failed: %v", res.errs.Len(), len(req.Changes), err))
	}
	return h.IsModified(req, req.Changes).WithOutputs(a.outputs(res.fetched, res.deleted))
}

func countKind(changes []protocol.Change, kind protocol.ChangeKind) int {
	n := 0
	for _, c := range changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
