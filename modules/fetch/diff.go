package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/hashicorp/go-multierror"
)

// TranslatePath maps remotePath, which lies under remoteRoot, to the
// corresponding path under localRoot. The mapping is textual: both roots
// are compared with exactly one trailing slash, and remotePath equal to
// the root maps to localRoot itself. ok is false when remotePath is not
// under remoteRoot.
func TranslatePath(remoteRoot, remotePath, localRoot string) (string, bool) {
	remotePrefix := withSlash(remoteRoot)
	localPrefix := withSlash(localRoot)
	if remotePath == remoteRoot || withSlash(remotePath) == remotePrefix {
		return withoutSlash(localRoot), true
	}
	if !strings.HasPrefix(remotePath, remotePrefix) {
		return "", false
	}
	return localPrefix + strings.TrimPrefix(remotePath, remotePrefix), true
}

func withSlash(p string) string {
	return strings.TrimRight(p, "/") + "/"
}

func withoutSlash(p string) string {
	if trimmed := strings.TrimRight(p, "/"); trimmed != "" {
		return trimmed
	}
	return "/"
}

// excluded reports whether rel, or one of its parent directories, matches
// an exclude pattern.
func (a *Action) excluded(rel string) bool {
	if rel == "" || len(a.excludes) == 0 {
		return false
	}
	for p := rel; ; {
		for _, g := range a.excludes {
			if g.Match(p) {
				return true
			}
		}
		i := strings.LastIndex(p, "/")
		if i < 0 {
			return false
		}
		p = p[:i]
	}
}

func relative(root, p string) string {
	if withSlash(p) == withSlash(root) {
		return ""
	}
	return strings.TrimPrefix(p, withSlash(root))
}

// diff computes the change set bringing Dest in line with Src. With
// withLocal false the destination is taken to be empty, which is what
// Create applies. Any failure aborts the whole diff.
func (a *Action) diff(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest, withLocal bool) ([]protocol.Change, error) {
	order := a.strategyOrder(h)
	remoteDirs, err := listRemote(ctx, h, req, a.Src, dirs, order)
	if err != nil {
		return nil, err
	}
	remoteFiles, err := listRemote(ctx, h, req, a.Src, files, order)
	if err != nil {
		return nil, err
	}

	localDirs := map[string]struct{}{}
	localFiles := map[string]struct{}{}
	if withLocal {
		list, err := h.Local().ListDirectories(a.Dest)
		if err != nil {
			return nil, fmt.Errorf("cannot list local folders under %s: %w", a.Dest, err)
		}
		for _, d := range list {
			localDirs[d] = struct{}{}
		}
		list, err = h.Local().ListFiles(a.Dest)
		if err != nil {
			return nil, fmt.Errorf("cannot list local files under %s: %w", a.Dest, err)
		}
		for _, f := range list {
			localFiles[f] = struct{}{}
		}
	}

	var changes []protocol.Change

	// The destination root is never a deletion candidate.
	expectedDirs := map[string]struct{}{withoutSlash(a.Dest): {}}
	for _, rd := range remoteDirs {
		if a.excluded(relative(a.Src, rd)) {
			continue
		}
		ld, ok := TranslatePath(a.Src, rd, a.Dest)
		if !ok {
			return nil, fmt.Errorf("listing returned %s, which is outside %s", rd, a.Src)
		}
		expectedDirs[ld] = struct{}{}
		if _, have := localDirs[ld]; !have {
			changes = append(changes, protocol.NewCreateFolder(ld))
		}
	}

	expectedFiles := map[string]struct{}{}
	for _, rf := range remoteFiles {
		if a.excluded(relative(a.Src, rf)) {
			continue
		}
		lf, ok := TranslatePath(a.Src, rf, a.Dest)
		if !ok {
			return nil, fmt.Errorf("listing returned %s, which is outside %s", rf, a.Src)
		}
		expectedFiles[lf] = struct{}{}
		if _, have := localFiles[lf]; have {
			same, err := sameContent(ctx, h, req, rf, lf)
			if err != nil {
				return nil, err
			}
			if same {
				continue
			}
		}
		changes = append(changes, protocol.NewCreateFile(rf, lf))
	}

	if !a.MirrorMode {
		return changes, nil
	}
	for _, lf := range sortedKeys(localFiles) {
		if _, want := expectedFiles[lf]; want || a.excluded(relative(a.Dest, lf)) {
			continue
		}
		changes = append(changes, protocol.NewDeleteFile(lf))
	}
	extra := make([]string, 0)
	for ld := range localDirs {
		if _, want := expectedDirs[ld]; want || a.excluded(relative(a.Dest, ld)) {
			continue
		}
		extra = append(extra, ld)
	}
	// Deepest first.
	sort.Sort(sort.Reverse(sort.StringSlice(extra)))
	for _, ld := range extra {
		changes = append(changes, protocol.NewDeleteFolder(ld))
	}
	return changes, nil
}

func sameContent(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest, remote, local string) (bool, error) {
	localSum, err := h.Local().ContentHash(local)
	if err != nil {
		return false, fmt.Errorf("cannot hash %s: %w", local, err)
	}
	remoteSum, err := h.ContentHash(ctx, req, remote)
	if err != nil {
		return false, err
	}
	return localSum == remoteSum, nil
}

type applyResult struct {
	fetched int
	deleted int
	errs    *multierror.Error
}

func (r *applyResult) fail(err error) {
	r.errs = multierror.Append(r.errs, err)
	r.errs.ErrorFormat = joinErrors
}

// apply carries out changes in the fixed order CreateFolder, CreateFile,
// DeleteFile, DeleteFolder, whatever order they arrive in. Deletions only
// happen in mirror mode. A failing change does not stop the others.
func (a *Action) apply(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest, changes []protocol.Change) *applyResult {
	res := &applyResult{}
	local := h.Local()

	inScope := make([]protocol.Change, 0, len(changes))
	for _, c := range changes {
		if c.Kind == protocol.Attribute {
			continue
		}
		if withSlash(c.Path) != withSlash(a.Dest) && !strings.HasPrefix(c.Path, withSlash(a.Dest)) {
			res.fail(fmt.Errorf("%s is outside %s", c, a.Dest))
			continue
		}
		inScope = append(inScope, c)
	}
	each := func(kind protocol.ChangeKind, fn func(protocol.Change) error) {
		for _, c := range inScope {
			if c.Kind != kind {
				continue
			}
			if err := fn(c); err != nil {
				res.fail(fmt.Errorf("%s: %w", c, err))
			}
		}
	}

	each(protocol.CreateFolder, func(c protocol.Change) error {
		return local.MkdirAll(c.Path)
	})
	each(protocol.CreateFile, func(c protocol.Change) error {
		if err := local.RemoveFile(c.Path); err != nil {
			return err
		}
		if err := h.FetchFile(ctx, req, c.Source, c.Path); err != nil {
			return err
		}
		res.fetched++
		return nil
	})
	if !a.MirrorMode {
		return res
	}
	each(protocol.DeleteFile, func(c protocol.Change) error {
		if err := local.RemoveFile(c.Path); err != nil {
			return err
		}
		res.deleted++
		return nil
	})
	each(protocol.DeleteFolder, func(c protocol.Change) error {
		if withSlash(c.Path) == withSlash(a.Dest) {
			return fmt.Errorf("refusing to delete the destination root")
		}
		if err := local.RemoveDirectory(c.Path); err != nil {
			return err
		}
		res.deleted++
		return nil
	})
	return res
}
