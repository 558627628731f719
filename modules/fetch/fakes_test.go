package fetch_test

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/util"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
)

// opLog is shared by the fake remote and the recording filesystem so the
// order of local writes and transfers can be asserted together.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *opLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
}

// remoteHost is an in-memory host. It understands the listing commands the
// fetch module issues; a strategy named in broken behaves as if its tool
// were not installed. Entries below denied cannot be read, so listings
// skip them and complain on stderr.
type remoteHost struct {
	log    *opLog
	dirs   map[string]bool
	files  map[string]string
	broken map[string]bool
	denied string

	mu       sync.Mutex
	commands []string
}

var _ connection.Connection = (*remoteHost)(nil)

func newRemoteHost(log *opLog, dirs []string, files map[string]string) *remoteHost {
	r := &remoteHost{log: log, dirs: map[string]bool{}, files: map[string]string{}, broken: map[string]bool{}}
	for _, d := range dirs {
		r.dirs[d] = true
	}
	for f, content := range files {
		r.files[f] = content
	}
	return r
}

func (r *remoteHost) Host() string                  { return "web1" }
func (r *remoteHost) Connect(context.Context) error { return nil }
func (r *remoteHost) Close() error                  { return nil }

func under(root, p string) bool {
	return p == root || strings.HasPrefix(p, strings.TrimRight(root, "/")+"/")
}

func (r *remoteHost) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *remoteHost) RunCommand(_ context.Context, cmd string) (*connection.CommandResult, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	fields := strings.Fields(cmd)
	tool := fields[0]
	if r.broken[tool] {
		// du runs in a pipeline, whose status is that of cut.
		code := 127
		if tool == "du" {
			code = 0
		}
		return &connection.CommandResult{Command: cmd, Stderr: "sh: " + tool + ": not found\n", ExitCode: code}, nil
	}

	var out []string
	var stderr string
	code := 0
	visible := func(root, p string) bool {
		if !under(root, p) {
			return false
		}
		if r.denied != "" && p != r.denied && under(r.denied, p) {
			stderr = fmt.Sprintf("%s: cannot read directory '%s': Permission denied\n", tool, r.denied)
			return false
		}
		return true
	}
	switch tool {
	case "find":
		if fields[1] == "-H" {
			fields = fields[1:]
		}
		root, kind := fields[1], fields[3]
		if kind == "d" {
			for d := range r.dirs {
				if visible(root, d) {
					out = append(out, d)
				}
			}
		} else {
			for f := range r.files {
				if visible(root, f) {
					out = append(out, f)
				}
			}
		}
		sort.Strings(out)
		if stderr != "" {
			code = 1
		}
	case "du":
		arg := fields[2]
		root := strings.TrimRight(arg, "/")
		for d := range r.dirs {
			if d != root && visible(root, d) {
				out = append(out, d)
			}
		}
		for f := range r.files {
			if visible(root, f) {
				out = append(out, f)
			}
		}
		// du prints children before their parent, and the root as given.
		sort.Sort(sort.Reverse(sort.StringSlice(out)))
		if r.dirs[root] {
			out = append(out, arg)
		}
	default:
		return &connection.CommandResult{Command: cmd, Stderr: "unexpected command", ExitCode: 2}, nil
	}
	res := &connection.CommandResult{Command: cmd, Stderr: stderr, ExitCode: code}
	if len(out) > 0 {
		res.Stdout = strings.Join(out, "\n") + "\n"
	}
	return res, nil
}

func (r *remoteHost) IsDirectory(_ context.Context, p string) (bool, error) {
	return r.dirs[p], nil
}

func (r *remoteHost) IsFile(_ context.Context, p string) (bool, error) {
	_, ok := r.files[p]
	return ok, nil
}

func (r *remoteHost) ContentHash(_ context.Context, p string) (string, error) {
	content, ok := r.files[p]
	if !ok {
		return "", fmt.Errorf("%s: no such file", p)
	}
	return sha512Hex(content), nil
}

// FetchFile does not create parent folders, so an out-of-order apply fails.
func (r *remoteHost) FetchFile(_ context.Context, remotePath, localPath string) error {
	content, ok := r.files[remotePath]
	if !ok {
		return fmt.Errorf("%s: no such file", remotePath)
	}
	r.log.add("fetch " + localPath)
	return os.WriteFile(localPath, []byte(content), 0o644)
}

func (r *remoteHost) PushFile(context.Context, string, string) error {
	return errors.New("push not supported by this fake")
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// recordingFS logs every write on top of the real controller filesystem.
// A non-nil statErr is returned by IsDirectory.
type recordingFS struct {
	intConnection.OSFilesystem
	log     *opLog
	statErr error
}

func (f *recordingFS) IsDirectory(p string) (bool, error) {
	if f.statErr != nil {
		return false, f.statErr
	}
	return f.OSFilesystem.IsDirectory(p)
}

func (f *recordingFS) MkdirAll(p string) error {
	f.log.add("mkdir " + p)
	return f.OSFilesystem.MkdirAll(p)
}

func (f *recordingFS) RemoveFile(p string) error {
	f.log.add("rm " + p)
	return f.OSFilesystem.RemoveFile(p)
}

func (f *recordingFS) RemoveDirectory(p string) error {
	f.log.add("rmdir " + p)
	return f.OSFilesystem.RemoveDirectory(p)
}

type varsView map[string]interface{}

func (v varsView) Get(key string) (interface{}, bool) { return util.Lookup(v, key) }
func (v varsView) GetAll() map[string]interface{}     { return util.MergeVars(v) }
