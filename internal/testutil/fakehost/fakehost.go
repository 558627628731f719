// Package fakehost provides an in-memory Connection for module tests.
package fakehost

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/gxo-labs/converge/internal/util"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
)

// Handler answers a command. Returning nil falls through to the next
// handler, and finally to a "command not found" result.
type Handler func(cmd string) *connection.CommandResult

// Host is a scriptable in-memory host. Files maps remote paths to
// content; Dirs holds remote directories. Every call is recorded.
type Host struct {
	Name  string
	Dirs  map[string]bool
	Files map[string]string

	mu       sync.Mutex
	handlers []Handler
	calls    []string
}

var _ connection.Connection = (*Host)(nil)

func New(name string) *Host {
	return &Host{Name: name, Dirs: map[string]bool{"/": true}, Files: map[string]string{}}
}

// On registers a handler for commands starting with prefix.
func (h *Host) On(prefix string, res connection.CommandResult) *Host {
	return h.Handle(func(cmd string) *connection.CommandResult {
		if !strings.HasPrefix(cmd, prefix) {
			return nil
		}
		r := res
		r.Command = cmd
		return &r
	})
}

// Handle registers a handler consulted before earlier ones.
func (h *Host) Handle(fn Handler) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append([]Handler{fn}, h.handlers...)
	return h
}

func (h *Host) record(format string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls, e.g. "run mkdir -p /tmp/x".
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Commands returns only the commands that were run.
func (h *Host) Commands() []string {
	var out []string
	for _, c := range h.Calls() {
		if strings.HasPrefix(c, "run ") {
			out = append(out, strings.TrimPrefix(c, "run "))
		}
	}
	return out
}

func (h *Host) Host() string                  { return h.Name }
func (h *Host) Connect(context.Context) error { return nil }
func (h *Host) Close() error                  { return nil }

func (h *Host) RunCommand(_ context.Context, cmd string) (*connection.CommandResult, error) {
	h.record("run %s", cmd)
	h.mu.Lock()
	handlers := append([]Handler(nil), h.handlers...)
	h.mu.Unlock()
	for _, fn := range handlers {
		if res := fn(cmd); res != nil {
			return res, nil
		}
	}
	return &connection.CommandResult{Command: cmd, Stderr: "sh: command not found", ExitCode: 127}, nil
}

func (h *Host) IsDirectory(_ context.Context, p string) (bool, error) {
	h.record("isdir %s", p)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Dirs[p], nil
}

func (h *Host) IsFile(_ context.Context, p string) (bool, error) {
	h.record("isfile %s", p)
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.Files[p]
	return ok, nil
}

func (h *Host) ContentHash(_ context.Context, p string) (string, error) {
	h.record("hash %s", p)
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.Files[p]
	if !ok {
		return "", fmt.Errorf("%s: no such file", p)
	}
	return Hash(content), nil
}

func (h *Host) FetchFile(_ context.Context, remotePath, localPath string) error {
	h.record("fetch %s %s", remotePath, localPath)
	h.mu.Lock()
	content, ok := h.Files[remotePath]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: no such file", remotePath)
	}
	return os.WriteFile(localPath, []byte(content), 0o644)
}

// PushFile stores the local file's content and creates its parents.
func (h *Host) PushFile(_ context.Context, localPath, remotePath string) error {
	h.record("push %s %s", localPath, remotePath)
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for d := path.Dir(remotePath); ; d = path.Dir(d) {
		h.Dirs[d] = true
		if d == "/" || d == "." {
			break
		}
	}
	h.Files[remotePath] = string(b)
	return nil
}

// Hash is the digest ContentHash reports.
func Hash(content string) string {
	sum := sha512.Sum512([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Vars is a fixed variable view for handles built in tests.
type Vars map[string]interface{}

func (v Vars) Get(key string) (interface{}, bool) { return util.Lookup(v, key) }
func (v Vars) GetAll() map[string]interface{}     { return util.MergeVars(v) }
