// Package connection defines the per-host transport contract.
package connection

import (
	"context"
	"strings"
)

// CommandResult holds the outcome of a command run on a host.
type CommandResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns stdout and stderr joined, trimmed of trailing whitespace.
func (r *CommandResult) Output() string {
	if r == nil {
		return ""
	}
	out := strings.TrimRight(r.Stdout, "\n")
	if errOut := strings.TrimRight(r.Stderr, "\n"); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += errOut
	}
	return out
}

// Connection is an opaque transport to one host. A Connection is owned by a
// single host pipeline and is never shared across hosts. All calls block.
type Connection interface {
	// Host returns the inventory name of the host.
	Host() string
	// Connect establishes the transport. It is idempotent.
	Connect(ctx context.Context) error
	// Close tears the transport down.
	Close() error

	// RunCommand runs cmd through the host's shell. A non-zero exit status
	// is reported in the result, not as an error; the error is reserved for
	// failures to run the command at all.
	RunCommand(ctx context.Context, cmd string) (*CommandResult, error)
	// IsDirectory reports whether path exists and is a directory.
	IsDirectory(ctx context.Context, path string) (bool, error)
	// IsFile reports whether path exists and is a regular file.
	IsFile(ctx context.Context, path string) (bool, error)
	// ContentHash returns the hex SHA-512 digest of the file at path.
	ContentHash(ctx context.Context, path string) (string, error)
	// FetchFile copies a file from the host to the controller.
	FetchFile(ctx context.Context, remotePath, localPath string) error
	// PushFile copies a file from the controller to the host.
	PushFile(ctx context.Context, localPath, remotePath string) error
}

// Factory produces a Connection for a host from its resolved variables.
type Factory interface {
	NewConnection(host string, vars map[string]interface{}) (Connection, error)
}

// Filesystem is the controller-side view used by modules that reconcile a
// local tree against a host (fetch). Listing calls include root itself for
// directories and return absolute, slash-separated paths.
type Filesystem interface {
	Exists(path string) (bool, error)
	IsDirectory(path string) (bool, error)
	ListDirectories(root string) ([]string, error)
	ListFiles(root string) ([]string, error)
	ContentHash(path string) (string, error)
	MkdirAll(path string) error
	RemoveFile(path string) error
	RemoveDirectory(path string) error
}
