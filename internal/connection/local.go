package connection

import (
	"context"
	"os"
	"time"

	"github.com/gxo-labs/converge/internal/command"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
)

// Local runs every operation on the controller itself. Fetch and push both
// degrade to local copies.
type Local struct {
	host   string
	runner command.Runner
	fs     OSFilesystem
}

var _ connection.Connection = (*Local)(nil)

// NewLocal creates a Local connection reporting itself as host. A positive
// commandTimeout bounds each RunCommand.
func NewLocal(host string, commandTimeout time.Duration) *Local {
	return &Local{
		host:   host,
		runner: command.NewRunner(command.WithTimeout(commandTimeout)),
	}
}

func (l *Local) Host() string                    { return l.host }
func (l *Local) Connect(_ context.Context) error { return nil }
func (l *Local) Close() error                    { return nil }

func (l *Local) RunCommand(ctx context.Context, cmd string) (*connection.CommandResult, error) {
	res, err := l.runner.Run(ctx, cmd)
	if err != nil {
		output := ""
		if res != nil {
			output = res.Stderr
		}
		return nil, convergeerrors.NewTransportError("run command", l.host, output, err)
	}
	return &connection.CommandResult{
		Command:  cmd,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	}, nil
}

func (l *Local) IsDirectory(_ context.Context, path string) (bool, error) {
	ok, err := l.fs.IsDirectory(path)
	if err != nil {
		return false, convergeerrors.NewTransportError("stat", l.host, "", err)
	}
	return ok, nil
}

func (l *Local) IsFile(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, convergeerrors.NewTransportError("stat", l.host, "", err)
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) ContentHash(_ context.Context, path string) (string, error) {
	sum, err := hashFile(path)
	if err != nil {
		return "", convergeerrors.NewTransportError("hash "+path, l.host, "", err)
	}
	return sum, nil
}

func (l *Local) FetchFile(_ context.Context, remotePath, localPath string) error {
	if err := copyLocal(remotePath, localPath); err != nil {
		return convergeerrors.NewTransportError("fetch "+remotePath, l.host, "", err)
	}
	return nil
}

func (l *Local) PushFile(_ context.Context, localPath, remotePath string) error {
	if err := copyLocal(localPath, remotePath); err != nil {
		return convergeerrors.NewTransportError("push "+remotePath, l.host, "", err)
	}
	return nil
}

func copyLocal(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return writeFileAtomic(dst, f, info.Mode())
}
