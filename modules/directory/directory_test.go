package directory_test

import (
	"context"
	"strings"
	"testing"

	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/handle"
	"github.com/gxo-labs/converge/internal/testutil/fakehost"
	"github.com/gxo-labs/converge/modules/directory"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newHost answers mkdir and rm by updating its directory set.
func newHost() *fakehost.Host {
	host := fakehost.New("web1")
	host.Handle(func(cmd string) *connection.CommandResult {
		switch {
		case strings.HasPrefix(cmd, "mkdir -p "):
			host.Dirs[strings.Trim(strings.TrimPrefix(cmd, "mkdir -p "), "'")] = true
		case strings.HasPrefix(cmd, "rm -rf "):
			delete(host.Dirs, strings.Trim(strings.TrimPrefix(cmd, "rm -rf "), "'"))
		default:
			return nil
		}
		return &connection.CommandResult{Command: cmd}
	})
	return host
}

func dispatch(t *testing.T, host *fakehost.Host, params map[string]interface{}, req *protocol.TaskRequest) *protocol.TaskResponse {
	t.Helper()
	a, err := directory.NewDirectoryModule().Evaluate(params)
	require.NoError(t, err)
	h := handle.New(host.Name, host, intConnection.NewOSFilesystem(), fakehost.Vars{})
	return a.Dispatch(context.Background(), h, req)
}

func TestDirectory_CreateLifecycle(t *testing.T) {
	host := newHost()
	params := map[string]interface{}{"path": "/tmp/workdir/"}

	assert.Equal(t, protocol.NeedsCreation, dispatch(t, host, params, protocol.NewQueryRequest()).Status)
	resp := dispatch(t, host, params, protocol.NewCreateRequest())
	require.Equal(t, protocol.IsCreated, resp.Status, resp.Message)
	assert.Equal(t, "/tmp/workdir", resp.Outputs["path"])
	assert.Contains(t, host.Commands(), "mkdir -p /tmp/workdir")
	assert.Equal(t, protocol.IsMatched, dispatch(t, host, params, protocol.NewQueryRequest()).Status)
}

func TestDirectory_RemoveLifecycle(t *testing.T) {
	host := newHost()
	host.Dirs["/tmp/my dir"] = true
	params := map[string]interface{}{"path": "/tmp/my dir", "remove": true}

	assert.Equal(t, protocol.NeedsRemoval, dispatch(t, host, params, protocol.NewQueryRequest()).Status)
	resp := dispatch(t, host, params, protocol.NewRemoveRequest())
	require.Equal(t, protocol.IsRemoved, resp.Status, resp.Message)
	assert.Contains(t, host.Commands(), "rm -rf '/tmp/my dir'")
	assert.Equal(t, protocol.IsMatched, dispatch(t, host, params, protocol.NewQueryRequest()).Status)
}

func TestDirectory_PathIsAFile(t *testing.T) {
	host := newHost()
	host.Files["/tmp/workdir"] = "x"
	resp := dispatch(t, host, map[string]interface{}{"path": "/tmp/workdir"}, protocol.NewQueryRequest())
	assert.Equal(t, protocol.Failed, resp.Status)
	assert.Contains(t, resp.Message, "not a directory")
}

func TestDirectory_CommandFailure(t *testing.T) {
	host := fakehost.New("web1").On("mkdir", connection.CommandResult{Stderr: "Permission denied", ExitCode: 1})
	resp := dispatch(t, host, map[string]interface{}{"path": "/root/x"}, protocol.NewCreateRequest())
	assert.Equal(t, protocol.Failed, resp.Status)
	assert.Contains(t, resp.Message, "Permission denied")
}

func TestDirectory_RefusesRemovingRoot(t *testing.T) {
	resp := dispatch(t, newHost(), map[string]interface{}{"path": "/", "remove": true}, protocol.NewValidateRequest())
	assert.Equal(t, protocol.Failed, resp.Status)
}
