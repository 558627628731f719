package filecopy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/handle"
	"github.com/gxo-labs/converge/internal/testutil/fakehost"
	"github.com/gxo-labs/converge/modules/filecopy"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, content string) (*fakehost.Host, string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "hostname")
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))
	return fakehost.New("web1"), filepath.ToSlash(src)
}

func dispatch(t *testing.T, host *fakehost.Host, params map[string]interface{}, req *protocol.TaskRequest) *protocol.TaskResponse {
	t.Helper()
	a, err := filecopy.NewCopyModule().Evaluate(params)
	require.NoError(t, err)
	h := handle.New(host.Name, host, intConnection.NewOSFilesystem(), fakehost.Vars{})
	return a.Dispatch(context.Background(), h, req)
}

func TestCopy_Lifecycle(t *testing.T) {
	host, src := setup(t, "web1\n")
	params := map[string]interface{}{"src": src, "dest": "/tmp/workdir/hostname"}

	assert.Equal(t, protocol.NeedsCreation, dispatch(t, host, params, protocol.NewQueryRequest()).Status)
	resp := dispatch(t, host, params, protocol.NewCreateRequest())
	require.Equal(t, protocol.IsCreated, resp.Status, resp.Message)
	assert.Equal(t, "web1\n", host.Files["/tmp/workdir/hostname"])

	assert.Equal(t, protocol.IsMatched, dispatch(t, host, params, protocol.NewQueryRequest()).Status)

	host.Files["/tmp/workdir/hostname"] = "drifted"
	query := dispatch(t, host, params, protocol.NewQueryRequest())
	require.Equal(t, protocol.NeedsModification, query.Status)
	assert.Equal(t, []protocol.Change{protocol.NewCreateFile(src, "/tmp/workdir/hostname")}, query.Changes)

	resp = dispatch(t, host, params, protocol.NewModifyRequest(query.Changes))
	require.Equal(t, protocol.IsModified, resp.Status, resp.Message)
	assert.Equal(t, "web1\n", host.Files["/tmp/workdir/hostname"])
}

func TestCopy_QueryIsReadOnly(t *testing.T) {
	host, src := setup(t, "x")
	dispatch(t, host, map[string]interface{}{"src": src, "dest": "/etc/x"}, protocol.NewQueryRequest())
	for _, call := range host.Calls() {
		assert.NotContains(t, call, "push")
	}
}

func TestCopy_MissingLocalSource(t *testing.T) {
	host := fakehost.New("web1")
	resp := dispatch(t, host, map[string]interface{}{"src": "/nonexistent/file", "dest": "/etc/x"}, protocol.NewQueryRequest())
	assert.Equal(t, protocol.Failed, resp.Status)
	assert.Contains(t, resp.Message, "Local source file not found")
	assert.Empty(t, host.Calls())
}

func TestCopy_DestIsDirectory(t *testing.T) {
	host, src := setup(t, "x")
	host.Dirs["/etc"] = true
	resp := dispatch(t, host, map[string]interface{}{"src": src, "dest": "/etc"}, protocol.NewQueryRequest())
	assert.Equal(t, protocol.Failed, resp.Status)
	assert.Contains(t, resp.Message, "is a directory")
}

func TestCopy_ModifyRejectsForeignChanges(t *testing.T) {
	host, src := setup(t, "x")
	changes := []protocol.Change{protocol.NewCreateFile(src, "/etc/shadow")}
	resp := dispatch(t, host, map[string]interface{}{"src": src, "dest": "/etc/x"}, protocol.NewModifyRequest(changes))
	assert.Equal(t, protocol.Failed, resp.Status)
	assert.NotContains(t, host.Files, "/etc/shadow")
}

func TestCopy_DestMustNameAFile(t *testing.T) {
	_, err := filecopy.NewCopyModule().Evaluate(map[string]interface{}{"src": "/etc/hostname", "dest": "/tmp/workdir/"})
	assert.ErrorContains(t, err, "must name a file")
}
