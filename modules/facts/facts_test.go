package facts_test

import (
	"context"
	"testing"

	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/handle"
	"github.com/gxo-labs/converge/internal/testutil/fakehost"
	"github.com/gxo-labs/converge/modules/facts"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ubuntuRelease = `NAME="Ubuntu"
VERSION_ID="22.04"
ID=ubuntu
ID_LIKE=debian
`

func linuxHost(release string) *fakehost.Host {
	host := fakehost.New("web1").
		On("uname -s", connection.CommandResult{Stdout: "Linux\n"}).
		On("uname -m", connection.CommandResult{Stdout: "x86_64\n"}).
		On("uname -n", connection.CommandResult{Stdout: "web1.example.com\n"})
	if release != "" {
		host.On("cat /etc/os-release", connection.CommandResult{Stdout: release})
	}
	return host
}

func query(t *testing.T, host *fakehost.Host) *protocol.TaskResponse {
	t.Helper()
	a, err := facts.NewFactsModule().Evaluate(map[string]interface{}{})
	require.NoError(t, err)
	h := handle.New(host.Name, host, intConnection.NewOSFilesystem(), fakehost.Vars{})
	return a.Dispatch(context.Background(), h, protocol.NewQueryRequest())
}

func TestFacts_Linux(t *testing.T) {
	resp := query(t, linuxHost(ubuntuRelease))
	require.Equal(t, protocol.IsMatched, resp.Status, resp.Message)

	got, ok := resp.Outputs[protocol.FactsOutput].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Linux", got["os_type"])
	assert.Equal(t, "x86_64", got["os_arch"])
	assert.Equal(t, "web1.example.com", got["hostname"])
	assert.Equal(t, facts.FlavorDebian, got["os_flavor"])
	assert.Equal(t, "22.04", got["os_release"].(map[string]interface{})["version_id"])
}

func TestFacts_MissingOSRelease(t *testing.T) {
	resp := query(t, linuxHost(""))
	require.Equal(t, protocol.IsMatched, resp.Status, resp.Message)
	got := resp.Outputs[protocol.FactsOutput].(map[string]interface{})
	assert.Equal(t, facts.FlavorUnknown, got["os_flavor"])
	assert.NotContains(t, got, "os_release")
}

func TestFacts_MacOS(t *testing.T) {
	host := fakehost.New("mac1").
		On("uname -s", connection.CommandResult{Stdout: "Darwin\n"}).
		On("uname -m", connection.CommandResult{Stdout: "arm64\n"}).
		On("uname -n", connection.CommandResult{Stdout: "mac1\n"})

	resp := query(t, host)
	require.Equal(t, protocol.IsMatched, resp.Status, resp.Message)
	got := resp.Outputs[protocol.FactsOutput].(map[string]interface{})
	assert.Equal(t, "MacOS", got["os_type"])
	assert.NotContains(t, host.Commands(), "cat /etc/os-release")
}

func TestFacts_UnameMissingFails(t *testing.T) {
	resp := query(t, fakehost.New("web1"))
	assert.Equal(t, protocol.Failed, resp.Status)
	assert.Contains(t, resp.Message, "uname -s")
}

func TestFlavor(t *testing.T) {
	tests := []struct {
		release string
		want    string
	}{
		{"ID=debian", facts.FlavorDebian},
		{"ID=linuxmint\nID_LIKE=\"ubuntu debian\"", facts.FlavorDebian},
		{"ID=rocky\nID_LIKE=\"rhel centos fedora\"", facts.FlavorFedora},
		{"ID=fedora", facts.FlavorFedora},
		{"ID=arch", facts.FlavorArch},
		{"ID=\"opensuse-leap\"\nID_LIKE=\"suse opensuse\"", facts.FlavorSuse},
		{"ID=alpine", facts.FlavorUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.release, func(t *testing.T) {
			assert.Equal(t, tc.want, facts.Flavor(facts.ParseOSRelease(tc.release)))
		})
	}
}
