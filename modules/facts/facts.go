// Package facts gathers basic information about a host and records it in
// the host's variables: os_type, os_arch, os_flavor, os_release and
// hostname.
package facts

import (
	"context"
	"fmt"
	"strings"

	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

func init() {
	module.Register("facts", NewFactsModule)
}

// Flavors reported in os_flavor.
const (
	FlavorDebian  = "Debian"
	FlavorFedora  = "Fedora"
	FlavorArch    = "Arch"
	FlavorSuse    = "Suse"
	FlavorUnknown = "Unknown"
)

type FactsModule struct{}

func NewFactsModule() plugin.Module {
	return &FactsModule{}
}

type Action struct{}

func (m *FactsModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, nil); err != nil {
		return nil, err
	}
	return &Action{}, nil
}

func (a *Action) Dispatch(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	switch req.Type {
	case protocol.Validate:
		return h.IsValidated(req)
	case protocol.Query:
		facts, err := gather(ctx, h, req)
		if err != nil {
			return h.IsFailed(req, err.Error())
		}
		return h.IsMatched(req).WithOutputs(map[string]interface{}{protocol.FactsOutput: facts})
	default:
		return h.NotSupported(req)
	}
}

func gather(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) (map[string]interface{}, error) {
	run := func(cmd string) (string, error) {
		res, err := h.RunCommand(ctx, req, cmd)
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("'%s' exited with status %d: %s", cmd, res.ExitCode, res.Output())
		}
		return strings.TrimSpace(res.Stdout), nil
	}

	kernel, err := run("uname -s")
	if err != nil {
		return nil, err
	}
	arch, err := run("uname -m")
	if err != nil {
		return nil, err
	}
	hostname, err := run("uname -n")
	if err != nil {
		return nil, err
	}

	facts := map[string]interface{}{
		"os_type":   osType(kernel),
		"os_arch":   arch,
		"hostname":  hostname,
		"os_flavor": FlavorUnknown,
	}
	if kernel != "Linux" {
		return facts, nil
	}
	// os-release is optional; minimal images may lack it.
	res, err := h.RunCommand(ctx, req, "cat /etc/os-release")
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 {
		release := ParseOSRelease(res.Stdout)
		facts["os_flavor"] = Flavor(release)
		facts["os_release"] = release
	}
	return facts, nil
}

func osType(kernel string) string {
	switch kernel {
	case "Darwin":
		return "MacOS"
	case "":
		return "Unknown"
	}
	return kernel
}

// ParseOSRelease parses the KEY=value lines of /etc/os-release.
func ParseOSRelease(content string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(key)] = strings.Trim(value, `"'`)
	}
	return out
}

// Flavor maps os-release ID and ID_LIKE onto a distribution family.
func Flavor(release map[string]interface{}) string {
	var ids []string
	for _, key := range []string{"id", "id_like"} {
		if v, ok := release[key].(string); ok {
			ids = append(ids, strings.Fields(strings.ToLower(v))...)
		}
	}
	for _, id := range ids {
		switch {
		case id == "debian" || id == "ubuntu":
			return FlavorDebian
		case id == "fedora" || id == "rhel" || id == "centos":
			return FlavorFedora
		case id == "arch" || id == "archlinux":
			return FlavorArch
		case strings.Contains(id, "suse"):
			return FlavorSuse
		}
	}
	return FlavorUnknown
}
