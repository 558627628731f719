package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gxo-labs/converge/internal/util"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/hashicorp/go-multierror"
)

type entryKind int

const (
	dirs entryKind = iota
	files
)

func (k entryKind) String() string {
	if k == dirs {
		return "directories"
	}
	return "files"
}

// strategy enumerates remote entries under a root with one shell command.
// A mixed strategy lists directories and files together; its output is
// filtered with IsDirectory or IsFile. Both follow a root that is a
// symlink, the same way IsDirectory does, but no link below it.
type strategy struct {
	command func(root string, kind entryKind) string
	mixed   bool
}

var strategies = map[string]strategy{
	"find": {
		command: func(root string, kind entryKind) string {
			t := "d"
			if kind == files {
				t = "f"
			}
			return fmt.Sprintf("find -H %s -type %s", util.ShellQuote(root), t)
		},
	},
	"du": {
		command: func(root string, _ entryKind) string {
			return fmt.Sprintf("du -a %s | cut -f 2", util.ShellQuote(withSlash(root)))
		},
		mixed: true,
	},
}

// DefaultStrategies is the order used when neither the task nor the run
// configures one.
var DefaultStrategies = []string{"find", "du"}

// StrategyNames returns the known strategy names, sorted.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// strategyOrder picks the task's own order, then the run-wide variable,
// then the default.
func (a *Action) strategyOrder(h plugin.Handle) []string {
	if len(a.Listing) > 0 {
		return a.Listing
	}
	if v, ok := h.Vars().Get(VarListingStrategies); ok {
		var names []string
		switch list := v.(type) {
		case []string:
			names = list
		case []interface{}:
			for _, item := range list {
				if s, ok := item.(string); ok {
					names = append(names, s)
				}
			}
		case string:
			names = strings.Fields(strings.ReplaceAll(list, ",", " "))
		}
		if len(names) > 0 {
			return names
		}
	}
	return DefaultStrategies
}

// listRemote returns the sorted remote entries of kind under root. Each
// strategy is tried in order until one succeeds; the output shape does
// not depend on which one did.
func listRemote(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest, root string, kind entryKind, order []string) ([]string, error) {
	var attempts *multierror.Error
	var lastOutput string
	for _, name := range order {
		s, ok := strategies[name]
		if !ok {
			attempts = multierror.Append(attempts, fmt.Errorf("unknown listing strategy '%s'", name))
			continue
		}
		res, err := h.RunCommand(ctx, req, s.command(root, kind))
		if err != nil {
			attempts = multierror.Append(attempts, fmt.Errorf("%s: %w", name, err))
			continue
		}
		// A pipeline exits with the status of its last command, so a du
		// that skipped an unreadable subtree still exits 0. Anything on
		// stderr means the listing may be partial, and a partial listing
		// would turn into mirror deletions.
		if res.ExitCode != 0 || strings.TrimSpace(res.Stderr) != "" {
			lastOutput = res.Output()
			attempts = multierror.Append(attempts, fmt.Errorf("%s exited with status %d", name, res.ExitCode))
			continue
		}

		seen := make(map[string]struct{})
		for _, line := range strings.Split(res.Stdout, "\n") {
			// Spaces can be part of a name.
			entry := strings.TrimRight(line, "\r")
			if entry == "" {
				continue
			}
			entry = cleanRemote(entry)
			if s.mixed {
				var keep bool
				if kind == dirs {
					keep, err = h.IsDirectory(ctx, req, entry)
				} else {
					keep, err = h.IsFile(ctx, req, entry)
				}
				if err != nil {
					return nil, err
				}
				if !keep {
					continue
				}
			}
			seen[entry] = struct{}{}
		}
		if _, ok := seen[root]; kind == dirs && !ok {
			lastOutput = res.Output()
			attempts = multierror.Append(attempts, fmt.Errorf("%s did not list %s itself", name, root))
			continue
		}
		return sortedKeys(seen), nil
	}
	if attempts == nil {
		attempts = multierror.Append(attempts, fmt.Errorf("no listing strategy configured"))
	}
	attempts.ErrorFormat = joinErrors
	return nil, convergeerrors.NewTransportError("list "+kind.String()+" under "+root, h.Host(), lastOutput, attempts)
}

func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
