package inventory

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
)

// Limit returns a copy of the inventory restricted to hosts matching at
// least one of patterns (shell-style globs such as "web*" or "db[12]").
// Group structure and variables are kept; excluded hosts simply disappear
// from every group.
func (inv *Inventory) Limit(patterns []string) (*Inventory, error) {
	if len(patterns) == 0 {
		return inv, nil
	}
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.TrimSpace(p))
		if err != nil {
			return nil, convergeerrors.NewInventoryError(fmt.Sprintf("invalid host pattern '%s'", p), err)
		}
		matchers = append(matchers, g)
	}
	keep := func(host string) bool {
		for _, m := range matchers {
			if m.Match(host) {
				return true
			}
		}
		return false
	}

	out := newInventory()
	for name, h := range inv.hosts {
		if keep(name) {
			out.hosts[name] = h
		}
	}
	if len(out.hosts) == 0 {
		return nil, convergeerrors.NewInventoryError(fmt.Sprintf("no hosts match %s", strings.Join(patterns, ", ")), nil)
	}
	for name, g := range inv.groups {
		cp := &Group{Name: g.Name, Subgroups: g.Subgroups, Vars: g.Vars}
		for _, h := range g.Hosts {
			if keep(h) {
				cp.Hosts = append(cp.Hosts, h)
			}
		}
		out.groups[name] = cp
	}
	out.parents = inv.parents
	return out, nil
}
