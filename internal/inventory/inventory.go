// Package inventory loads hosts, groups and their variable layers.
//
// An inventory directory holds:
//
//	groups/<group>      YAML: hosts: [...], subgroups: [...]
//	group_vars/<group>  YAML mapping of variables
//	host_vars/<host>    YAML mapping of variables
//
// Files may carry a .yml or .yaml extension. Group "all" always exists and
// contains every host.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gxo-labs/converge/internal/util"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"gopkg.in/yaml.v3"
)

// AllGroup is the implicit group containing every host.
const AllGroup = "all"

// Group is a named set of hosts and subgroups.
type Group struct {
	Name      string
	Hosts     []string
	Subgroups []string
	Vars      map[string]interface{}
}

// Host is a managed target and its own variable layer.
type Host struct {
	Name string
	Vars map[string]interface{}
}

// Inventory is read-only once loaded and safe for concurrent reads.
type Inventory struct {
	groups map[string]*Group
	hosts  map[string]*Host
	// parents maps a group to the groups listing it as a subgroup.
	parents map[string][]string
}

type groupFile struct {
	Hosts     []string `yaml:"hosts"`
	Subgroups []string `yaml:"subgroups"`
}

func newInventory() *Inventory {
	return &Inventory{
		groups:  map[string]*Group{AllGroup: {Name: AllGroup, Vars: map[string]interface{}{}}},
		hosts:   map[string]*Host{},
		parents: map[string][]string{},
	}
}

// FromHosts builds an ad-hoc inventory where every host belongs only to
// "all".
func FromHosts(names []string) (*Inventory, error) {
	inv := newInventory()
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		inv.addHost(n)
	}
	if len(inv.hosts) == 0 {
		return nil, convergeerrors.NewInventoryError("no hosts given", nil)
	}
	inv.groups[AllGroup].Hosts = inv.HostNames()
	return inv, nil
}

// LoadDirectory reads an inventory directory.
func LoadDirectory(dir string) (*Inventory, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, convergeerrors.NewInventoryError(fmt.Sprintf("cannot read inventory '%s'", dir), err)
	}
	if !info.IsDir() {
		return nil, convergeerrors.NewInventoryError(fmt.Sprintf("inventory '%s' is not a directory", dir), nil)
	}

	inv := newInventory()
	groupFiles, err := readEntries(filepath.Join(dir, "groups"))
	if err != nil {
		return nil, err
	}
	for name, path := range groupFiles {
		var gf groupFile
		if err := decodeStrict(path, &gf); err != nil {
			return nil, convergeerrors.NewInventoryError(fmt.Sprintf("group file '%s'", path), err)
		}
		g := inv.group(name)
		g.Hosts = appendUnique(g.Hosts, gf.Hosts...)
		g.Subgroups = appendUnique(g.Subgroups, gf.Subgroups...)
		for _, h := range gf.Hosts {
			inv.addHost(h)
		}
	}
	for _, g := range inv.groups {
		for _, sub := range g.Subgroups {
			if sub == AllGroup {
				return nil, convergeerrors.NewInventoryError(fmt.Sprintf("group '%s' cannot list '%s' as a subgroup", g.Name, AllGroup), nil)
			}
			if _, ok := inv.groups[sub]; !ok {
				return nil, convergeerrors.NewInventoryError(fmt.Sprintf("group '%s' references unknown subgroup '%s'", g.Name, sub), nil)
			}
			inv.parents[sub] = appendUnique(inv.parents[sub], g.Name)
		}
	}
	if err := inv.checkCycles(); err != nil {
		return nil, err
	}

	groupVars, err := readEntries(filepath.Join(dir, "group_vars"))
	if err != nil {
		return nil, err
	}
	for name, path := range groupVars {
		g, ok := inv.groups[name]
		if !ok {
			return nil, convergeerrors.NewInventoryError(fmt.Sprintf("group_vars for unknown group '%s'", name), nil)
		}
		if g.Vars, err = readVars(path); err != nil {
			return nil, err
		}
	}

	hostVars, err := readEntries(filepath.Join(dir, "host_vars"))
	if err != nil {
		return nil, err
	}
	for name, path := range hostVars {
		h, ok := inv.hosts[name]
		if !ok {
			return nil, convergeerrors.NewInventoryError(fmt.Sprintf("host_vars for unknown host '%s'", name), nil)
		}
		if h.Vars, err = readVars(path); err != nil {
			return nil, err
		}
	}

	inv.groups[AllGroup].Hosts = appendUnique(inv.groups[AllGroup].Hosts, inv.HostNames()...)
	return inv, nil
}

func (inv *Inventory) group(name string) *Group {
	g, ok := inv.groups[name]
	if !ok {
		g = &Group{Name: name, Vars: map[string]interface{}{}}
		inv.groups[name] = g
	}
	return g
}

func (inv *Inventory) addHost(name string) {
	if _, ok := inv.hosts[name]; !ok {
		inv.hosts[name] = &Host{Name: name, Vars: map[string]interface{}{}}
	}
}

func (inv *Inventory) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		switch state[name] {
		case visiting:
			return convergeerrors.NewInventoryError("subgroup cycle: "+strings.Join(append(trail, name), " -> "), nil)
		case done:
			return nil
		}
		state[name] = visiting
		for _, sub := range inv.groups[name].Subgroups {
			if err := visit(sub, append(trail, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, name := range inv.GroupNames() {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// HostNames returns every host, sorted.
func (inv *Inventory) HostNames() []string {
	out := make([]string, 0, len(inv.hosts))
	for n := range inv.hosts {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// GroupNames returns every group including "all", sorted.
func (inv *Inventory) GroupNames() []string {
	out := make([]string, 0, len(inv.groups))
	for n := range inv.groups {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Group returns a copy of the named group.
func (inv *Inventory) Group(name string) (Group, bool) {
	g, ok := inv.groups[name]
	if !ok {
		return Group{}, false
	}
	return Group{
		Name:      g.Name,
		Hosts:     append([]string(nil), g.Hosts...),
		Subgroups: append([]string(nil), g.Subgroups...),
		Vars:      util.NormalizeMap(g.Vars),
	}, true
}

// HostsInGroups returns the sorted union of the hosts of groups, including
// hosts of their subgroups.
func (inv *Inventory) HostsInGroups(groups []string) ([]string, error) {
	set := map[string]struct{}{}
	var collect func(name string)
	collect = func(name string) {
		g := inv.groups[name]
		for _, h := range g.Hosts {
			set[h] = struct{}{}
		}
		for _, sub := range g.Subgroups {
			collect(sub)
		}
	}
	for _, name := range groups {
		if _, ok := inv.groups[name]; !ok {
			return nil, convergeerrors.NewInventoryError(fmt.Sprintf("unknown group '%s'", name), nil)
		}
		collect(name)
	}
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

// HostGroups returns every group host belongs to, directly or through a
// subgroup, ordered from least to most specific: "all" first, then by
// ancestry depth, then by name.
func (inv *Inventory) HostGroups(host string) ([]string, error) {
	if _, ok := inv.hosts[host]; !ok {
		return nil, convergeerrors.NewInventoryError(fmt.Sprintf("unknown host '%s'", host), nil)
	}
	member := map[string]struct{}{}
	var climb func(name string)
	climb = func(name string) {
		if _, seen := member[name]; seen {
			return
		}
		member[name] = struct{}{}
		for _, p := range inv.parents[name] {
			climb(p)
		}
	}
	for name, g := range inv.groups {
		for _, h := range g.Hosts {
			if h == host {
				climb(name)
			}
		}
	}
	delete(member, AllGroup)

	out := make([]string, 0, len(member)+1)
	for name := range member {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := inv.depth(out[i]), inv.depth(out[j])
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return append([]string{AllGroup}, out...), nil
}

func (inv *Inventory) depth(name string) int {
	max := 0
	for _, p := range inv.parents[name] {
		if d := inv.depth(p) + 1; d > max {
			max = d
		}
	}
	return max
}

// HostVariables layers group variables, least specific first, under the
// host's own variables.
func (inv *Inventory) HostVariables(host string) (map[string]interface{}, error) {
	groups, err := inv.HostGroups(host)
	if err != nil {
		return nil, err
	}
	layers := make([]map[string]interface{}, 0, len(groups)+1)
	for _, g := range groups {
		layers = append(layers, inv.groups[g].Vars)
	}
	layers = append(layers, inv.hosts[host].Vars)
	return util.MergeVars(layers...), nil
}

// readEntries maps entry names (extension stripped) to file paths. A
// missing directory yields no entries.
func readEntries(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, convergeerrors.NewInventoryError(fmt.Sprintf("cannot read '%s'", dir), err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".yml"), ".yaml")
		if prev, dup := out[name]; dup {
			return nil, convergeerrors.NewInventoryError(fmt.Sprintf("'%s' and '%s' define the same entry", prev, e.Name()), nil)
		}
		out[name] = filepath.Join(dir, e.Name())
	}
	return out, nil
}

func decodeStrict(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func readVars(path string) (map[string]interface{}, error) {
	vars := map[string]interface{}{}
	if err := decodeStrict(path, &vars); err != nil {
		return nil, convergeerrors.NewInventoryError(fmt.Sprintf("variables file '%s'", path), err)
	}
	return util.NormalizeMap(vars), nil
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, d := range dst {
			if d == it {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, it)
		}
	}
	return dst
}
