package state

import (
	"fmt"
	"sync"

	"github.com/gxo-labs/converge/internal/util"
	convergestate "github.com/gxo-labs/converge/pkg/converge/v1/state"
)

// hostState holds the variable layers of a single host. Precedence, lowest
// first: inventory variables (already layered global < group < host), then
// runtime facts, then saved task results.
type hostState struct {
	vars  map[string]interface{}
	facts map[string]interface{}
	saved map[string]interface{}
}

type cursor struct {
	play string
	task string
}

// PlaybookContext is the run-scoped state shared by every host pipeline. A
// single RWMutex guards all hosts. Only a host's own pipeline writes its
// entry; the lock serializes those writes with concurrent template reads.
// Every read returns a deep copy.
type PlaybookContext struct {
	mu      sync.RWMutex
	hosts   map[string]*hostState
	cursors map[string]cursor
}

var _ convergestate.Context = (*PlaybookContext)(nil)

// NewPlaybookContext creates an empty context.
func NewPlaybookContext() *PlaybookContext {
	return &PlaybookContext{
		hosts:   make(map[string]*hostState),
		cursors: make(map[string]cursor),
	}
}

// host returns the entry for name, creating it. Callers hold the write lock.
func (c *PlaybookContext) host(name string) *hostState {
	hs, ok := c.hosts[name]
	if !ok {
		hs = &hostState{
			vars:  map[string]interface{}{},
			facts: map[string]interface{}{},
			saved: map[string]interface{}{},
		}
		c.hosts[name] = hs
	}
	return hs
}

// SetHostVars replaces the inventory layer of a host. Facts and saved
// results recorded earlier in the run are kept.
func (c *PlaybookContext) SetHostVars(host string, vars map[string]interface{}) {
	cp := util.NormalizeMap(vars)
	if cp == nil {
		cp = map[string]interface{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host(host).vars = cp
}

// SetFacts merges facts into the host's fact layer.
func (c *PlaybookContext) SetFacts(host string, facts map[string]interface{}) error {
	if host == "" {
		return fmt.Errorf("cannot record facts without a host")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.host(host)
	for k, v := range facts {
		hs.facts[k] = util.DeepCopy(v)
	}
	return nil
}

// Save records value under name, making it available to later tasks of the
// same host as {{ .name }}.
func (c *PlaybookContext) Save(host, name string, value interface{}) error {
	if host == "" || name == "" {
		return fmt.Errorf("save requires a host and a name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host(host).saved[name] = util.DeepCopy(value)
	return nil
}

// Vars returns a copy of the host's merged variables.
func (c *PlaybookContext) Vars(host string) (map[string]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hs, ok := c.hosts[host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", convergestate.ErrHostNotFound, host)
	}
	return util.MergeVars(hs.vars, hs.facts, hs.saved), nil
}

// HostView returns a read-only view bound to host.
func (c *PlaybookContext) HostView(host string) convergestate.StateReader {
	return &hostView{ctx: c, host: host}
}

// SetCursor records where host currently is in the playbook.
func (c *PlaybookContext) SetCursor(play, host, task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[host] = cursor{play: play, task: task}
}

// Cursor returns the last recorded play and task for host.
func (c *PlaybookContext) Cursor(host string) (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur := c.cursors[host]
	return cur.play, cur.task
}

// Hosts returns the names of every host with recorded state.
func (c *PlaybookContext) Hosts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.hosts))
	for name := range c.hosts {
		names = append(names, name)
	}
	return names
}

type hostView struct {
	ctx  *PlaybookContext
	host string
}

func (v *hostView) Get(key string) (interface{}, bool) {
	all, err := v.ctx.Vars(v.host)
	if err != nil {
		return nil, false
	}
	return util.Lookup(all, key)
}

func (v *hostView) GetAll() map[string]interface{} {
	all, err := v.ctx.Vars(v.host)
	if err != nil {
		return map[string]interface{}{}
	}
	return all
}
