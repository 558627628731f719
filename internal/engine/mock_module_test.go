package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/paramutil"
	converge "github.com/gxo-labs/converge/pkg/converge/v1"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

// recorder collects every phase the probe module was asked to perform.
type recorder struct {
	mu       sync.Mutex
	calls    map[string][]string
	modifies [][]protocol.Change
	attempts map[string]int
}

func newRecorder() *recorder {
	return &recorder{calls: map[string][]string{}, attempts: map[string]int{}}
}

func (r *recorder) add(host, id string, phase protocol.RequestType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[host] = append(r.calls[host], id+":"+phase.String())
}

func (r *recorder) phases(host string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls[host]...)
}

func (r *recorder) attempt(host, id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[host+"/"+id]++
	return r.attempts[host+"/"+id]
}

// probeModule is a scriptable module. 'query' picks the Query outcome,
// 'final' overrides the follow-up status, 'panic' names a phase to panic
// in and 'fail_attempts' fails the first N Queries.
type probeModule struct {
	rec *recorder
}

type probeAction struct {
	rec          *recorder
	id           string
	query        string
	final        string
	panicIn      string
	failAttempts int
	outputs      map[string]interface{}
}

func registerProbe(reg plugin.Registry, rec *recorder) error {
	return reg.Register("probe", func() plugin.Module { return &probeModule{rec: rec} })
}

func (m *probeModule) Evaluate(params map[string]interface{}) (plugin.Action, error) {
	if err := paramutil.CheckAllowed(params, []string{"id", "query", "final", "panic", "fail_attempts", "out"}); err != nil {
		return nil, err
	}
	id, err := paramutil.GetRequiredString(params, "id")
	if err != nil {
		return nil, err
	}
	query, _, err := paramutil.GetOptionalString(params, "query")
	if err != nil {
		return nil, err
	}
	final, _, _ := paramutil.GetOptionalString(params, "final")
	panicIn, _, _ := paramutil.GetOptionalString(params, "panic")
	failAttempts, _, err := paramutil.GetOptionalInt(params, "fail_attempts")
	if err != nil {
		return nil, err
	}
	outputs, _, err := paramutil.GetOptionalMap(params, "out")
	if err != nil {
		return nil, err
	}
	return &probeAction{rec: m.rec, id: id, query: query, final: final, panicIn: panicIn, failAttempts: failAttempts, outputs: outputs}, nil
}

func (a *probeAction) Dispatch(ctx context.Context, h plugin.Handle, req *protocol.TaskRequest) *protocol.TaskResponse {
	a.rec.add(h.Host(), a.id, req.Type)
	if strings.EqualFold(a.panicIn, req.Type.String()) {
		panic("probe exploded")
	}

	var resp *protocol.TaskResponse
	switch req.Type {
	case protocol.Validate:
		return h.IsValidated(req)
	case protocol.Query:
		if a.failAttempts > 0 && a.rec.attempt(h.Host(), a.id) <= a.failAttempts {
			return h.IsFailed(req, "transient failure")
		}
		switch a.query {
		case "", "matched":
			resp = h.IsMatched(req)
		case "create":
			resp = h.NeedsCreation(req)
		case "modify":
			resp = h.NeedsModification(req, []protocol.Change{
				protocol.NewCreateFolder("/backup/etc"),
				protocol.NewCreateFile("/etc/hosts", "/backup/etc/hosts"),
			})
		case "remove":
			resp = h.NeedsRemoval(req)
		case "fail":
			return h.IsFailed(req, "query failed on "+h.Host())
		case "unsupported":
			return h.NotSupported(req)
		case "created":
			return h.IsCreated(req)
		}
	case protocol.Create:
		resp = h.IsCreated(req)
	case protocol.Modify:
		a.rec.mu.Lock()
		a.rec.modifies = append(a.rec.modifies, req.Changes)
		a.rec.mu.Unlock()
		resp = h.IsModified(req, nil)
	case protocol.Remove:
		resp = h.IsRemoved(req)
	}

	if req.Type != protocol.Query {
		switch a.final {
		case "fail":
			return h.IsFailed(req, "apply failed")
		case "wrong":
			return h.IsMatched(req)
		}
	}
	if resp == nil {
		return h.NotSupported(req)
	}
	if a.outputs != nil {
		resp = resp.WithOutputs(a.outputs)
	}
	return resp
}

// fakeConn counts lifecycle calls on top of the no-op transport.
type fakeConn struct {
	*intConnection.NoOp
	mu         sync.Mutex
	connects   int
	closes     int
	connectErr error
}

func (c *fakeConn) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type fakeFactory struct {
	mu          sync.Mutex
	conns       map[string][]*fakeConn
	vars        map[string]map[string]interface{}
	unreachable map[string]bool
}

func newFakeFactory(unreachable ...string) *fakeFactory {
	f := &fakeFactory{
		conns:       map[string][]*fakeConn{},
		vars:        map[string]map[string]interface{}{},
		unreachable: map[string]bool{},
	}
	for _, h := range unreachable {
		f.unreachable[h] = true
	}
	return f
}

func (f *fakeFactory) NewConnection(host string, vars map[string]interface{}) (connection.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{NoOp: intConnection.NewNoOp(host)}
	if f.unreachable[host] {
		c.connectErr = errors.New("connection refused")
	}
	f.conns[host] = append(f.conns[host], c)
	f.vars[host] = vars
	return c, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cs := range f.conns {
		n += len(cs)
	}
	return n
}

// recordingVisitor keeps every result for later assertions.
type recordingVisitor struct {
	mu      sync.Mutex
	plays   []string
	results []converge.TaskResult
	failed  []string
	report  *converge.RunReport
}

func (v *recordingVisitor) OnPlayStart(play string, hosts []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plays = append(v.plays, fmt.Sprintf("%s%v", play, hosts))
}

func (v *recordingVisitor) OnTaskStart(string, string, string) {}

func (v *recordingVisitor) OnTaskResult(r converge.TaskResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = append(v.results, r)
}

func (v *recordingVisitor) OnHostFailed(host string, _ error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failed = append(v.failed, host)
}

func (v *recordingVisitor) OnRunEnd(report *converge.RunReport) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.report = report
}

// outcomes returns "task=outcome" for host, in execution order.
func (v *recordingVisitor) outcomes(host string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, r := range v.results {
		if r.Host == host {
			out = append(out, r.Task+"="+r.Outcome)
		}
	}
	return out
}

func (v *recordingVisitor) result(host, task string) (converge.TaskResult, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range v.results {
		if r.Host == host && r.Task == task {
			return r, true
		}
	}
	return converge.TaskResult{}, false
}

func newRegistry(rec *recorder) (*module.StaticRegistry, error) {
	reg := module.NewStaticRegistry()
	if err := registerProbe(reg, rec); err != nil {
		return nil, err
	}
	return reg, nil
}
