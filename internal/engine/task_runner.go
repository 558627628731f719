package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/gxo-labs/converge/internal/config"
	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/retry"
	"github.com/gxo-labs/converge/internal/template"
	intTracing "github.com/gxo-labs/converge/internal/tracing"
	"github.com/gxo-labs/converge/internal/util"
	converge "github.com/gxo-labs/converge/pkg/converge/v1"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"go.opentelemetry.io/otel/codes"
)

// hostRun is the pipeline of one host through one play. It owns the host's
// connection; nothing in it is shared with other hosts except the run
// state, which synchronizes itself.
type hostRun struct {
	e     *Engine
	rs    *runState
	play  *config.Play
	host  string
	conn  connection.Connection
	log   convergelog.Logger
	tmode template.Mode
}

// runHost drives every task of play on host, stopping at the first task
// that fails without being ignored.
func (e *Engine) runHost(ctx context.Context, rs *runState, play *config.Play, host string) {
	hr := &hostRun{
		e:     e,
		rs:    rs,
		play:  play,
		host:  host,
		log:   e.log.With("run_id", rs.id, "host", host),
		tmode: template.Strict,
	}
	if rs.mode == converge.ModeSyntaxCheck {
		hr.tmode = template.Off
	}

	ctx, span := intTracing.StartSpan(ctx, e.tracerProvider, "converge.host",
		intTracing.AttrRunID.String(rs.id), intTracing.AttrPlay.String(play.Name), intTracing.AttrHost.String(host))
	defer span.End()

	e.emit(events.Event{Type: events.HostStarted, RunID: rs.id, Play: play.Name, Host: host})
	failed := false
	defer func() {
		e.emit(events.Event{Type: events.HostFinished, RunID: rs.id, Play: play.Name, Host: host, Payload: map[string]interface{}{"failed": failed}})
	}()

	fail := func(err error) {
		failed = true
		rs.markFailed(host, err)
		if err != nil {
			intTracing.RecordError(span, err, e.tracker)
			e.visitor.OnHostFailed(host, err)
		}
	}

	vars, err := hr.hostVars()
	if err != nil {
		hr.log.Errorf("Cannot resolve variables: %v", err)
		fail(err)
		return
	}
	rs.ctx.SetHostVars(host, vars)

	if rs.mode == converge.ModeSyntaxCheck {
		// Validate never reaches the transport; the no-op connection is
		// neither dialled nor closed.
		hr.conn = intConnection.NewNoOp(host)
	} else {
		conn, err := e.connFactory.NewConnection(host, vars)
		if err != nil {
			hr.log.Errorf("Cannot create connection: %v", err)
			fail(err)
			return
		}
		if err := conn.Connect(ctx); err != nil {
			hr.log.Errorf("Cannot connect: %v", err)
			fail(err)
			return
		}
		defer func() {
			if cerr := conn.Close(); cerr != nil {
				hr.log.Warnf("Error closing connection: %v", cerr)
			}
		}()
		hr.conn = conn
	}

	for i := range play.Tasks {
		if ctx.Err() != nil {
			fail(ctx.Err())
			return
		}
		task := &play.Tasks[i]
		result := hr.runTask(ctx, task)
		rs.record(host, result.Outcome)
		e.visitor.OnTaskResult(result)
		e.emit(events.Event{Type: events.TaskFinished, RunID: rs.id, Play: play.Name, Host: host, Task: task.DisplayName(), Payload: map[string]interface{}{
			"outcome": result.Outcome,
			"module":  task.Module,
		}})
		if result.Outcome == converge.OutcomeFailed {
			hr.log.Warnf("Task '%s' failed, skipping the remaining tasks of play '%s'.", task.DisplayName(), play.Name)
			fail(nil)
			return
		}
	}
	span.SetStatus(codes.Ok, "")
}

// hostVars layers run-wide variables, play variables and the inventory
// variables of the host, lowest precedence first.
func (hr *hostRun) hostVars() (map[string]interface{}, error) {
	invVars, err := hr.rs.inv.HostVariables(hr.host)
	if err != nil {
		return nil, err
	}
	vars := util.MergeVars(hr.e.globalVars, hr.play.Vars, invVars)
	vars[VarInventoryHostname] = hr.host
	vars[VarRunMode] = hr.rs.mode.String()
	if _, ok := vars[intConnection.VarSSHUser]; !ok && hr.rs.defaultUser != "" {
		vars[intConnection.VarSSHUser] = hr.rs.defaultUser
	}
	return vars, nil
}

// runTask applies beforetask, drives the task once per item, then applies
// aftertask. It always returns a result; failures are reported through its
// outcome.
func (hr *hostRun) runTask(ctx context.Context, task *config.Task) converge.TaskResult {
	start := time.Now()
	name := task.DisplayName()
	log := hr.log.With("task", name, "module", task.Module)
	result := converge.TaskResult{Play: hr.play.Name, Host: hr.host, Task: name, Module: task.Module}
	finish := func(outcome string, resp *protocol.TaskResponse) converge.TaskResult {
		result.Outcome = outcome
		result.Response = resp
		if outcome == converge.OutcomeFailed || outcome == converge.OutcomeIgnored {
			result.Error = template.RedactMessage(failureMessage(resp), hr.e.tracker)
		}
		result.Duration = time.Since(start)
		return result
	}

	hr.rs.ctx.SetCursor(hr.play.Name, hr.host, name)
	hr.e.visitor.OnTaskStart(hr.play.Name, hr.host, name)
	hr.e.emit(events.Event{Type: events.TaskStarted, RunID: hr.rs.id, Play: hr.play.Name, Host: hr.host, Task: name})

	ctx, span := intTracing.StartSpan(ctx, hr.e.tracerProvider, "converge.task",
		intTracing.AttrHost.String(hr.host), intTracing.AttrTask.String(name), intTracing.AttrModule.String(task.Module))
	defer span.End()

	vars, err := hr.rs.ctx.Vars(hr.host)
	if err != nil {
		return finish(converge.OutcomeFailed, failedResponse(protocol.Validate, err.Error()))
	}

	if task.Before != nil && task.Before.Condition != nil {
		run, err := hr.e.renderer.ResolveBool(task.Before.Condition, vars, hr.tmode, true)
		if err != nil {
			return finish(converge.OutcomeFailed, failedResponse(protocol.Validate, "beforetask condition: "+err.Error()))
		}
		if !run {
			log.Debugf("Condition is false, skipping.")
			span.SetAttributes(intTracing.AttrStatus.String(converge.OutcomeSkipped))
			return finish(converge.OutcomeSkipped, nil)
		}
	}

	items, looped, err := hr.resolveItems(task, vars)
	if err != nil {
		return finish(converge.OutcomeFailed, failedResponse(protocol.Validate, "beforetask items: "+err.Error()))
	}
	if looped && len(items) == 0 {
		log.Debugf("No items, skipping.")
		return finish(converge.OutcomeSkipped, nil)
	}

	var resp *protocol.TaskResponse
	outcome := converge.OutcomeOK
	for _, item := range items {
		iterVars := vars
		if looped {
			iterVars = util.MergeVars(vars, map[string]interface{}{config.DefaultItemVar: item})
		}
		resp = hr.driveWithRetry(ctx, task, iterVars, log)
		o := outcomeOf(resp, hr.rs.mode)
		if o == converge.OutcomeFailed {
			outcome = o
			break
		}
		if o == converge.OutcomeChanged {
			outcome = o
		}
	}

	hr.recordOutputs(task, resp, log)

	if outcome == converge.OutcomeFailed && task.After != nil {
		ignore, err := hr.e.renderer.ResolveBool(task.After.IgnoreErrors, vars, hr.tmode, false)
		if err != nil {
			log.Warnf("Cannot evaluate ignore_errors: %v", err)
		} else if ignore {
			log.Infof("Task failed, error ignored: %s", template.RedactMessage(failureMessage(resp), hr.e.tracker))
			outcome = converge.OutcomeIgnored
		}
	}

	span.SetAttributes(intTracing.AttrStatus.String(outcome))
	if outcome == converge.OutcomeFailed {
		intTracing.RecordError(span, errors.New(failureMessage(resp)), hr.e.tracker)
	}
	return finish(outcome, resp)
}

// driveWithRetry runs the protocol, repeating it on failure when aftertask
// asks for retries. Syntax checks never retry.
func (hr *hostRun) driveWithRetry(ctx context.Context, task *config.Task, vars map[string]interface{}, log convergelog.Logger) *protocol.TaskResponse {
	cfg := retry.Config{Attempts: 1, Label: fmt.Sprintf("host=%s task=%s", hr.host, task.DisplayName())}
	if task.After != nil && task.After.Retry > 0 && hr.rs.mode != converge.ModeSyntaxCheck {
		cfg.Attempts = task.After.Retry + 1
		cfg.Delay = task.After.Delay
	}

	var resp *protocol.TaskResponse
	_ = hr.e.retryHelper.Do(ctx, cfg, func(opCtx context.Context) error {
		resp = hr.drive(opCtx, task, vars, log)
		if resp.Status == protocol.Failed {
			return errors.New(resp.Message)
		}
		return nil
	})
	if resp == nil {
		resp = failedResponse(protocol.Validate, fmt.Sprintf("task not run: %v", ctx.Err()))
	}
	return resp
}

// resolveItems returns the elements of beforetask.items, or a single nil
// element when the task does not loop.
func (hr *hostRun) resolveItems(task *config.Task, vars map[string]interface{}) ([]interface{}, bool, error) {
	if task.Before == nil || task.Before.Items == nil {
		return []interface{}{nil}, false, nil
	}
	raw := task.Before.Items
	if s, ok := raw.(string); ok {
		if hr.tmode == template.Off {
			// Unresolvable without facts; validate the task once.
			return []interface{}{s}, true, nil
		}
		resolved, err := hr.e.renderer.Resolve(s, vars)
		if err != nil {
			return nil, true, err
		}
		raw = resolved
	}
	items, err := extractItems(raw)
	return items, true, err
}

// recordOutputs merges facts and saves the task's outputs for later tasks.
func (hr *hostRun) recordOutputs(task *config.Task, resp *protocol.TaskResponse, log convergelog.Logger) {
	if resp == nil || hr.rs.mode == converge.ModeSyntaxCheck {
		return
	}
	if facts, ok := resp.Outputs[protocol.FactsOutput].(map[string]interface{}); ok {
		if err := hr.rs.ctx.SetFacts(hr.host, facts); err != nil {
			log.Warnf("Cannot record facts: %v", err)
		}
	}
	name := task.SaveName()
	if name == "" {
		return
	}
	saved := make(map[string]interface{}, len(resp.Outputs)+4)
	for k, v := range resp.Outputs {
		if k != protocol.FactsOutput {
			saved[k] = v
		}
	}
	saved["status"] = resp.Status.String()
	saved["changed"] = resp.Status.Changed()
	saved["failed"] = resp.Status == protocol.Failed
	saved["msg"] = resp.Message

	redacted, wasRedacted := template.RedactTrackedSecrets(saved, hr.e.tracker)
	if wasRedacted {
		log.Warnf("Outputs saved as '%s' contained resolved secrets; they were redacted.", name)
	}
	if err := hr.rs.ctx.Save(hr.host, name, redacted); err != nil {
		log.Warnf("Cannot save outputs as '%s': %v", name, err)
	}
}

func outcomeOf(resp *protocol.TaskResponse, mode converge.Mode) string {
	switch {
	case resp == nil:
		return converge.OutcomeOK
	case resp.Status == protocol.Failed:
		return converge.OutcomeFailed
	case resp.Status.Changed():
		return converge.OutcomeChanged
	case mode == converge.ModeCheck:
		if _, _, pending := resp.Status.FollowUp(); pending {
			return converge.OutcomeChanged
		}
	}
	return converge.OutcomeOK
}

func failureMessage(resp *protocol.TaskResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Message
}

func failedResponse(phase protocol.RequestType, msg string) *protocol.TaskResponse {
	return protocol.NewTaskResponse(&protocol.TaskRequest{Type: phase}, protocol.Failed, nil, msg)
}

func extractItems(data interface{}) ([]interface{}, error) {
	if data == nil {
		return nil, nil
	}
	val := reflect.ValueOf(data)
	switch val.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			items[i] = val.Index(i).Interface()
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected a list of items, got %T", data)
	}
}
