package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gxo-labs/converge/internal/config"
	"github.com/gxo-labs/converge/internal/handle"
	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/util"
	converge "github.com/gxo-labs/converge/pkg/converge/v1"
	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// queryOutcomes are the statuses a Query may legitimately end in.
var queryOutcomes = map[protocol.Status]bool{
	protocol.IsMatched:         true,
	protocol.NeedsCreation:     true,
	protocol.NeedsModification: true,
	protocol.NeedsRemoval:      true,
	protocol.Failed:            true,
}

// drive evaluates task against vars and runs the resulting Action through
// the protocol. The driver, not the module, decides which phase comes
// next: Create, Modify and Remove only ever follow a Query that asked for
// them, Modify receives exactly the Query's change set, and a phase that
// ends in any status other than its own terminal one is reported Failed.
func (hr *hostRun) drive(ctx context.Context, task *config.Task, vars map[string]interface{}, log convergelog.Logger) *protocol.TaskResponse {
	params, err := hr.e.renderer.ResolveParams(task.Params, vars, hr.tmode)
	if err != nil {
		return failedResponse(protocol.Validate, err.Error())
	}
	action, err := module.Evaluate(hr.e.registry, task.Module, params)
	if err != nil {
		return failedResponse(protocol.Validate, err.Error())
	}
	h := handle.New(hr.host, hr.conn, hr.e.localFS, mapView(vars))

	resp := hr.dispatch(ctx, action, h, protocol.NewValidateRequest(), log)
	if resp.Status != protocol.IsValidated {
		return unexpected(resp, protocol.IsValidated.String())
	}
	if hr.rs.mode == converge.ModeSyntaxCheck {
		return resp
	}

	query := hr.dispatch(ctx, action, h, protocol.NewQueryRequest(), log)
	if !queryOutcomes[query.Status] {
		return unexpected(query, "a Query outcome")
	}
	next, want, ok := query.Status.FollowUp()
	if !ok || hr.rs.mode == converge.ModeCheck {
		return query
	}

	var req *protocol.TaskRequest
	switch next {
	case protocol.Create:
		req = protocol.NewCreateRequest()
	case protocol.Modify:
		req = protocol.NewModifyRequest(query.Changes)
	case protocol.Remove:
		req = protocol.NewRemoveRequest()
	}
	final := hr.dispatch(ctx, action, h, req, log)
	if final.Status != want {
		return unexpected(final, want.String())
	}
	if len(final.Changes) == 0 && len(query.Changes) > 0 {
		final = protocol.NewTaskResponse(req, final.Status, query.Changes, final.Message).WithOutputs(final.Outputs)
	}
	return final
}

// dispatch runs one phase, turning a panicking module into a Failed
// response.
func (hr *hostRun) dispatch(ctx context.Context, action plugin.Action, h plugin.Handle, req *protocol.TaskRequest, log convergelog.Logger) (resp *protocol.TaskResponse) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Module panicked during %s: %v\n%s", req.Type, r, debug.Stack())
			resp = failedResponse(req.Type, fmt.Sprintf("module panicked during %s: %v", req.Type, r))
		}
		if resp == nil {
			resp = failedResponse(req.Type, fmt.Sprintf("module returned no response to %s", req.Type))
		}
		log.Debugf("%s -> %s (%v)", req.Type, resp, time.Since(start).Truncate(time.Microsecond))
		oteltrace.SpanFromContext(ctx).AddEvent("phase", oteltrace.WithAttributes(
			attribute.String("converge.phase", req.Type.String()),
			attribute.String("converge.status", resp.Status.String()),
		))
		hr.e.emit(events.Event{Type: events.PhaseFinished, RunID: hr.rs.id, Play: hr.play.Name, Host: hr.host, Payload: map[string]interface{}{
			"phase":  req.Type.String(),
			"status": resp.Status.String(),
		}})
	}()
	return action.Dispatch(ctx, h, req)
}

// unexpected maps a status that does not belong to the phase to Failed.
func unexpected(resp *protocol.TaskResponse, want string) *protocol.TaskResponse {
	if resp.Status == protocol.Failed {
		return resp
	}
	msg := fmt.Sprintf("%s returned %s, expected %s", resp.Request, resp.Status, want)
	if resp.Status == protocol.NotSupported {
		msg = fmt.Sprintf("module does not support %s", resp.Request)
	}
	if resp.Message != "" {
		msg += ": " + resp.Message
	}
	return protocol.NewTaskResponse(&protocol.TaskRequest{Type: resp.Request}, protocol.Failed, resp.Changes, msg)
}

// mapView is the read-only variable view handed to modules.
type mapView map[string]interface{}

func (v mapView) Get(key string) (interface{}, bool) {
	val, ok := util.Lookup(v, key)
	if !ok {
		return nil, false
	}
	return util.DeepCopy(val), true
}

func (v mapView) GetAll() map[string]interface{} {
	return util.MergeVars(v)
}
