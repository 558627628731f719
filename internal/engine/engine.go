package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gxo-labs/converge/internal/config"
	intConnection "github.com/gxo-labs/converge/internal/connection"
	intEvents "github.com/gxo-labs/converge/internal/events"
	intMetrics "github.com/gxo-labs/converge/internal/metrics"
	"github.com/gxo-labs/converge/internal/module"
	"github.com/gxo-labs/converge/internal/retry"
	intSecrets "github.com/gxo-labs/converge/internal/secrets"
	intState "github.com/gxo-labs/converge/internal/state"
	"github.com/gxo-labs/converge/internal/template"
	intTracing "github.com/gxo-labs/converge/internal/tracing"
	"github.com/gxo-labs/converge/internal/util"
	converge "github.com/gxo-labs/converge/pkg/converge/v1"
	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	"github.com/gxo-labs/converge/pkg/converge/v1/metrics"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/secrets"
	convergetracing "github.com/gxo-labs/converge/pkg/converge/v1/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Variables the engine sets on every host.
const (
	VarInventoryHostname = "converge_inventory_hostname"
	VarRunMode           = "converge_run_mode"
)

// ErrTasksFailed is returned by Run when at least one non-ignored task
// failed on some host.
var ErrTasksFailed = errors.New("one or more tasks failed")

// Engine converges hosts by driving playbook tasks through the
// reconciliation protocol. One pipeline runs per host, bounded by the
// concurrency limit; a host's tasks run strictly in order.
type Engine struct {
	log             convergelog.Logger
	connFactory     connection.Factory
	localFS         connection.Filesystem
	registry        plugin.Registry
	eventBus        events.Bus
	visitor         converge.Visitor
	secretsProvider secrets.Provider
	metricsProvider metrics.RegistryProvider
	tracerProvider  convergetracing.TracerProvider
	concurrency     int
	globalVars      map[string]interface{}

	tracker     *intSecrets.SecretTracker
	renderer    *template.GoRenderer
	retryHelper *retry.Helper
}

var _ converge.RunnerV1 = (*Engine)(nil)

// NewEngine creates an engine. Collaborators not supplied through options
// get defaults: local connections, the OS filesystem, the global module
// registry, a no-op event bus, a console visitor on stdout, environment
// secrets, a fresh Prometheus registry and a no-op tracer.
func NewEngine(log convergelog.Logger, opts ...converge.RunnerOption) (*Engine, error) {
	if log == nil {
		return nil, convergeerrors.NewConfigError("logger cannot be nil", nil)
	}
	e := &Engine{
		log:         log,
		concurrency: runtime.NumCPU(),
		tracker:     intSecrets.NewSecretTracker(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, convergeerrors.NewConfigError(fmt.Sprintf("failed to apply engine option: %v", err), err)
		}
	}

	if e.connFactory == nil {
		e.log.Debugf("No connection factory provided, using local connections.")
		e.connFactory = intConnection.NewFactory(intConnection.KindLocal, intConnection.SSHConfig{}, e.log)
	}
	if e.localFS == nil {
		e.localFS = intConnection.NewOSFilesystem()
	}
	if e.registry == nil {
		e.log.Debugf("No module registry provided, using the default registry.")
		e.registry = module.DefaultRegistry
	}
	if e.eventBus == nil {
		e.eventBus = intEvents.NewNoOpEventBus()
	}
	if e.visitor == nil {
		e.visitor = NewConsoleVisitor(os.Stdout)
	}
	if e.secretsProvider == nil {
		e.secretsProvider = intSecrets.NewEnvProvider()
	}
	if e.metricsProvider == nil {
		e.metricsProvider = intMetrics.NewPrometheusRegistryProvider(false)
	}
	if e.tracerProvider == nil {
		e.tracerProvider = intTracing.NewNoOpProvider()
	}
	if tv, ok := e.visitor.(interface {
		SetSecretTracker(*intSecrets.SecretTracker)
	}); ok {
		tv.SetSecretTracker(e.tracker)
	}

	e.renderer = template.NewGoRenderer(e.secretsProvider, e.eventBus, e.tracker)
	e.retryHelper = retry.NewHelper(e.log)
	e.retryHelper.SetTracker(e.tracker)
	return e, nil
}

func (e *Engine) SetConnectionFactory(factory connection.Factory) error {
	e.connFactory = factory
	return nil
}

func (e *Engine) SetLocalFilesystem(fs connection.Filesystem) error {
	e.localFS = fs
	return nil
}

func (e *Engine) SetModuleRegistry(registry plugin.Registry) error {
	e.registry = registry
	return nil
}

func (e *Engine) SetEventBus(bus events.Bus) error {
	e.eventBus = bus
	return nil
}

func (e *Engine) SetVisitor(visitor converge.Visitor) error {
	e.visitor = visitor
	return nil
}

func (e *Engine) SetSecretsProvider(provider secrets.Provider) error {
	e.secretsProvider = provider
	return nil
}

func (e *Engine) SetMetricsRegistryProvider(provider metrics.RegistryProvider) error {
	e.metricsProvider = provider
	return nil
}

func (e *Engine) SetTracerProvider(provider convergetracing.TracerProvider) error {
	e.tracerProvider = provider
	return nil
}

func (e *Engine) SetConcurrency(limit int) error {
	if limit < 1 {
		return convergeerrors.NewConfigError("concurrency must be at least 1", nil)
	}
	e.concurrency = limit
	return nil
}

func (e *Engine) SetGlobalVars(vars map[string]interface{}) error {
	e.globalVars = util.NormalizeMap(vars)
	return nil
}

func (e *Engine) MetricsRegistryProvider() metrics.RegistryProvider { return e.metricsProvider }
func (e *Engine) TracerProvider() convergetracing.TracerProvider    { return e.tracerProvider }

// SecretTracker returns the tracker holding every secret resolved so far.
func (e *Engine) SecretTracker() *intSecrets.SecretTracker { return e.tracker }

// runState is shared by every host pipeline of one Run.
type runState struct {
	id          string
	mode        converge.Mode
	defaultUser string
	inv         converge.Inventory
	ctx         *intState.PlaybookContext

	mu     sync.Mutex
	report *converge.RunReport
	// failedHosts are skipped by later plays.
	failedHosts map[string]struct{}
}

func (rs *runState) summary(host string) *converge.HostSummary {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	s, ok := rs.report.Hosts[host]
	if !ok {
		s = &converge.HostSummary{}
		rs.report.Hosts[host] = s
	}
	return s
}

func (rs *runState) record(host, outcome string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.report.Hosts[host].Add(outcome)
}

func (rs *runState) markFailed(host string, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failedHosts[host] = struct{}{}
	rs.report.Failed = true
	if err != nil {
		rs.report.Hosts[host].Error = err.Error()
	}
}

func (rs *runState) isFailed(host string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, failed := rs.failedHosts[host]
	return failed
}

// Run loads playbookPaths and converges every targeted host. Plays run one
// after another; within a play, hosts run in parallel. A host that failed
// in a play is left out of the following plays.
func (e *Engine) Run(ctx context.Context, inv converge.Inventory, playbookPaths []string, mode converge.Mode, defaultUser string) (report *converge.RunReport, finalErr error) {
	if inv == nil {
		return nil, convergeerrors.NewConfigError("inventory cannot be nil", nil)
	}
	rs := &runState{
		id:          uuid.NewString(),
		mode:        mode,
		defaultUser: defaultUser,
		inv:         inv,
		ctx:         intState.NewPlaybookContext(),
		failedHosts: make(map[string]struct{}),
		report: &converge.RunReport{
			Mode:      mode.String(),
			StartTime: time.Now(),
			Hosts:     make(map[string]*converge.HostSummary),
		},
	}
	rs.report.RunID = rs.id
	log := e.log.With("run_id", rs.id)

	runCtx, span := intTracing.StartSpan(ctx, e.tracerProvider, "converge.run",
		intTracing.AttrRunID.String(rs.id), attribute.String("converge.mode", mode.String()))
	defer span.End()

	e.emit(events.Event{Type: events.RunStarted, RunID: rs.id, Payload: map[string]interface{}{"mode": mode.String()}})
	defer func() {
		rs.report.EndTime = time.Now()
		rs.report.Duration = rs.report.EndTime.Sub(rs.report.StartTime)
		if finalErr != nil {
			rs.report.Failed = true
			intTracing.RecordError(span, finalErr, e.tracker)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		e.emit(events.Event{Type: events.RunFinished, RunID: rs.id, Payload: map[string]interface{}{
			"mode":   mode.String(),
			"failed": rs.report.Failed,
		}})
		e.visitor.OnRunEnd(rs.report)
		log.Infof("Run finished in %v (failed=%t).", rs.report.Duration.Truncate(time.Millisecond), rs.report.Failed)
		report = rs.report
	}()

	playbooks, err := config.LoadPlaybooks(playbookPaths)
	if err != nil {
		log.Errorf("Failed to load playbooks: %v", err)
		return nil, err
	}
	log.Infof("Starting %s run over %d playbook(s).", mode, len(playbooks))

	for _, pb := range playbooks {
		for pi := range pb.Plays {
			if err := e.runPlay(runCtx, rs, &pb.Plays[pi], log); err != nil {
				return nil, err
			}
			if runCtx.Err() != nil {
				return nil, runCtx.Err()
			}
		}
	}

	if rs.report.Failed {
		return nil, ErrTasksFailed
	}
	return nil, nil
}

func (e *Engine) runPlay(ctx context.Context, rs *runState, play *config.Play, log convergelog.Logger) error {
	hosts, err := rs.inv.HostsInGroups(play.Groups)
	if err != nil {
		return err
	}
	active := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if !rs.isFailed(h) {
			active = append(active, h)
		}
	}
	sort.Strings(active)

	log.Infof("Play '%s' targets %d host(s).", play.Name, len(active))
	e.emit(events.Event{Type: events.PlayStarted, RunID: rs.id, Play: play.Name, Payload: map[string]interface{}{"hosts": len(active)}})
	e.visitor.OnPlayStart(play.Name, active)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, host := range active {
		rs.summary(host)
		g.Go(func() error {
			// Host failures are recorded in the report; only cancellation
			// stops the play.
			e.runHost(gctx, rs, play, host)
			return ctx.Err()
		})
	}
	return g.Wait()
}

func (e *Engine) emit(ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.eventBus.Emit(ev)
}
