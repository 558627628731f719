package v1

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	"github.com/gxo-labs/converge/pkg/converge/v1/metrics"
	"github.com/gxo-labs/converge/pkg/converge/v1/plugin"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
	"github.com/gxo-labs/converge/pkg/converge/v1/secrets"
	"github.com/gxo-labs/converge/pkg/converge/v1/tracing"
)

// Mode selects how far each task is driven through the reconciliation
// protocol.
type Mode int

const (
	// ModeSyntaxCheck runs Validate only, against a no-op connection.
	ModeSyntaxCheck Mode = iota
	// ModeCheck runs Validate and Query, never Create, Modify or Remove.
	ModeCheck
	// ModeApply runs the full protocol.
	ModeApply
)

func (m Mode) String() string {
	switch m {
	case ModeSyntaxCheck:
		return "syntax-check"
	case ModeCheck:
		return "check"
	case ModeApply:
		return "apply"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Inventory is the read-only view of hosts and groups the engine consumes.
type Inventory interface {
	// HostsInGroups returns the sorted, de-duplicated hosts belonging to any
	// of the named groups (including subgroups).
	HostsInGroups(groups []string) ([]string, error)
	// HostVariables returns the layered variables of a host
	// (global < group < host).
	HostVariables(host string) (map[string]interface{}, error)
}

// RunnerV1 defines the public interface of the converge engine.
type RunnerV1 interface {
	// Run converges every host targeted by the playbooks. It returns an
	// error when the run could not be carried out at all (bad playbook,
	// cancelled context) or when any non-ignored task failed.
	Run(ctx context.Context, inv Inventory, playbookPaths []string, mode Mode, defaultUser string) (*RunReport, error)

	MetricsRegistryProvider() metrics.RegistryProvider
	TracerProvider() tracing.TracerProvider

	SetConnectionFactory(factory connection.Factory) error
	SetLocalFilesystem(fs connection.Filesystem) error
	SetModuleRegistry(registry plugin.Registry) error
	SetEventBus(bus events.Bus) error
	SetVisitor(visitor Visitor) error
	SetSecretsProvider(provider secrets.Provider) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetConcurrency(limit int) error
	SetGlobalVars(vars map[string]interface{}) error
}

// RunnerOption configures the engine at creation.
type RunnerOption func(RunnerV1) error

// Task outcome labels, as reported to the Visitor and counted in HostSummary.
const (
	OutcomeOK      = "ok"
	OutcomeChanged = "changed"
	OutcomeFailed  = "failed"
	OutcomeIgnored = "ignored"
	OutcomeSkipped = "skipped"
)

// TaskResult is what the Visitor receives once a task finished on a host.
type TaskResult struct {
	Play     string
	Host     string
	Task     string
	Module   string
	Outcome  string
	Response *protocol.TaskResponse
	Error    string
	Duration time.Duration
}

// Visitor is the serialized reporting sink shared by every host pipeline.
// Implementations must be safe for concurrent use; the engine does not order
// calls across hosts.
type Visitor interface {
	OnPlayStart(play string, hosts []string)
	OnTaskStart(play, host, task string)
	OnTaskResult(result TaskResult)
	OnHostFailed(host string, err error)
	OnRunEnd(report *RunReport)
}

// HostSummary counts task outcomes for one host.
type HostSummary struct {
	OK      int    `json:"ok"`
	Changed int    `json:"changed"`
	Failed  int    `json:"failed"`
	Ignored int    `json:"ignored"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// Add increments the counter for outcome.
func (s *HostSummary) Add(outcome string) {
	switch outcome {
	case OutcomeOK:
		s.OK++
	case OutcomeChanged:
		s.Changed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeIgnored:
		s.Ignored++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// RunReport summarizes a completed run.
type RunReport struct {
	RunID     string                  `json:"run_id"`
	Mode      string                  `json:"mode"`
	StartTime time.Time               `json:"start_time"`
	EndTime   time.Time               `json:"end_time"`
	Duration  time.Duration           `json:"duration"`
	Hosts     map[string]*HostSummary `json:"hosts"`
	// Failed is true when any non-ignored task failed on any host.
	Failed bool `json:"failed"`
}

// WithConnectionFactory sets how connections are obtained per host.
func WithConnectionFactory(factory connection.Factory) RunnerOption {
	return func(r RunnerV1) error {
		if factory == nil {
			return convergeerrors.NewConfigError("connection factory cannot be nil", nil)
		}
		return r.SetConnectionFactory(factory)
	}
}

// WithLocalFilesystem sets the controller-side filesystem handed to modules.
func WithLocalFilesystem(fs connection.Filesystem) RunnerOption {
	return func(r RunnerV1) error {
		if fs == nil {
			return convergeerrors.NewConfigError("local filesystem cannot be nil", nil)
		}
		return r.SetLocalFilesystem(fs)
	}
}

// WithModuleRegistry is an option to provide a custom module registry.
func WithModuleRegistry(registry plugin.Registry) RunnerOption {
	return func(r RunnerV1) error {
		if registry == nil {
			return convergeerrors.NewConfigError("module registry cannot be nil", nil)
		}
		return r.SetModuleRegistry(registry)
	}
}

// WithEventBus is an option to provide a custom event bus.
func WithEventBus(bus events.Bus) RunnerOption {
	return func(r RunnerV1) error {
		if bus == nil {
			return convergeerrors.NewConfigError("event bus cannot be nil", nil)
		}
		return r.SetEventBus(bus)
	}
}

// WithVisitor is an option to provide the reporting sink.
func WithVisitor(visitor Visitor) RunnerOption {
	return func(r RunnerV1) error {
		if visitor == nil {
			return convergeerrors.NewConfigError("visitor cannot be nil", nil)
		}
		return r.SetVisitor(visitor)
	}
}

// WithSecretsProvider is an option to provide a custom secrets provider.
func WithSecretsProvider(provider secrets.Provider) RunnerOption {
	return func(r RunnerV1) error {
		if provider == nil {
			return convergeerrors.NewConfigError("secrets provider cannot be nil", nil)
		}
		return r.SetSecretsProvider(provider)
	}
}

// WithMetricsRegistryProvider is an option to provide a custom metrics provider.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) RunnerOption {
	return func(r RunnerV1) error {
		if provider == nil {
			return convergeerrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return r.SetMetricsRegistryProvider(provider)
	}
}

// WithTracerProvider is an option to provide a custom tracing provider.
func WithTracerProvider(provider tracing.TracerProvider) RunnerOption {
	return func(r RunnerV1) error {
		if provider == nil {
			return convergeerrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return r.SetTracerProvider(provider)
	}
}

// WithConcurrency bounds how many hosts are converged in parallel. A
// non-positive limit falls back to the number of CPUs.
func WithConcurrency(limit int) RunnerOption {
	return func(r RunnerV1) error {
		if limit <= 0 {
			limit = runtime.NumCPU()
		}
		return r.SetConcurrency(limit)
	}
}

// WithGlobalVars sets run-wide variables that sit below every inventory layer.
func WithGlobalVars(vars map[string]interface{}) RunnerOption {
	return func(r RunnerV1) error {
		return r.SetGlobalVars(vars)
	}
}
