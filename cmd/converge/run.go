package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gxo-labs/converge/internal/config"
	intConnection "github.com/gxo-labs/converge/internal/connection"
	"github.com/gxo-labs/converge/internal/engine"
	"github.com/gxo-labs/converge/internal/events"
	"github.com/gxo-labs/converge/internal/inventory"
	"github.com/gxo-labs/converge/internal/logger"
	"github.com/gxo-labs/converge/internal/metrics"
	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/gxo-labs/converge/internal/tracing"
	"github.com/gxo-labs/converge/modules/fetch"
	converge "github.com/gxo-labs/converge/pkg/converge/v1"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	"github.com/spf13/cobra"

	_ "github.com/gxo-labs/converge/modules/assertion"
	_ "github.com/gxo-labs/converge/modules/debug"
	_ "github.com/gxo-labs/converge/modules/directory"
	_ "github.com/gxo-labs/converge/modules/echo"
	_ "github.com/gxo-labs/converge/modules/facts"
	_ "github.com/gxo-labs/converge/modules/fail"
	_ "github.com/gxo-labs/converge/modules/filecopy"
	_ "github.com/gxo-labs/converge/modules/shell"
)

// runSpec describes one run-mode subcommand.
type runSpec struct {
	name  string
	short string
	mode  converge.Mode
	kind  intConnection.Kind
}

var (
	runSyntax     = runSpec{"syntax", "Validate playbooks without contacting any host", converge.ModeSyntaxCheck, intConnection.KindNoOp}
	runCheckLocal = runSpec{"check-local", "Report what would change on this machine", converge.ModeCheck, intConnection.KindLocal}
	runLocal      = runSpec{"local", "Converge this machine", converge.ModeApply, intConnection.KindLocal}
	runCheckSSH   = runSpec{"check-ssh", "Report what would change on remote hosts", converge.ModeCheck, intConnection.KindSSH}
	runSSH        = runSpec{"ssh", "Converge remote hosts over SSH", converge.ModeApply, intConnection.KindSSH}
)

func newRunCommand(opts *options, sub runSpec) *cobra.Command {
	return &cobra.Command{
		Use:   sub.name,
		Short: sub.short,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeRun(cmd.Context(), cmd, opts, sub)
		},
	}
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{err: err}
	}
	return nil
}

// loadRunConfig reads the config file, if any, and applies flag overrides.
func loadRunConfig(cmd *cobra.Command, opts *options) (config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadRunConfig(opts.configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("forks") {
		cfg.Forks = opts.forks
	}
	if flags.Changed("user") {
		cfg.DefaultUser = opts.user
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, &usageError{err: err}
	}
	return cfg, nil
}

// loadInventory picks the inventory directory, the ad-hoc host list, or
// for local and syntax runs the implicit localhost, then applies --limit.
func loadInventory(opts *options, kind intConnection.Kind) (*inventory.Inventory, error) {
	var inv *inventory.Inventory
	var err error
	switch {
	case opts.inventory != "" && len(opts.hosts) > 0:
		return nil, usagef("--inventory and --hosts are mutually exclusive")
	case opts.inventory != "":
		inv, err = inventory.LoadDirectory(opts.inventory)
	case len(opts.hosts) > 0:
		inv, err = inventory.FromHosts(opts.hosts)
	case kind == intConnection.KindSSH:
		return nil, usagef("an inventory (-i) or a host list (--hosts) is required for SSH runs")
	default:
		inv, err = inventory.FromHosts([]string{"localhost"})
	}
	if err != nil {
		return nil, err
	}
	return inv.Limit(opts.limit)
}

func sshDefaults(cfg config.RunConfig, user string) intConnection.SSHConfig {
	c := intConnection.SSHConfig{
		Port:                  cfg.SSHPort,
		User:                  user,
		KeyFile:               cfg.SSHKeyFile,
		KnownHostsFile:        cfg.SSHKnownHosts,
		InsecureIgnoreHostKey: cfg.SSHInsecureIgnoreHostKey,
		ConnectTimeout:        cfg.ConnectTimeout,
		CommandTimeout:        cfg.CommandTimeout,
		ConnectRetries:        cfg.ConnectRetries,
	}
	if cfg.SSHPasswordEnv != "" {
		c.Password = os.Getenv(cfg.SSHPasswordEnv)
	}
	return c
}

func executeRun(ctx context.Context, cmd *cobra.Command, opts *options, sub runSpec) error {
	if len(opts.playbooks) == 0 {
		return usagef("at least one playbook (-p) is required")
	}
	cfg, err := loadRunConfig(cmd, opts)
	if err != nil {
		return err
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	log = log.With("converge_version", version)

	inv, err := loadInventory(opts, sub.kind)
	if err != nil {
		return err
	}

	user := cfg.DefaultUser
	if user == "" && sub.kind == intConnection.KindSSH {
		user = os.Getenv("USER")
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	eventBus := events.NewChannelEventBus(DefaultEventBusSize, log)
	metricsProvider := metrics.NewPrometheusRegistryProvider(opts.metricsFile != "")
	runMetrics, err := events.NewMetrics(metricsProvider.Registry())
	if err != nil {
		eventBus.Close()
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	listenerCtx, stopListener := context.WithCancel(context.Background())
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		events.NewMetricsEventListener(eventBus, runMetrics, log).Start(listenerCtx)
	}()

	tracerProvider := tracing.NewProviderFromEnv(ctx, log)

	visitor := engine.NewConsoleVisitor(cmd.OutOrStdout())
	visitor.Verbose = opts.verbose

	e, err := engine.NewEngine(log,
		converge.WithConnectionFactory(intConnection.NewFactory(sub.kind, sshDefaults(cfg, user), log)),
		converge.WithEventBus(eventBus),
		converge.WithVisitor(visitor),
		converge.WithSecretsProvider(secrets.NewEnvProvider()),
		converge.WithMetricsRegistryProvider(metricsProvider),
		converge.WithTracerProvider(tracerProvider),
		converge.WithConcurrency(cfg.Forks),
		converge.WithGlobalVars(map[string]interface{}{
			fetch.VarListingStrategies: cfg.ListingStrategies,
		}),
	)
	if err != nil {
		stopListener()
		eventBus.Close()
		return err
	}

	log.Infof("Starting %s run of %d playbook(s)", sub.mode, len(opts.playbooks))
	_, runErr := e.Run(ctx, inv, opts.playbooks, sub.mode, user)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Error shutting down tracer provider: %v", err)
	}
	// Closing the bus ends the listener once it has drained every event.
	eventBus.Close()
	<-listenerDone
	stopListener()
	writeMetrics(log, metricsProvider, opts.metricsFile)

	logRunError(log, runErr)
	return runErr
}

func writeMetrics(log convergelog.Logger, provider *metrics.PrometheusRegistryProvider, path string) {
	if path == "" {
		return
	}
	if err := provider.WriteTextfile(path); err != nil {
		log.Warnf("Cannot write metrics to %s: %v", path, err)
	}
}

func logRunError(log convergelog.Logger, err error) {
	switch {
	case err == nil:
		log.Infof("Run completed successfully.")
	case errors.Is(err, engine.ErrTasksFailed):
		log.Errorf("Run finished with failed tasks.")
	case errors.Is(err, context.Canceled):
		log.Warnf("Run cancelled.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Errorf("Run timed out.")
	default:
		log.Errorf("Run failed: %v", err)
	}
}
