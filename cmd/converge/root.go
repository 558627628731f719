package main

import (
	"time"

	"github.com/spf13/cobra"
)

// options holds the flags shared by every subcommand.
type options struct {
	playbooks   []string
	inventory   string
	user        string
	hosts       []string
	limit       []string
	forks       int
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string
	timeout     time.Duration
	verbose     bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "converge",
		Short: "Converge hosts to the state described by playbooks",
		Long: `converge applies playbooks of tasks to groups of hosts. Each task is
checked first and only changed when the host does not already match.

Run modes:
  syntax       validate playbooks without contacting any host
  check-local  report what would change on this machine
  local        converge this machine
  check-ssh    report what would change on remote hosts
  ssh          converge remote hosts over SSH`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringArrayVarP(&opts.playbooks, "playbook", "p", nil, "playbook file (repeatable)")
	pf.StringVarP(&opts.inventory, "inventory", "i", "", "inventory directory")
	pf.StringVarP(&opts.user, "user", "u", "", "default SSH user")
	pf.StringSliceVar(&opts.hosts, "hosts", nil, "ad-hoc host list used instead of an inventory")
	pf.StringSliceVar(&opts.limit, "limit", nil, "only run on hosts matching these patterns")
	pf.IntVar(&opts.forks, "forks", 0, "hosts converged in parallel (default from config)")
	pf.StringVar(&opts.configPath, "config", "", "run config file (TOML)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text, json")
	pf.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when the run ends")
	pf.DurationVar(&opts.timeout, "timeout", 0, "abort the run after this long (0 disables)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "print task starts and change sets")

	root.AddCommand(
		newRunCommand(opts, runSyntax),
		newRunCommand(opts, runCheckLocal),
		newRunCommand(opts, runLocal),
		newRunCommand(opts, runCheckSSH),
		newRunCommand(opts, runSSH),
		newShowInventoryCommand(opts),
	)
	return root
}
