package engine

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/gxo-labs/converge/internal/template"
	converge "github.com/gxo-labs/converge/pkg/converge/v1"
	"github.com/gxo-labs/converge/pkg/converge/v1/protocol"
)

// ConsoleVisitor prints progress as plain lines. A mutex keeps each line
// whole when hosts report concurrently; resolved secrets are masked.
type ConsoleVisitor struct {
	mu      sync.Mutex
	out     io.Writer
	tracker *secrets.SecretTracker
	// Verbose also prints task starts and change sets.
	Verbose bool
}

var _ converge.Visitor = (*ConsoleVisitor)(nil)

func NewConsoleVisitor(out io.Writer) *ConsoleVisitor {
	return &ConsoleVisitor{out: out}
}

// SetSecretTracker sets the tracker whose values are masked in output.
func (v *ConsoleVisitor) SetSecretTracker(tracker *secrets.SecretTracker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracker = tracker
}

func (v *ConsoleVisitor) printf(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprint(v.out, template.RedactMessage(fmt.Sprintf(format, args...), v.tracker))
}

func (v *ConsoleVisitor) OnPlayStart(play string, hosts []string) {
	if play == "" {
		play = "(unnamed)"
	}
	v.printf("\nPLAY [%s] on %s\n", play, strings.Join(hosts, ", "))
}

func (v *ConsoleVisitor) OnTaskStart(_, host, task string) {
	if v.Verbose {
		v.printf("[%s] TASK %s\n", host, task)
	}
}

func (v *ConsoleVisitor) OnTaskResult(r converge.TaskResult) {
	line := fmt.Sprintf("[%s] %-8s %s", r.Host, r.Outcome+":", r.Task)
	if r.Response != nil {
		switch {
		case r.Outcome == converge.OutcomeFailed || r.Outcome == converge.OutcomeIgnored:
			line += " => " + r.Error
		case r.Response.Status != protocol.IsMatched && r.Response.Status != protocol.IsValidated:
			line += " (" + r.Response.Status.String() + ")"
		}
		if r.Outcome != converge.OutcomeFailed && r.Outcome != converge.OutcomeIgnored && r.Response.Message != "" {
			line += "\n    " + strings.ReplaceAll(strings.TrimRight(r.Response.Message, "\n"), "\n", "\n    ")
		}
		if v.Verbose && len(r.Response.Changes) > 0 {
			line += "\n    " + protocol.FormatChanges(r.Response.Changes)
		}
	}
	v.printf("%s\n", line)
}

func (v *ConsoleVisitor) OnHostFailed(host string, err error) {
	v.printf("[%s] UNREACHABLE => %v\n", host, err)
}

func (v *ConsoleVisitor) OnRunEnd(report *converge.RunReport) {
	if report == nil {
		return
	}
	hosts := make([]string, 0, len(report.Hosts))
	for h := range report.Hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	var b strings.Builder
	fmt.Fprintf(&b, "\nRECAP (%s, run %s)\n", report.Mode, report.RunID)
	for _, h := range hosts {
		s := report.Hosts[h]
		fmt.Fprintf(&b, "%-24s ok=%d changed=%d failed=%d ignored=%d skipped=%d\n",
			h, s.OK, s.Changed, s.Failed, s.Ignored, s.Skipped)
	}
	v.printf("%s", b.String())
}
