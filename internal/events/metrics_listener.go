package events

import (
	"context"

	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated from engine events.
type Metrics struct {
	TasksTotal       *prometheus.CounterVec
	HostsFailedTotal prometheus.Counter
	SecretsAccessed  prometheus.Counter
	RunsTotal        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "converge",
			Name:      "tasks_total",
			Help:      "Tasks finished, partitioned by outcome.",
		}, []string{"status"}),
		HostsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "converge",
			Name:      "hosts_failed_total",
			Help:      "Hosts whose pipeline stopped on a failure.",
		}),
		SecretsAccessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "converge",
			Name:      "secrets_accessed_total",
			Help:      "Secrets resolved by templates.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "converge",
			Name:      "runs_total",
			Help:      "Runs finished, partitioned by mode and result.",
		}, []string{"mode", "result"}),
	}
	for _, c := range []prometheus.Collector{m.TasksTotal, m.HostsFailedTotal, m.SecretsAccessed, m.RunsTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MetricsEventListener consumes a ChannelEventBus and updates Metrics.
type MetricsEventListener struct {
	bus     *ChannelEventBus
	log     convergelog.Logger
	metrics *Metrics
}

// NewMetricsEventListener creates a listener. All arguments are required.
func NewMetricsEventListener(bus *ChannelEventBus, metrics *Metrics, log convergelog.Logger) *MetricsEventListener {
	if bus == nil || metrics == nil || log == nil {
		panic("MetricsEventListener requires a non-nil ChannelEventBus, Metrics and Logger")
	}
	return &MetricsEventListener{
		bus:     bus,
		log:     log.With("component", "MetricsEventListener"),
		metrics: metrics,
	}
}

// Start consumes events until the bus is closed or ctx is done. It blocks;
// run it in its own goroutine.
func (l *MetricsEventListener) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			return
		}
	}
}

func (l *MetricsEventListener) handleEvent(event events.Event) {
	switch event.Type {
	case events.TaskFinished:
		status, _ := event.Payload["outcome"].(string)
		if status == "" {
			status = "unknown"
		}
		l.metrics.TasksTotal.WithLabelValues(status).Inc()
	case events.HostFinished:
		if failed, _ := event.Payload["failed"].(bool); failed {
			l.metrics.HostsFailedTotal.Inc()
		}
	case events.SecretAccessed:
		l.metrics.SecretsAccessed.Inc()
	case events.RunFinished:
		mode, _ := event.Payload["mode"].(string)
		result := "success"
		if failed, _ := event.Payload["failed"].(bool); failed {
			result = "failure"
		}
		l.metrics.RunsTotal.WithLabelValues(mode, result).Inc()
	}
}
