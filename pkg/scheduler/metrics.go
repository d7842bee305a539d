package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/WiredGeist/CEM/pkg/graph"
)

type metrics struct {
	passes        prometheus.Counter
	passFailures  prometheus.Counter
	passDuration  prometheus.Histogram
	nodes         *prometheus.CounterVec
	coalesced     prometheus.Counter
	exports       *prometheus.CounterVec
	pendingEdits  prometheus.Gauge
	lastPassNodes prometheus.Gauge
}

// newMetrics registers the scheduler metrics with reg. A nil reg creates
// unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		passes: f.NewCounter(prometheus.CounterOpts{
			Name: "cem_passes_total",
			Help: "Pipeline passes run",
		}),
		passFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cem_pass_failures_total",
			Help: "Pipeline passes that failed and kept the previous result",
		}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cem_pass_duration_seconds",
			Help:    "Pipeline pass duration including compositing and meshing",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		// Labels: "built", "reused", "suppressed", "disabled", "failed"
		nodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cem_pass_nodes_total",
			Help: "Node outcomes per pass",
		}, []string{"outcome"}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "cem_wakeups_coalesced_total",
			Help: "Wake requests folded into an already pending pass",
		}),
		exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cem_exports_total",
			Help: "Export requests by result",
		}, []string{"result"}),
		pendingEdits: f.NewGauge(prometheus.GaugeOpts{
			Name: "cem_pending_edits",
			Help: "Parameter edits taken by the last pass",
		}),
		lastPassNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "cem_last_pass_nodes",
			Help: "Nodes visited by the last pass",
		}),
	}
}

func (m *metrics) observe(r graph.Report) {
	m.nodes.WithLabelValues("built").Add(float64(len(r.Built)))
	m.nodes.WithLabelValues("reused").Add(float64(len(r.Reused)))
	m.nodes.WithLabelValues("suppressed").Add(float64(len(r.Suppressed)))
	m.nodes.WithLabelValues("disabled").Add(float64(len(r.Disabled)))
	m.nodes.WithLabelValues("failed").Add(float64(len(r.Failures)))
	m.lastPassNodes.Set(float64(len(r.Built) + len(r.Reused) + len(r.Suppressed)))
}
