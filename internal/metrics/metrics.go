// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"Go2NetGuard/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all pipeline Prometheus metrics
type Metrics struct {
	PacketsProcessed prometheus.Counter
	BytesProcessed   prometheus.Counter
	PacketsAccepted  prometheus.Counter
	PacketsDropped   *prometheus.CounterVec

	// Flow table metrics
	FlowsActive  prometheus.Gauge
	FlowOverflow prometheus.Counter
	Batches      prometheus.Counter
	BatchFlows   prometheus.Counter

	WriterErrors *prometheus.CounterVec
	Interfaces   *prometheus.GaugeVec
}

// NewMetrics creates a new Prometheus metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_packets_processed_total",
			Help: "Total number of packets observed by the pipeline",
		}),
		BytesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_bytes_processed_total",
			Help: "Total on-the-wire bytes of observed packets",
		}),
		PacketsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_packets_accepted_total",
			Help: "Total number of packets that passed every filter",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_packets_dropped_total",
			Help: "Total number of packets dropped, by filter stage and reason",
		}, []string{"stage", "reason"}),

		FlowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gons_flows_active",
			Help: "Number of flows in the current batch",
		}),
		FlowOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_flow_table_overflow_total",
			Help: "Packets that opened a flow while the flow table was full",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_batches_total",
			Help: "Number of finalized flow batches",
		}),
		BatchFlows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_batch_flows_total",
			Help: "Number of flow rows emitted across all batches",
		}),

		WriterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_writer_errors_total",
			Help: "Total number of failed batch writes",
		}, []string{"writer"}),
		Interfaces: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gons_interface_state",
			Help: "Capture state per interface (0 idle, 1 opening, 2 capturing, 3 draining, 4 closed)",
		}, []string{"interface"}),
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.PacketsProcessed.Describe(ch)
	m.BytesProcessed.Describe(ch)
	m.PacketsAccepted.Describe(ch)
	m.PacketsDropped.Describe(ch)

	m.FlowsActive.Describe(ch)
	m.FlowOverflow.Describe(ch)
	m.Batches.Describe(ch)
	m.BatchFlows.Describe(ch)

	m.WriterErrors.Describe(ch)
	m.Interfaces.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.PacketsProcessed.Collect(ch)
	m.BytesProcessed.Collect(ch)
	m.PacketsAccepted.Collect(ch)
	m.PacketsDropped.Collect(ch)

	m.FlowsActive.Collect(ch)
	m.FlowOverflow.Collect(ch)
	m.Batches.Collect(ch)
	m.BatchFlows.Collect(ch)

	m.WriterErrors.Collect(ch)
	m.Interfaces.Collect(ch)
}

// Registry returns a fresh registry holding these metrics plus the Go
// runtime and process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Notify implements model.Notifier by counting the drop.
func (m *Metrics) Notify(ev *model.DropEvent) {
	m.PacketsDropped.WithLabelValues(string(ev.Stage), ev.Reason).Inc()
}

// ObserveBatch records a finalized batch.
func (m *Metrics) ObserveBatch(b *model.Batch) {
	m.Batches.Inc()
	m.BatchFlows.Add(float64(len(b.Rows)))
}
