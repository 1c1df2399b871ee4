// Package metrics registers and exposes the fabric's Prometheus
// collectors, grounded on the teacher's metrics.go: one Registry built
// once and shared by every subsystem, rather than relying on the default
// global registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the fabric updates from its hot path.
type Registry struct {
	reg *prometheus.Registry

	TopicPutTotal   *prometheus.CounterVec
	TopicMoveTotal  *prometheus.CounterVec
	TopicFlushTotal *prometheus.CounterVec

	ReceiverQueueDepth *prometheus.GaugeVec

	ServiceCallLatency *prometheus.HistogramVec

	PluginDrainWait *prometheus.HistogramVec

	WorkerPoolDropped prometheus.Counter

	ClockWaiterDepth prometheus.Gauge

	ResourceCPUPercent prometheus.Gauge
	ResourceMemBytes   prometheus.Gauge

	PluginTraceTotal *prometheus.CounterVec
}

// New constructs and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		TopicPutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lbot", Name: "topic_put_total", Help: "Messages delivered via put, by topic.",
		}, []string{"topic"}),
		TopicMoveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lbot", Name: "topic_move_total", Help: "Messages delivered via the zero-copy move path, by topic.",
		}, []string{"topic"}),
		TopicFlushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lbot", Name: "topic_flush_total", Help: "Explicit flush calls, by topic.",
		}, []string{"topic"}),
		ReceiverQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lbot", Name: "receiver_queue_depth", Help: "Unread messages in a receiver's ring, by topic.",
		}, []string{"topic"}),
		ServiceCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lbot", Name: "service_call_latency_seconds", Help: "Service call latency, by service and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "outcome"}),
		PluginDrainWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lbot", Name: "plugin_drain_wait_seconds", Help: "Time a plugin removal waited for in-flight dispatch to drain.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin"}),
		WorkerPoolDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lbot", Name: "worker_pool_dropped_total", Help: "Parallel-policy callbacks dropped because the worker pool queue was full.",
		}),
		ClockWaiterDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lbot", Name: "clock_waiter_depth", Help: "Pending entries in the custom clock's waiter priority queue.",
		}),
		ResourceCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lbot", Name: "resource_cpu_percent", Help: "Process CPU utilization sampled by the resource guard.",
		}),
		ResourceMemBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lbot", Name: "resource_mem_bytes", Help: "Process resident memory sampled by the resource guard.",
		}),
		PluginTraceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lbot", Name: "plugin_trace_total", Help: "Messages seen by the promexport plugin's trace path, by topic.",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		r.TopicPutTotal, r.TopicMoveTotal, r.TopicFlushTotal,
		r.ReceiverQueueDepth, r.ServiceCallLatency, r.PluginDrainWait,
		r.WorkerPoolDropped, r.ClockWaiterDepth,
		r.ResourceCPUPercent, r.ResourceMemBytes,
		r.PluginTraceTotal,
	)
	return r
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
