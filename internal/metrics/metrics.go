package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the operational instrumentation shared by the ingestor,
// the partition workers, and the flusher.
type Pipeline struct {
	registry *prometheus.Registry

	EventsAccepted    prometheus.Counter
	EventsRejected    *prometheus.CounterVec
	EventsProcessed   *prometheus.CounterVec
	EventsFailed      *prometheus.CounterVec
	ProcessingSeconds prometheus.Histogram
	ActiveWorkers     prometheus.Gauge
	BufferSize        prometheus.Gauge
	LastFlushUnix     prometheus.Gauge
	FlushFailures     prometheus.Counter
	AlertsEmitted     *prometheus.CounterVec
	DeadLetters       prometheus.Counter
}

func NewPipeline() *Pipeline {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := func(opts prometheus.CounterOpts) prometheus.Counter {
		c := prometheus.NewCounter(opts)
		registry.MustRegister(c)
		return c
	}

	p := &Pipeline{
		registry: registry,
		EventsAccepted: factory(prometheus.CounterOpts{
			Name: "telemetry_ingest_accepted_total",
			Help: "Events admitted at ingress.",
		}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_ingest_rejected_total",
			Help: "Events rejected at ingress, by reason.",
		}, []string{"reason"}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_processed_total",
			Help: "Events fully processed, by kind.",
		}, []string{"kind"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_failed_total",
			Help: "Events dead-lettered, by failing step.",
		}, []string{"step"}),
		ProcessingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_processing_seconds",
			Help:    "Per-event processing time from dequeue to forward.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_active_workers",
			Help: "Partition workers currently running.",
		}),
		BufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_aggregation_buffer_buckets",
			Help: "Live buckets in the aggregation buffer.",
		}),
		LastFlushUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_last_flush_timestamp_seconds",
			Help: "Unix time of the last successful flush.",
		}),
		FlushFailures: factory(prometheus.CounterOpts{
			Name: "telemetry_flush_failures_total",
			Help: "Flush batches that exhausted persistence retries.",
		}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_alerts_emitted_total",
			Help: "Alerts emitted, by severity.",
		}, []string{"severity"}),
		DeadLetters: factory(prometheus.CounterOpts{
			Name: "telemetry_dead_letters_total",
			Help: "Messages routed to the dead-letter log.",
		}),
	}

	registry.MustRegister(
		p.EventsRejected,
		p.EventsProcessed,
		p.EventsFailed,
		p.ProcessingSeconds,
		p.ActiveWorkers,
		p.BufferSize,
		p.LastFlushUnix,
		p.AlertsEmitted,
	)

	return p
}

// Handler serves the registry in prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
