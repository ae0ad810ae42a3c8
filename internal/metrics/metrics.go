// Package metrics exposes Prometheus instrumentation for the output
// subsystem. Collectors are registered on a caller-supplied registry so
// tests can use isolated registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the subsystem's collectors.
type Set struct {
	PollsTotal       *prometheus.CounterVec
	PollFailures     *prometheus.CounterVec
	UploadsStarted   prometheus.Counter
	UploadRetries    prometheus.Counter
	UploadFailures   prometheus.Counter
	DiscoveryEvents  *prometheus.CounterVec
	DevicesOnline    prometheus.Gauge
	MaterialsSynced  prometheus.Counter
}

// New creates and registers the collector set on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printnest",
			Name:      "polls_total",
			Help:      "Status polls issued, by transport.",
		}, []string{"transport"}),
		PollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printnest",
			Name:      "poll_failures_total",
			Help:      "Status polls that returned no usable response.",
		}, []string{"transport"}),
		UploadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printnest",
			Name:      "uploads_started_total",
			Help:      "Print-job uploads started.",
		}),
		UploadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printnest",
			Name:      "upload_retries_total",
			Help:      "Transient upload failures that were retried.",
		}),
		UploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printnest",
			Name:      "upload_failures_total",
			Help:      "Print-job uploads that terminally failed.",
		}),
		DiscoveryEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printnest",
			Name:      "discovery_events_total",
			Help:      "Discovery add/remove events processed, by source.",
		}, []string{"source", "kind"}),
		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "printnest",
			Name:      "devices_online",
			Help:      "Output devices currently in the Connected state.",
		}),
		MaterialsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printnest",
			Name:      "materials_synced_total",
			Help:      "Material profiles uploaded to printers.",
		}),
	}

	reg.MustRegister(
		s.PollsTotal, s.PollFailures,
		s.UploadsStarted, s.UploadRetries, s.UploadFailures,
		s.DiscoveryEvents, s.DevicesOnline, s.MaterialsSynced,
	)
	return s
}

// NewNop returns a collector set bound to a throwaway registry, for tests
// and callers that do not export metrics.
func NewNop() *Set {
	return New(prometheus.NewRegistry())
}
