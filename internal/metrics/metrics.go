// Package metrics exposes Prometheus collectors for the capture and
// analytics engines, in the teacher's promauto.NewGaugeVec/CounterVec
// registration style (prometheus.go).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector this system exports, labelled by
// channel ID so a single process instance can serve several channels.
type Metrics struct {
	PacketsReceived  *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	GapSamplesTotal  *prometheus.CounterVec
	AnchorConfidence *prometheus.GaugeVec
	ArchivesWritten  *prometheus.CounterVec
	ArchiveCompleteness *prometheus.GaugeVec
	SupervisorState  *prometheus.GaugeVec
	RestartsTotal    *prometheus.CounterVec
	DiscriminationBand *prometheus.GaugeVec
	AnalyticsLagSeconds *prometheus.GaugeVec
	ProcessCPUPercent prometheus.Gauge
}

// New registers and returns every collector. Call once per process.
func New() *Metrics {
	return &Metrics{
		PacketsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_packets_received_total",
				Help: "RTP packets received per channel.",
			},
			[]string{"channel"},
		),
		PacketsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_packets_dropped_total",
				Help: "RTP packets dropped as late or malformed per channel.",
			},
			[]string{"channel", "reason"},
		),
		GapSamplesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_gap_samples_total",
				Help: "Samples covered by declared gaps per channel, by category.",
			},
			[]string{"channel", "category"},
		),
		AnchorConfidence: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capture_anchor_confidence",
				Help: "Current time anchor confidence (0..1) per channel.",
			},
			[]string{"channel"},
		),
		ArchivesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_archives_written_total",
				Help: "Minute archives flushed to disk per channel.",
			},
			[]string{"channel"},
		),
		ArchiveCompleteness: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capture_archive_completeness",
				Help: "Fraction of the most recently flushed minute that was not gap-filled.",
			},
			[]string{"channel"},
		),
		SupervisorState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "supervisor_channel_state",
				Help: "Current supervisor state per channel (0=starting,1=receiving,2=stalled,3=draining,4=stopped,5=failed).",
			},
			[]string{"channel"},
		),
		RestartsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supervisor_restarts_total",
				Help: "Channel restarts performed by the supervisor.",
			},
			[]string{"channel"},
		),
		DiscriminationBand: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "analytics_discrimination_confidence",
				Help: "Discriminator confidence for the winning station per channel/minute.",
			},
			[]string{"channel", "station"},
		),
		AnalyticsLagSeconds: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "analytics_processing_lag_seconds",
				Help: "Seconds between an archive's minute boundary and its analytics processing.",
			},
			[]string{"channel"},
		),
		ProcessCPUPercent: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "process_cpu_percent",
				Help: "Host-wide CPU utilisation, sampled periodically.",
			},
		),
	}
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
