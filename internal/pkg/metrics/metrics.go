package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every bankupdate collector and is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// CommandsTotal counts handled commands.
	// result: ok/error
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankupdate_commands_total",
			Help: "Total number of control commands handled.",
		},
		[]string{"command", "result"},
	)

	// UpdatesTotal counts finished update jobs.
	// result: succeeded, or the phase that failed (downloading/verifying/extracting/finalizing).
	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankupdate_updates_total",
			Help: "Total number of update jobs by outcome.",
		},
		[]string{"result"},
	)

	// UpdateDuration records the wall time of update jobs.
	UpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bankupdate_update_duration_seconds",
			Help:    "Duration of update jobs.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10s .. ~5.7h
		},
	)

	// DownloadedBytes counts artifact bytes received.
	DownloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bankupdate_downloaded_bytes_total",
			Help: "Total number of artifact bytes downloaded.",
		},
	)

	// PipelinePhase is 1 for the current pipeline phase and 0 for every other.
	PipelinePhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bankupdate_pipeline_phase",
			Help: "Current update pipeline phase (1 = active).",
		},
		[]string{"phase"},
	)
)

func init() {
	Registry.MustRegister(CommandsTotal)
	Registry.MustRegister(UpdatesTotal)
	Registry.MustRegister(UpdateDuration)
	Registry.MustRegister(DownloadedBytes)
	Registry.MustRegister(PipelinePhase)
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// SetPhase marks phase as the only active one among phases.
func SetPhase(phase string, phases []string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		PipelinePhase.WithLabelValues(p).Set(v)
	}
}
