package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Extraction metrics
	ExtractionJobs     *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	ExtractionsRunning prometheus.Gauge
	JobsReaped         prometheus.Counter

	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	TranscriptsReaped     prometheus.Counter

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics with the default registry
func NewMetrics(namespace, subsystem string) *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer), namespace, subsystem)
}

// New creates unregistered metrics, used by tests and short-lived commands
func New(namespace string) *Metrics {
	return newMetrics(promauto.With(nil), namespace, "")
}

func newMetrics(f promauto.Factory, namespace, subsystem string) *Metrics {
	return &Metrics{
		ExtractionJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "extraction_jobs_total",
			Help:      "Extraction attempts partitioned by outcome",
		}, []string{"outcome"}),
		ExtractionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent in the language model extraction call",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}),
		ExtractionsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "extractions_running",
			Help:      "Extractions currently holding a job lock in this process",
		}),
		JobsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "extraction_jobs_reaped_total",
			Help:      "Abandoned RUNNING jobs moved to ERROR by the reaper",
		}),
		TranscriptsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transcripts_reaped_total",
			Help:      "Abandoned PENDING transcripts moved to ERROR by the reaper",
		}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transcriptions_total",
			Help:      "Transcription attempts partitioned by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transcription_duration_seconds",
			Help:      "Time spent streaming audio to the transcription provider",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
