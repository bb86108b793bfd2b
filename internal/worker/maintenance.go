package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/clinical-scribe/internal/repository"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
)

const (
	abandonedReason           = "job abandoned"
	abandonedTranscriptReason = "transcription abandoned"
)

type MaintenanceConfig struct {
	// ReapSchedule and OutboxCleanupSchedule are cron specs, e.g. "@every 1m".
	ReapSchedule          string
	OutboxCleanupSchedule string
	// JobTimeout is the longest an extraction may legitimately hold its job;
	// Grace is added on top before the job counts as abandoned.
	JobTimeout time.Duration
	// TranscriptTimeout plays the same role for PENDING transcripts.
	TranscriptTimeout time.Duration
	Grace             time.Duration
	OutboxRetention   time.Duration
}

// Maintenance runs the periodic housekeeping tasks. It fails extraction jobs
// and transcripts whose owner died, and prunes relayed outbox rows.
type Maintenance struct {
	jobs        repository.JobRepository
	transcripts repository.TranscriptRepository
	outbox      repository.OutboxRepository
	config      MaintenanceConfig
	cron        *cron.Cron
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewMaintenance(
	jobs repository.JobRepository,
	transcripts repository.TranscriptRepository,
	outbox repository.OutboxRepository,
	config MaintenanceConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Maintenance {
	return &Maintenance{
		jobs:        jobs,
		transcripts: transcripts,
		outbox:      outbox,
		config:      config,
		cron:        cron.New(),
		logger:      logger,
		metrics:     metrics,
	}
}

// Start schedules both tasks and starts the cron runner. Tasks run with ctx.
func (m *Maintenance) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc(m.config.ReapSchedule, func() {
		if _, err := m.ReapAbandoned(ctx); err != nil {
			m.logger.Error(err, "Failed to reap abandoned work")
		}
	}); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", m.config.ReapSchedule, err)
	}

	if _, err := m.cron.AddFunc(m.config.OutboxCleanupSchedule, func() {
		if _, err := m.CleanupOutbox(ctx); err != nil {
			m.logger.Error(err, "Failed to clean up outbox")
		}
	}); err != nil {
		return fmt.Errorf("invalid outbox cleanup schedule %q: %w", m.config.OutboxCleanupSchedule, err)
	}

	m.cron.Start()
	m.logger.Info("Maintenance scheduler started",
		"reap_schedule", m.config.ReapSchedule,
		"outbox_cleanup_schedule", m.config.OutboxCleanupSchedule)
	return nil
}

// Stop stops scheduling and waits for running tasks to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("Maintenance scheduler stopped")
}

// ReapAbandoned marks RUNNING jobs older than timeout plus grace as ERROR,
// which releases the interaction for a new extraction. PENDING transcripts
// are reaped the same way so the recording can be transcribed again. It
// returns the number of jobs and transcripts reaped.
func (m *Maintenance) ReapAbandoned(ctx context.Context) (int64, error) {
	jobs, err := m.reapJobs(ctx)
	if err != nil {
		return 0, err
	}
	transcripts, err := m.reapTranscripts(ctx)
	if err != nil {
		return jobs, err
	}
	return jobs + transcripts, nil
}

func (m *Maintenance) reapTranscripts(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-(m.config.TranscriptTimeout + m.config.Grace))

	n, err := m.transcripts.FailStale(ctx, cutoff, abandonedTranscriptReason)
	if err != nil {
		m.metrics.DatabaseOperations.WithLabelValues("fail_stale_transcripts", "error").Inc()
		return 0, fmt.Errorf("failed to reap abandoned transcripts: %w", err)
	}
	m.metrics.DatabaseOperations.WithLabelValues("fail_stale_transcripts", "success").Inc()

	if n > 0 {
		m.metrics.TranscriptsReaped.Add(float64(n))
		m.logger.Warn("Reaped abandoned transcripts", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (m *Maintenance) reapJobs(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-(m.config.JobTimeout + m.config.Grace))

	n, err := m.jobs.FailStale(ctx, cutoff, abandonedReason)
	if err != nil {
		m.metrics.DatabaseOperations.WithLabelValues("fail_stale_jobs", "error").Inc()
		return 0, fmt.Errorf("failed to reap abandoned jobs: %w", err)
	}
	m.metrics.DatabaseOperations.WithLabelValues("fail_stale_jobs", "success").Inc()

	if n > 0 {
		m.metrics.JobsReaped.Add(float64(n))
		m.logger.Warn("Reaped abandoned extraction jobs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (m *Maintenance) CleanupOutbox(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-m.config.OutboxRetention)

	n, err := m.outbox.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup outbox events: %w", err)
	}

	m.logger.Info("Cleaned up processed outbox events", "count", n, "cutoff", cutoff)
	return n, nil
}
