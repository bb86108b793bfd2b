package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	scribetest "github.com/jwalitptl/clinical-scribe/internal/testutil"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
)

func testConfig() MaintenanceConfig {
	return MaintenanceConfig{
		ReapSchedule:          "@every 1m",
		OutboxCleanupSchedule: "@every 1h",
		JobTimeout:            90 * time.Second,
		TranscriptTimeout:     5 * time.Minute,
		Grace:                 30 * time.Second,
		OutboxRetention:       24 * time.Hour,
	}
}

func newMaintenance(env *scribetest.Env, m *metrics.Metrics) *Maintenance {
	return NewMaintenance(env.Repos.Jobs, env.Repos.Transcripts, env.Repos.Outbox, testConfig(), logger.Nop(), m)
}

func TestReapAbandoned(t *testing.T) {
	env := scribetest.NewEnv(t)
	ctx := context.Background()
	user := uuid.New()
	m := metrics.New("test")

	stale := env.Interaction(t, user, scribetest.Bicarbonate)
	old := model.NewExtractionJob(stale.ID, user)
	old.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, env.Repos.Jobs.Acquire(ctx, old, func(*model.Interaction) error { return nil }))

	live := env.Interaction(t, user, scribetest.Bicarbonate)
	fresh := model.NewExtractionJob(live.ID, user)
	require.NoError(t, env.Repos.Jobs.Acquire(ctx, fresh, func(*model.Interaction) error { return nil }))

	n, err := newMaintenance(env, m).ReapAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsReaped))

	got, err := env.Repos.Jobs.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionJobStatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "job abandoned", *got.ErrorMessage)

	got, err = env.Repos.Jobs.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionJobStatusRunning, got.Status)

	// the reaped interaction accepts a new job
	retry := model.NewExtractionJob(stale.ID, user)
	assert.NoError(t, env.Repos.Jobs.Acquire(ctx, retry, func(*model.Interaction) error { return nil }))
}

func TestReapAbandonedTranscripts(t *testing.T) {
	env := scribetest.NewEnv(t)
	ctx := context.Background()
	user := uuid.New()
	m := metrics.New("test")
	i := env.Interaction(t, user, scribetest.Bicarbonate)

	done := env.Transcript(t, i.ID, "Bicarbonate was 24.")
	rec := env.Recording(t, i.ID)
	stuck, claimed, err := env.Repos.Transcripts.Claim(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// a PENDING transcript within its timeout is left alone
	n, err := newMaintenance(env, m).ReapAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	cfg := testConfig()
	cfg.TranscriptTimeout = time.Millisecond
	cfg.Grace = 0
	mt := NewMaintenance(env.Repos.Jobs, env.Repos.Transcripts, env.Repos.Outbox, cfg, logger.Nop(), m)
	time.Sleep(5 * time.Millisecond)

	n, err = mt.ReapAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptsReaped))

	got, err := env.Repos.Transcripts.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptStatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "transcription abandoned", *got.ErrorMessage)

	got, err = env.Repos.Transcripts.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptStatusFinished, got.Status)

	// the recording can be transcribed again
	retry, claimed, err := env.Repos.Transcripts.Claim(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, stuck.ID, retry.ID)
}

func TestCleanupOutbox(t *testing.T) {
	env := scribetest.NewEnv(t)
	ctx := context.Background()

	event := func(status model.OutboxStatus, processedAgo time.Duration) {
		e, err := model.NewOutboxEvent(model.EventInteractionValidated, model.InteractionEvent{InteractionID: uuid.New()})
		require.NoError(t, err)
		e.Status = status
		if processedAgo > 0 {
			at := time.Now().UTC().Add(-processedAgo)
			e.ProcessedAt = &at
		}
		require.NoError(t, env.Repos.Outbox.Create(ctx, e))
	}
	event(model.OutboxStatusProcessed, 48*time.Hour)
	event(model.OutboxStatusProcessed, time.Hour)
	event(model.OutboxStatusPending, 0)
	event(model.OutboxStatusFailed, 0)

	n, err := newMaintenance(env, metrics.New("test")).CleanupOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, env.Store.OutboxEvents(), 3)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	env := scribetest.NewEnv(t)
	mt := NewMaintenance(env.Repos.Jobs, env.Repos.Transcripts, env.Repos.Outbox, MaintenanceConfig{
		ReapSchedule:          "every minute",
		OutboxCleanupSchedule: "@every 1h",
	}, logger.Nop(), metrics.New("test"))

	assert.Error(t, mt.Start(context.Background()))
}
