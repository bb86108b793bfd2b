package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	templateService "github.com/jwalitptl/clinical-scribe/internal/service/template"
	"github.com/jwalitptl/clinical-scribe/internal/testutil"
	"github.com/jwalitptl/clinical-scribe/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/llm"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
)

// storedTranscripts hands back whatever transcript the recording already has.
type storedTranscripts struct {
	repo repository.TranscriptRepository
}

func (p storedTranscripts) EnsureTranscript(ctx context.Context, rec *model.AudioRecording) (*model.Transcript, error) {
	return p.repo.GetByAudio(ctx, rec.ID)
}

func newService(t *testing.T, env *testutil.Env, extractor llm.Extractor, timeout time.Duration) *Service {
	t.Helper()
	return NewService(
		env.Repos,
		templateService.NewService(env.Repos.Templates, time.Minute),
		storedTranscripts{repo: env.Repos.Transcripts},
		extractor,
		circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: t.Name()}),
		Config{Timeout: timeout},
		logger.Nop(),
		metrics.New("test"),
	)
}

func staticExtractor(out map[string]interface{}) llm.Extractor {
	return llm.ExtractorFunc(func(context.Context, string, []llm.FieldSpec) (map[string]interface{}, error) {
		return out, nil
	})
}

// lateRecording adds a PENDING transcript on the given ListByInteraction call.
type lateRecording struct {
	repository.TranscriptRepository
	env   *testutil.Env
	t     *testing.T
	on    int
	calls int
}

func (r *lateRecording) ListByInteraction(ctx context.Context, interactionID uuid.UUID) ([]*model.Transcript, error) {
	r.calls++
	if r.calls == r.on {
		rec := r.env.Recording(r.t, interactionID)
		_, claimed, err := r.TranscriptRepository.Claim(ctx, rec.ID)
		require.NoError(r.t, err)
		require.True(r.t, claimed)
	}
	return r.TranscriptRepository.ListByInteraction(ctx, interactionID)
}

func lastEvent(t *testing.T, env *testutil.Env) *model.OutboxEvent {
	t.Helper()
	events := env.Store.OutboxEvents()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func TestExtract(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate, testutil.Smoking, testutil.BodyWeight)
	env.Transcript(t, i.ID, "Bicarbonate came back at 24.")
	time.Sleep(time.Millisecond)
	env.Transcript(t, i.ID, "She has never smoked.")

	var gotText string
	var gotCodes []string
	svc := newService(t, env, llm.ExtractorFunc(func(_ context.Context, text string, fields []llm.FieldSpec) (map[string]interface{}, error) {
		gotText = text
		for _, f := range fields {
			gotCodes = append(gotCodes, f.Code)
		}
		return map[string]interface{}{
			testutil.Bicarbonate: 24.0,
			testutil.Smoking:     "never smoker",
			"8480-6":             120.0,
		}, nil
	}), time.Second)

	outcome, err := svc.Extract(context.Background(), user, i.ID)
	require.NoError(t, err)

	assert.Equal(t, "Bicarbonate came back at 24.\n\nShe has never smoked.", gotText)
	assert.Equal(t, []string{testutil.Bicarbonate, testutil.Smoking, testutil.BodyWeight}, gotCodes)

	assert.Equal(t, model.InteractionStatusValidating, outcome.Interaction.Status)
	assert.Equal(t, model.ExtractedData{
		testutil.Bicarbonate: 24.0,
		testutil.Smoking:     "Never smoker",
		testutil.BodyWeight:  nil,
	}, outcome.Interaction.ExtractedData)

	// the lock is released together with the write
	_, err = env.Repos.Jobs.Get(context.Background(), outcome.JobID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	detail, err := env.Repos.Interactions.GetDetail(context.Background(), i.ID)
	require.NoError(t, err)
	for _, f := range detail.Fields {
		v, err := f.Value.Decode()
		require.NoError(t, err)
		assert.Equal(t, outcome.Interaction.ExtractedData[f.TemplateCode], v, f.TemplateCode)
	}

	assert.Equal(t, model.EventInteractionReady, lastEvent(t, env).EventType)
}

func TestExtractPreconditions(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	svc := newService(t, env, staticExtractor(map[string]interface{}{}), time.Second)
	ctx := context.Background()

	t.Run("unknown interaction", func(t *testing.T) {
		_, err := svc.Extract(ctx, user, uuid.New())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("someone else's interaction", func(t *testing.T) {
		i := env.Interaction(t, uuid.New(), testutil.Bicarbonate)
		env.Transcript(t, i.ID, "text")
		_, err := svc.Extract(ctx, user, i.ID)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("empty schema", func(t *testing.T) {
		i := env.Interaction(t, user)
		env.Transcript(t, i.ID, "text")
		_, err := svc.Extract(ctx, user, i.ID)
		assert.True(t, apperrors.IsInvalidState(err))
	})

	t.Run("no transcript", func(t *testing.T) {
		i := env.Interaction(t, user, testutil.Bicarbonate)
		_, err := svc.Extract(ctx, user, i.ID)
		assert.True(t, apperrors.IsNotReady(err))

		jobs, err := env.Repos.Jobs.ListByInteraction(ctx, i.ID)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("pending transcript", func(t *testing.T) {
		i := env.Interaction(t, user, testutil.Bicarbonate)
		rec := env.Recording(t, i.ID)
		_, _, err := env.Repos.Transcripts.Claim(ctx, rec.ID)
		require.NoError(t, err)

		_, err = svc.Extract(ctx, user, i.ID)
		assert.True(t, apperrors.IsNotReady(err))
	})

	t.Run("not queued", func(t *testing.T) {
		i := env.Interaction(t, user, testutil.Bicarbonate)
		env.Transcript(t, i.ID, "text")
		_, err := svc.Extract(ctx, user, i.ID)
		require.NoError(t, err)

		_, err = svc.Extract(ctx, user, i.ID)
		assert.True(t, apperrors.IsInvalidState(err))

		_, err = env.Repos.Interactions.Transition(ctx, i.ID, func(*model.Interaction) error { return nil }, model.InteractionStatusFinished, nil)
		require.NoError(t, err)
		_, err = svc.Extract(ctx, user, i.ID)
		assert.True(t, apperrors.IsInvalidState(err))
	})
}

func TestExtractSingleFlight(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate)
	env.Transcript(t, i.ID, "Bicarbonate 24.")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	svc := newService(t, env, llm.ExtractorFunc(func(context.Context, string, []llm.FieldSpec) (map[string]interface{}, error) {
		once.Do(func() { close(started) })
		<-release
		return map[string]interface{}{testutil.Bicarbonate: 24.0}, nil
	}), 5*time.Second)

	type result struct {
		outcome *model.ExtractionOutcome
		err     error
	}
	first := make(chan result, 1)
	go func() {
		o, err := svc.Extract(context.Background(), user, i.ID)
		first <- result{o, err}
	}()
	<-started

	_, err := svc.Extract(context.Background(), user, i.ID)
	assert.True(t, apperrors.IsAlreadyInProgress(err))

	close(release)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, model.InteractionStatusValidating, r.outcome.Interaction.Status)
}

func TestExtractFailureKeepsJob(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate)
	env.Transcript(t, i.ID, "Bicarbonate 24.")
	ctx := context.Background()

	failing := newService(t, env, llm.ExtractorFunc(func(context.Context, string, []llm.FieldSpec) (map[string]interface{}, error) {
		return nil, errors.New("upstream 503")
	}), time.Second)

	_, err := failing.Extract(ctx, user, i.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsExtractionFailure(err))

	got, err := env.Repos.Interactions.Get(ctx, i.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusQueued, got.Status)
	assert.Nil(t, got.ExtractedData)

	jobs, err := env.Repos.Jobs.ListByInteraction(ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.ExtractionJobStatusError, jobs[0].Status)
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Equal(t, "language model call failed", *jobs[0].ErrorMessage)
	assert.Equal(t, model.EventExtractionFailed, lastEvent(t, env).EventType)

	// a failed job does not hold the lock
	ok := newService(t, env, staticExtractor(map[string]interface{}{testutil.Bicarbonate: 23.0}), time.Second)
	outcome, err := ok.Extract(ctx, user, i.ID)
	require.NoError(t, err)
	assert.Equal(t, 23.0, outcome.Interaction.ExtractedData[testutil.Bicarbonate])
}

func TestExtractTimeout(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate)
	env.Transcript(t, i.ID, "Bicarbonate 24.")

	svc := newService(t, env, llm.ExtractorFunc(func(ctx context.Context, _ string, _ []llm.FieldSpec) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 20*time.Millisecond)

	_, err := svc.Extract(context.Background(), user, i.ID)
	assert.True(t, apperrors.IsExtractionFailure(err))

	jobs, err := env.Repos.Jobs.ListByInteraction(context.Background(), i.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.ExtractionJobStatusError, jobs[0].Status)
	assert.Equal(t, reasonTimeout, *jobs[0].ErrorMessage)
}

func TestExtractRejectsUnusableValues(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate, testutil.Smoking)
	env.Transcript(t, i.ID, "Bicarbonate 24, vapes daily.")

	svc := newService(t, env, staticExtractor(map[string]interface{}{
		testutil.Bicarbonate: 24.0,
		testutil.Smoking:     "Vaper",
	}), time.Second)

	_, err := svc.Extract(context.Background(), user, i.ID)
	assert.True(t, apperrors.IsExtractionFailure(err))

	detail, err := env.Repos.Interactions.GetDetail(context.Background(), i.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusQueued, detail.Status)
	for _, f := range detail.AllFields() {
		assert.True(t, f.Value.IsNull(), f.TemplateCode)
	}
}

func TestExtractSchemaKeysOnly(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate)
	env.Transcript(t, i.ID, "Patient feels fine.")
	ctx := context.Background()

	svc := newService(t, env, staticExtractor(map[string]interface{}{}), time.Second)
	outcome, err := svc.Extract(ctx, user, i.ID)
	require.NoError(t, err)

	assert.Equal(t, model.InteractionStatusValidating, outcome.Interaction.Status)
	require.Len(t, outcome.Interaction.ExtractedData, 1)
	v, ok := outcome.Interaction.ExtractedData[testutil.Bicarbonate]
	assert.True(t, ok)
	assert.Nil(t, v)

	_, err = env.Repos.Jobs.Get(ctx, outcome.JobID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	jobs, err := env.Repos.Jobs.ListByInteraction(ctx, i.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestExtractRejectsOutOfRangeValues(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate)
	env.Transcript(t, i.ID, "Bicarbonate off the charts.")

	svc := newService(t, env, staticExtractor(map[string]interface{}{testutil.Bicarbonate: "Inf"}), time.Second)
	_, err := svc.Extract(context.Background(), user, i.ID)
	assert.True(t, apperrors.IsExtractionFailure(err))

	jobs, err := env.Repos.Jobs.ListByInteraction(context.Background(), i.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "model returned unusable data", *jobs[0].ErrorMessage)
}

func TestExtractRechecksTranscriptsUnderLock(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate)
	env.Transcript(t, i.ID, "Bicarbonate 24.")
	ctx := context.Background()

	repos := *env.Repos
	repos.Transcripts = &lateRecording{TranscriptRepository: env.Repos.Transcripts, env: env, t: t, on: 2}
	called := false
	svc := NewService(
		&repos,
		templateService.NewService(env.Repos.Templates, time.Minute),
		storedTranscripts{repo: env.Repos.Transcripts},
		llm.ExtractorFunc(func(context.Context, string, []llm.FieldSpec) (map[string]interface{}, error) {
			called = true
			return map[string]interface{}{}, nil
		}),
		circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: t.Name()}),
		Config{Timeout: time.Second},
		logger.Nop(),
		metrics.New("test"),
	)

	_, err := svc.Extract(ctx, user, i.ID)
	assert.True(t, apperrors.IsNotReady(err))
	assert.False(t, called)

	got, err := env.Repos.Interactions.Get(ctx, i.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusQueued, got.Status)

	jobs, err := env.Repos.Jobs.ListByInteraction(ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.ExtractionJobStatusError, jobs[0].Status)
	assert.Equal(t, model.EventExtractionFailed, lastEvent(t, env).EventType)
}

func TestExtractJobReapedMidway(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Bicarbonate)
	env.Transcript(t, i.ID, "Bicarbonate 24.")

	svc := newService(t, env, llm.ExtractorFunc(func(ctx context.Context, _ string, _ []llm.FieldSpec) (map[string]interface{}, error) {
		_, err := env.Repos.Jobs.FailStale(ctx, time.Now().Add(time.Hour), "job abandoned")
		return map[string]interface{}{testutil.Bicarbonate: 24.0}, err
	}), time.Second)

	_, err := svc.Extract(context.Background(), user, i.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsExtractionFailure(err))
	assert.ErrorIs(t, err, repository.ErrJobNotRunning)

	got, err := env.Repos.Interactions.Get(context.Background(), i.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusQueued, got.Status)
}

func TestExtractFromAudioRecording(t *testing.T) {
	ctx := context.Background()

	t.Run("extracts a queued interaction", func(t *testing.T) {
		env := testutil.NewEnv(t)
		user := uuid.New()
		i := env.Interaction(t, user, testutil.Bicarbonate)
		tr := env.Transcript(t, i.ID, "Bicarbonate 24.")

		svc := newService(t, env, staticExtractor(map[string]interface{}{testutil.Bicarbonate: 24.0}), time.Second)
		upload, err := svc.ExtractFromAudioRecording(ctx, user, tr.AudioRecordingID)
		require.NoError(t, err)
		assert.Equal(t, tr.ID, upload.Transcript.ID)
		require.NotNil(t, upload.Extraction)
		assert.Equal(t, model.InteractionStatusValidating, upload.Extraction.Interaction.Status)
		assert.Empty(t, upload.ExtractionError)
	})

	t.Run("reports extraction failure without failing", func(t *testing.T) {
		env := testutil.NewEnv(t)
		user := uuid.New()
		i := env.Interaction(t, user)
		tr := env.Transcript(t, i.ID, "Nothing to see.")

		svc := newService(t, env, staticExtractor(nil), time.Second)
		upload, err := svc.ExtractFromAudioRecording(ctx, user, tr.AudioRecordingID)
		require.NoError(t, err)
		assert.Nil(t, upload.Extraction)
		assert.Contains(t, upload.ExtractionError, "no fields or flowsheets")
	})

	t.Run("skips interactions past QUEUED", func(t *testing.T) {
		env := testutil.NewEnv(t)
		user := uuid.New()
		i := env.Interaction(t, user, testutil.Bicarbonate)
		tr := env.Transcript(t, i.ID, "Bicarbonate 24.")
		_, err := env.Repos.Interactions.Transition(ctx, i.ID, func(*model.Interaction) error { return nil }, model.InteractionStatusValidating, nil)
		require.NoError(t, err)

		svc := newService(t, env, staticExtractor(nil), time.Second)
		upload, err := svc.ExtractFromAudioRecording(ctx, user, tr.AudioRecordingID)
		require.NoError(t, err)
		assert.Nil(t, upload.Extraction)
		assert.Empty(t, upload.ExtractionError)
	})

	t.Run("hides other users' recordings", func(t *testing.T) {
		env := testutil.NewEnv(t)
		i := env.Interaction(t, uuid.New(), testutil.Bicarbonate)
		tr := env.Transcript(t, i.ID, "Bicarbonate 24.")

		svc := newService(t, env, staticExtractor(nil), time.Second)
		_, err := svc.ExtractFromAudioRecording(ctx, uuid.New(), tr.AudioRecordingID)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
