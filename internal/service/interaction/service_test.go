package interaction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	templateService "github.com/jwalitptl/clinical-scribe/internal/service/template"
	"github.com/jwalitptl/clinical-scribe/internal/testutil"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/storage"
)

type fixture struct {
	env   *testutil.Env
	blobs *storage.MemoryStore
	svc   *Service
	user  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	env := testutil.NewEnv(t)
	blobs := storage.NewMemoryStore()
	return &fixture{
		env:   env,
		blobs: blobs,
		svc: NewService(
			env.Repos.Interactions,
			env.Repos.Audio,
			templateService.NewService(env.Repos.Templates, time.Minute),
			blobs,
			logger.Nop(),
		),
		user: uuid.New(),
	}
}

// extracted moves a fresh interaction to VALIDATING the way a successful
// extraction would.
func (f *fixture) extracted(t *testing.T, data model.ExtractedData) *model.Interaction {
	ctx := context.Background()
	i := f.env.Interaction(t, f.user, testutil.Bicarbonate)

	job := model.NewExtractionJob(i.ID, f.user)
	require.NoError(t, f.env.Repos.Jobs.Acquire(ctx, job, func(*model.Interaction) error { return nil }))
	updated, err := f.env.Repos.Interactions.ApplyExtraction(ctx, &model.ExtractionResult{
		JobID:         job.ID,
		InteractionID: i.ID,
		Data:          data,
	})
	require.NoError(t, err)
	require.Equal(t, model.InteractionStatusValidating, updated.Status)
	return updated
}

func (f *fixture) finish(t *testing.T, id uuid.UUID) {
	_, err := f.env.Repos.Interactions.Transition(context.Background(), id,
		func(*model.Interaction) error { return nil }, model.InteractionStatusFinished, nil)
	require.NoError(t, err)
}

func codes(fields []*model.Field) []string {
	out := make([]string, len(fields))
	for n, f := range fields {
		out[n] = f.TemplateCode
	}
	return out
}

func TestCreateAndGetDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.user, &model.CreateInteractionRequest{
		PatientEHRID: "EHR-1001",
		FormLOINCs:   []string{testutil.WeightPanel, testutil.WeightPanel},
		FieldLOINCs:  []string{testutil.Bicarbonate, testutil.Smoking, testutil.Bicarbonate},
		Tags:         []string{"follow-up", "follow-up"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusQueued, created.Status)
	assert.Equal(t, model.StringList{"follow-up"}, created.Tags)

	detail, err := f.svc.GetDetail(ctx, f.user, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "EHR-1001", detail.PatientEHRID)
	assert.Equal(t, []string{testutil.Bicarbonate, testutil.Smoking}, codes(detail.Fields))
	require.Len(t, detail.Forms, 1)
	assert.Equal(t, "Body weight and height panel", detail.Forms[0].Label)
	assert.Equal(t, []string{testutil.BodyWeight, testutil.BodyHeight, testutil.BMI}, codes(detail.Forms[0].Fields))
	for _, field := range detail.AllFields() {
		assert.True(t, field.Value.IsNull())
	}
}

func TestCreateUnknownTemplate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.user, &model.CreateInteractionRequest{
		PatientEHRID: "EHR-1",
		FieldLOINCs:  []string{"99999-9"},
	})
	assert.True(t, apperrors.IsNotFound(err))

	current, err := f.svc.Current(context.Background(), f.user)
	require.NoError(t, err)
	assert.Empty(t, current.Queued)
}

func TestOwnerScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	i := f.env.Interaction(t, f.user, testutil.Bicarbonate)
	other := uuid.New()

	_, err := f.svc.Get(ctx, other, i.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.Update(ctx, other, i.ID, &model.UpdateInteractionRequest{Fields: &[]string{}})
	assert.True(t, apperrors.IsNotFound(err))

	assert.True(t, apperrors.IsNotFound(f.svc.Delete(ctx, other, i.ID)))

	_, err = f.svc.Get(ctx, f.user, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpdateReplacesOnlyGivenCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	i := f.env.Interaction(t, f.user, testutil.Bicarbonate)

	detail, err := f.svc.Update(ctx, f.user, i.ID, &model.UpdateInteractionRequest{
		Fields:     &[]string{},
		Flowsheets: &[]string{testutil.WeightPanel},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"flowsheets"}, detail.Tags)
	assert.Empty(t, detail.Fields)
	require.Len(t, detail.Forms, 1)
	assert.Len(t, detail.Forms[0].Fields, 3)

	// flowsheets survive a fields-only update
	detail, err = f.svc.Update(ctx, f.user, i.ID, &model.UpdateInteractionRequest{
		Fields: &[]string{testutil.Smoking},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"fields", "flowsheets"}, detail.Tags)
	assert.Equal(t, []string{testutil.Smoking}, codes(detail.Fields))
	assert.Len(t, detail.Forms, 1)
}

func TestUpdateRequiresACategory(t *testing.T) {
	f := newFixture(t)
	i := f.env.Interaction(t, f.user, testutil.Bicarbonate)

	_, err := f.svc.Update(context.Background(), f.user, i.ID, &model.UpdateInteractionRequest{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpdateFromValidatingRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	i := f.extracted(t, model.ExtractedData{testutil.Bicarbonate: 24.0})

	detail, err := f.svc.Update(ctx, f.user, i.ID, &model.UpdateInteractionRequest{
		Fields: &[]string{testutil.Bicarbonate, testutil.BodyWeight},
	})
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusQueued, detail.Status)
	assert.Nil(t, detail.ExtractedData)
	for _, field := range detail.AllFields() {
		assert.True(t, field.Value.IsNull(), field.TemplateCode)
	}

	_, err = f.svc.GetExtractionResult(ctx, f.user, i.ID)
	assert.True(t, apperrors.IsNotReady(err))
}

func TestFinishedIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	i := f.extracted(t, model.ExtractedData{testutil.Bicarbonate: 24.0})
	f.finish(t, i.ID)

	_, err := f.svc.Update(ctx, f.user, i.ID, &model.UpdateInteractionRequest{Fields: &[]string{testutil.Smoking}})
	assert.True(t, apperrors.IsInvalidState(err))

	_, err = f.svc.Validate(ctx, f.user, i.ID)
	assert.True(t, apperrors.IsInvalidState(err))

	detail, err := f.svc.GetDetail(ctx, f.user, i.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusFinished, detail.Status)
	assert.Equal(t, []string{testutil.Bicarbonate}, codes(detail.Fields))
	assert.Equal(t, model.ExtractedData{testutil.Bicarbonate: 24.0}, detail.ExtractedData)
}

func TestUpdateWhileExtractionRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	i := f.env.Interaction(t, f.user, testutil.Bicarbonate)

	job := model.NewExtractionJob(i.ID, f.user)
	require.NoError(t, f.env.Repos.Jobs.Acquire(ctx, job, func(*model.Interaction) error { return nil }))

	_, err := f.svc.Update(ctx, f.user, i.ID, &model.UpdateInteractionRequest{Fields: &[]string{testutil.Smoking}})
	assert.True(t, apperrors.IsAlreadyInProgress(err))

	detail, err := f.svc.GetDetail(ctx, f.user, i.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.Bicarbonate}, codes(detail.Fields))
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued := f.env.Interaction(t, f.user, testutil.Bicarbonate)
	_, err := f.svc.Validate(ctx, f.user, queued.ID)
	assert.True(t, apperrors.IsInvalidState(err))

	i := f.extracted(t, model.ExtractedData{testutil.Bicarbonate: nil})
	validated, err := f.svc.Validate(ctx, f.user, i.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InteractionStatusFinished, validated.Status)

	events := f.env.Store.OutboxEvents()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.EventInteractionValidated, last.EventType)
	assert.Contains(t, string(last.Payload), i.ID.String())

	history, err := f.svc.History(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, i.ID, history[0].ID)
}

func TestGetExtractionResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued := f.env.Interaction(t, f.user, testutil.Bicarbonate)
	_, err := f.svc.GetExtractionResult(ctx, f.user, queued.ID)
	assert.True(t, apperrors.IsNotReady(err))

	i := f.extracted(t, model.ExtractedData{testutil.Bicarbonate: nil})
	data, err := f.svc.GetExtractionResult(ctx, f.user, i.ID)
	require.NoError(t, err)
	v, ok := data[testutil.Bicarbonate]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued := f.env.Interaction(t, f.user, testutil.Bicarbonate)
	validating := f.extracted(t, model.ExtractedData{testutil.Bicarbonate: 22.0})
	f.env.Interaction(t, uuid.New(), testutil.Bicarbonate)

	current, err := f.svc.Current(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, current.Queued, 1)
	assert.Equal(t, queued.ID, current.Queued[0].ID)
	require.Len(t, current.Validating, 1)
	assert.Equal(t, validating.ID, current.Validating[0].ID)
}

func TestDeleteRemovesRecordings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	i := f.env.Interaction(t, f.user, testutil.Bicarbonate)
	rec := f.env.Recording(t, i.ID)
	_, err := f.blobs.Put(ctx, rec.BlobKey, "audio/wav", strings.NewReader("RIFF"), 0)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.user, i.ID))

	_, err = f.svc.Get(ctx, f.user, i.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.blobs.Open(ctx, rec.BlobKey)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
	_, err = f.env.Repos.Audio.Get(ctx, rec.ID)
	assert.Error(t, err)
}
