// Package testutil builds seeded in-memory stores for service and handler tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	"github.com/jwalitptl/clinical-scribe/internal/repository/memory"
)

// Catalog codes used across tests.
const (
	Bicarbonate = "1960-4"
	BodyWeight  = "29463-7"
	BodyHeight  = "8302-2"
	BMI         = "39156-5"
	Smoking     = "72166-2"
	WeightPanel = "3141-9"
)

func Catalog() *model.Catalog {
	return &model.Catalog{
		Fields: []*model.FieldTemplate{
			{LOINCCode: Bicarbonate, Label: "Bicarbonate", ValueType: model.ValueTypeNumber, Unit: "mmol/L"},
			{LOINCCode: BodyWeight, Label: "Body weight", ValueType: model.ValueTypeNumber, Unit: "kg"},
			{LOINCCode: BodyHeight, Label: "Body height", ValueType: model.ValueTypeNumber, Unit: "cm"},
			{LOINCCode: BMI, Label: "Body mass index", ValueType: model.ValueTypeNumber, Unit: "kg/m2"},
			{
				LOINCCode: Smoking,
				Label:     "Tobacco smoking status",
				ValueType: model.ValueTypeEnum,
				Options:   model.StringList{"Never smoker", "Former smoker", "Current smoker"},
			},
		},
		Forms: []*model.FormTemplate{
			{LOINCCode: WeightPanel, Label: "Body weight and height panel", FieldCodes: model.StringList{BodyWeight, BodyHeight, BMI}},
		},
	}
}

// Env is a memory store seeded with Catalog.
type Env struct {
	Store *memory.Store
	Repos *repository.Repositories
}

func NewEnv(t testing.TB) *Env {
	t.Helper()

	store := memory.NewStore()
	repos := memory.NewRepositories(store)
	ctx := context.Background()
	c := Catalog()
	for _, f := range c.Fields {
		require.NoError(t, repos.Templates.UpsertField(ctx, f))
	}
	for _, f := range c.Forms {
		require.NoError(t, repos.Templates.UpsertForm(ctx, f))
	}
	return &Env{Store: store, Repos: repos}
}

// Interaction stores a QUEUED interaction with one standalone field per code.
func (e *Env) Interaction(t testing.TB, userID uuid.UUID, fieldCodes ...string) *model.Interaction {
	t.Helper()

	ctx := context.Background()
	i := model.NewInteraction(userID, "EHR-"+uuid.NewString()[:8], model.CategoryTags(len(fieldCodes) > 0, false))
	fields := make([]*model.Field, 0, len(fieldCodes))
	for n, code := range fieldCodes {
		tmpl, err := e.Repos.Templates.GetField(ctx, code)
		require.NoError(t, err)
		fields = append(fields, tmpl.NewField(i.ID, nil, n))
	}
	require.NoError(t, e.Repos.Interactions.Create(ctx, &model.InteractionDetail{
		Interaction: i,
		Forms:       []*model.Form{},
		Fields:      fields,
	}))
	return i
}

// Recording stores an audio recording row without a blob.
func (e *Env) Recording(t testing.TB, interactionID uuid.UUID) *model.AudioRecording {
	t.Helper()

	id := uuid.New()
	rec := &model.AudioRecording{
		ID:            id,
		InteractionID: interactionID,
		BlobKey:       interactionID.String() + "/" + id.String(),
		FileName:      "visit.wav",
		ContentType:   "audio/wav",
		Size:          4,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, e.Repos.Audio.Create(context.Background(), rec))
	return rec
}

// Transcript stores a recording with a FINISHED transcript of text.
func (e *Env) Transcript(t testing.TB, interactionID uuid.UUID, text string) *model.Transcript {
	t.Helper()

	ctx := context.Background()
	rec := e.Recording(t, interactionID)
	tr, claimed, err := e.Repos.Transcripts.Claim(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, e.Repos.Transcripts.Complete(ctx, tr.ID, text))

	tr, err = e.Repos.Transcripts.Get(ctx, tr.ID)
	require.NoError(t, err)
	return tr
}
