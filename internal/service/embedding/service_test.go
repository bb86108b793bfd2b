package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/testutil"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
	"github.com/jwalitptl/clinical-scribe/pkg/llm"
	"github.com/jwalitptl/clinical-scribe/pkg/textsplit"
)

// topicEmbedder maps text onto two axes: smoking and everything else.
var topicEmbedder = llm.EmbedderFunc(func(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for n, t := range texts {
		if strings.Contains(strings.ToLower(t), "smok") {
			out[n] = []float32{1, 0}
		} else {
			out[n] = []float32{0, 1}
		}
	}
	return out, nil
})

func TestGenerateAndSearch(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Smoking)
	env.Transcript(t, i.ID, "Weight is 82 kg")
	env.Transcript(t, i.ID, "She never smoked")

	svc := NewService(env.Repos, topicEmbedder, textsplit.New(20, 0))
	ctx := context.Background()

	embeddings, err := svc.Generate(ctx, user, i.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(embeddings), 2)
	for n, e := range embeddings {
		assert.Equal(t, n, e.Position)
		assert.LessOrEqual(t, len(e.Document), 20)
		assert.Len(t, e.Vector.Slice(), 2)
	}

	matches, err := svc.Search(ctx, user, i.ID, "smoking history", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Document, "smoked")
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)

	all, err := svc.Search(ctx, user, i.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, len(embeddings))

	// regenerating replaces rather than appends
	again, err := svc.Generate(ctx, user, i.ID)
	require.NoError(t, err)
	all, err = svc.Search(ctx, user, i.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, len(again))
}

func TestGenerateWithoutTranscript(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Smoking)

	svc := NewService(env.Repos, topicEmbedder, textsplit.New(200, 0))
	_, err := svc.Generate(context.Background(), user, i.ID)
	assert.True(t, apperrors.IsNotReady(err))

	_, err = svc.Generate(context.Background(), uuid.New(), i.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEmbedderFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	user := uuid.New()
	i := env.Interaction(t, user, testutil.Smoking)
	env.Transcript(t, i.ID, "She never smoked")

	broken := llm.EmbedderFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("quota exceeded")
	})
	svc := NewService(env.Repos, broken, textsplit.New(200, 0))

	_, err := svc.Generate(context.Background(), user, i.ID)
	assert.True(t, apperrors.IsExtractionFailure(err))

	short := llm.EmbedderFunc(func(context.Context, []string) ([][]float32, error) {
		return [][]float32{}, nil
	})
	svc = NewService(env.Repos, short, textsplit.New(200, 0))
	_, err = svc.Generate(context.Background(), user, i.ID)
	assert.True(t, apperrors.IsExtractionFailure(err))
}
