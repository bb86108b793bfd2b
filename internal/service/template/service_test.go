package template

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository/memory"
	"github.com/jwalitptl/clinical-scribe/internal/testutil"
	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
)

const catalogYAML = `
fields:
  - loinc_code: "1960-4"
    label: Bicarbonate
    value_type: number
    unit: mmol/L
  - loinc_code: "72166-2"
    label: Tobacco smoking status
    value_type: enum
    options: [Never smoker, Current smoker]
flowsheets:
  - loinc_code: "72109-2"
    label: Social history
    fields: ["72166-2"]
`

func TestReadCatalog(t *testing.T) {
	c, err := ReadCatalog(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.Len(t, c.Fields, 2)
	assert.Equal(t, model.ValueTypeEnum, c.Fields[1].ValueType)
	assert.Equal(t, model.StringList{"Never smoker", "Current smoker"}, c.Fields[1].Options)
	require.Len(t, c.Forms, 1)
	assert.Equal(t, model.StringList{"72166-2"}, c.Forms[0].FieldCodes)

	_, err = ReadCatalog(strings.NewReader("fields:\n  - loinc_code: \"1\"\n    colour: red\n"))
	assert.Error(t, err)

	empty, err := ReadCatalog(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Fields)
}

func TestLoad(t *testing.T) {
	svc := NewService(memory.NewRepositories(memory.NewStore()).Templates, time.Minute)
	ctx := context.Background()

	_, err := svc.GetField(ctx, testutil.Bicarbonate)
	assert.True(t, apperrors.IsNotFound(err))

	summary, err := svc.Load(ctx, testutil.Catalog())
	require.NoError(t, err)
	assert.Equal(t, &LoadSummary{Fields: 5, Flowsheets: 1}, summary)

	field, err := svc.GetField(ctx, testutil.Bicarbonate)
	require.NoError(t, err)
	assert.Equal(t, "mmol/L", field.Unit)

	form, err := svc.GetForm(ctx, testutil.WeightPanel)
	require.NoError(t, err)
	assert.Equal(t, model.StringList{testutil.BodyWeight, testutil.BodyHeight, testutil.BMI}, form.FieldCodes)

	_, err = svc.GetForm(ctx, testutil.Bicarbonate)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLoadRejectsInvalidCatalog(t *testing.T) {
	svc := NewService(memory.NewRepositories(memory.NewStore()).Templates, time.Minute)

	_, err := svc.Load(context.Background(), &model.Catalog{
		Forms: []*model.FormTemplate{{LOINCCode: "3141-9", Label: "Panel", FieldCodes: model.StringList{"29463-7"}}},
	})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.GetForm(context.Background(), "3141-9")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSearch(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := NewService(env.Repos.Templates, time.Minute)
	ctx := context.Background()

	res, err := svc.Search(ctx, "body", nil)
	require.NoError(t, err)
	assert.Len(t, res.Fields, 3)
	require.Len(t, res.Flowsheets, 1)
	assert.Equal(t, testutil.WeightPanel, res.Flowsheets[0].LOINCCode)

	res, err = svc.Search(ctx, "1960", []string{model.CategoryFields})
	require.NoError(t, err)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "Bicarbonate", res.Fields[0].Label)
	assert.Nil(t, res.Flowsheets)

	res, err = svc.Search(ctx, "nothing matches", []string{model.CategoryFlowsheets})
	require.NoError(t, err)
	assert.NotNil(t, res.Flowsheets)
	assert.Empty(t, res.Flowsheets)

	_, err = svc.Search(ctx, "", []string{"panels"})
	assert.True(t, apperrors.IsValidation(err))
}
