package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vitals = []FieldSpec{
	{Code: "29463-7", Label: "Body weight", ValueType: "number", Unit: "kg"},
	{Code: "8302-2", Label: "Body height", ValueType: "number", Unit: "cm"},
	{Code: "72166-2", Label: "Tobacco smoking status", ValueType: "enum", Options: []string{"Never", "Former", "Current"}},
}

func TestBuildSchema(t *testing.T) {
	schema := BuildSchema(vitals)

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"29463-7", "8302-2", "72166-2"}, schema["required"])

	props := schema["properties"].(map[string]interface{})
	weight := props["29463-7"].(map[string]interface{})
	assert.Equal(t, []string{"number", "null"}, weight["type"])
	assert.Equal(t, "Body weight (kg)", weight["description"])

	smoking := props["72166-2"].(map[string]interface{})
	assert.Equal(t, []interface{}{"Never", "Former", "Current", nil}, smoking["enum"])
}

func TestExtract(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"{\"29463-7\":82.5,\"8302-2\":null,\"72166-2\":\"Never\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "key", BaseURL: srv.URL})
	out, err := c.Extract(context.Background(), "Patient weighs 82.5 kg and has never smoked.", vitals)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"29463-7": 82.5, "8302-2": nil, "72166-2": "Never"}, out)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, "json_schema", got.ResponseFormat["type"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Patient weighs 82.5 kg and has never smoked.", got.Messages[1].Content)
}

func TestExtractMalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"not json"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "key", BaseURL: srv.URL})
	_, err := c.Extract(context.Background(), "text", vitals)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestExtractAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "key", BaseURL: srv.URL})
	_, err := c.Extract(context.Background(), "text", vitals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestExtractRequiresKey(t *testing.T) {
	c := NewOpenAIClient(Config{})
	_, err := c.Extract(context.Background(), "text", vitals)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)

		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "key", BaseURL: srv.URL})
	out, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
}
