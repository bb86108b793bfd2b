// Package llm wraps the language model calls used for structured field
// extraction and transcript embeddings.
package llm

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured     = errors.New("language model provider is not configured")
	ErrMalformedResponse = errors.New("malformed model response")
)

// FieldSpec describes one value the model is asked to fill in.
type FieldSpec struct {
	Code        string
	Label       string
	ValueType   string
	Unit        string
	Options     []string
	Description string
}

// Extractor fills the given fields from a transcript. The result has one key
// per field code; fields the transcript does not mention map to nil.
type Extractor interface {
	Extract(ctx context.Context, transcript string, fields []FieldSpec) (map[string]interface{}, error)
}

// Embedder returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, transcript string, fields []FieldSpec) (map[string]interface{}, error)

func (f ExtractorFunc) Extract(ctx context.Context, transcript string, fields []FieldSpec) (map[string]interface{}, error) {
	return f(ctx, transcript, fields)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
