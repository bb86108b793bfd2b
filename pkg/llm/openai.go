package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You extract structured clinical data from the transcript of a patient encounter.
Fill in every field of the schema using only facts stated in the transcript.
Use null for any field the transcript does not mention. Never guess or infer values.
Report numbers in the unit given in the field description. Dates use YYYY-MM-DD.`

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// OpenAIClient implements Extractor with structured outputs and Embedder
// with the embeddings endpoint.
type OpenAIClient struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	client         *http.Client
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAIClient{
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
}

var (
	_ Extractor = (*OpenAIClient)(nil)
	_ Embedder  = (*OpenAIClient)(nil)
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string                 `json:"model"`
	Messages       []chatMessage          `json:"messages"`
	Temperature    float64                `json:"temperature"`
	ResponseFormat map[string]interface{} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) Extract(ctx context.Context, transcript string, fields []FieldSpec) (map[string]interface{}, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
		ResponseFormat: map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "clinical_extraction",
				"strict": true,
				"schema": BuildSchema(fields),
			},
		},
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("model refused extraction: %s", choice.Message.Refusal)
	}
	if choice.FinishReason == "length" {
		return nil, fmt.Errorf("%w: output truncated", ErrMalformedResponse)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(choice.Message.Content), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// BuildSchema returns a strict JSON schema with one nullable property per field.
func BuildSchema(fields []FieldSpec) map[string]interface{} {
	properties := make(map[string]interface{}, len(fields))
	required := make([]string, 0, len(fields))

	for _, f := range fields {
		prop := map[string]interface{}{
			"description": describe(f),
		}
		switch f.ValueType {
		case "number":
			prop["type"] = []string{"number", "null"}
		case "integer":
			prop["type"] = []string{"integer", "null"}
		case "boolean":
			prop["type"] = []string{"boolean", "null"}
		case "enum":
			prop["type"] = []string{"string", "null"}
			enum := make([]interface{}, 0, len(f.Options)+1)
			for _, o := range f.Options {
				enum = append(enum, o)
			}
			prop["enum"] = append(enum, nil)
		default:
			prop["type"] = []string{"string", "null"}
		}
		properties[f.Code] = prop
		required = append(required, f.Code)
	}

	return map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func describe(f FieldSpec) string {
	var b strings.Builder
	b.WriteString(f.Label)
	if f.Unit != "" {
		fmt.Fprintf(&b, " (%s)", f.Unit)
	}
	if f.ValueType == "date" {
		b.WriteString(", formatted YYYY-MM-DD")
	}
	if f.Description != "" {
		b.WriteString(". ")
		b.WriteString(f.Description)
	}
	return b.String()
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embeddingModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrMalformedResponse, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrMalformedResponse, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
