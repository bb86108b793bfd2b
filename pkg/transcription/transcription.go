// Package transcription turns stored encounter audio into text.
package transcription

import (
	"context"
	"errors"
	"io"
)

var ErrNotConfigured = errors.New("transcription provider is not configured")

// Transcriber converts a complete audio stream to a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, contentType string) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio io.Reader, contentType string) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio io.Reader, contentType string) (string, error) {
	return f(ctx, audio, contentType)
}
