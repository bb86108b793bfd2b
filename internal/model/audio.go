package model

import (
	"time"

	"github.com/google/uuid"
)

// AudioRecording is a stored encounter recording belonging to one interaction.
type AudioRecording struct {
	ID            uuid.UUID `json:"id" db:"id"`
	InteractionID uuid.UUID `json:"interaction_id" db:"interaction_id"`
	BlobKey       string    `json:"-" db:"blob_key"`
	FileName      string    `json:"file_name" db:"file_name"`
	ContentType   string    `json:"content_type" db:"content_type"`
	Size          int64     `json:"size" db:"size"`
	Hash          string    `json:"hash" db:"hash"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type TranscriptStatus string

const (
	TranscriptStatusPending  TranscriptStatus = "PENDING"
	TranscriptStatusFinished TranscriptStatus = "FINISHED"
	TranscriptStatusError    TranscriptStatus = "ERROR"
)

// Transcript is the speech-to-text output for exactly one recording.
type Transcript struct {
	Base
	AudioRecordingID uuid.UUID        `json:"audio_recording_id" db:"audio_recording_id"`
	Status           TranscriptStatus `json:"status" db:"status"`
	Text             string           `json:"transcript" db:"transcript"`
	ErrorMessage     *string          `json:"error_message,omitempty" db:"error_message"`
}

// AudioUpload is the result of storing a recording and running the
// transcription and extraction steps that follow it.
type AudioUpload struct {
	Recording  *AudioRecording    `json:"audio_recording"`
	Transcript *Transcript        `json:"transcript,omitempty"`
	Extraction *ExtractionOutcome `json:"extraction,omitempty"`
	// ExtractionError carries a non-fatal extraction failure; the upload itself succeeded.
	ExtractionError string `json:"extraction_error,omitempty"`
}
