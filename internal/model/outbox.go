package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Event types written to the outbox alongside state transitions.
const (
	EventInteractionReady     = "INTERACTION_READY_FOR_VALIDATION"
	EventInteractionValidated = "INTERACTION_VALIDATED"
	EventExtractionFailed     = "EXTRACTION_FAILED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// InteractionEvent is the payload of every interaction lifecycle event.
type InteractionEvent struct {
	InteractionID uuid.UUID         `json:"interaction_id"`
	UserID        uuid.UUID         `json:"user_id"`
	PatientEHRID  string            `json:"patient_ehr_id"`
	Status        InteractionStatus `json:"status"`
	JobID         *uuid.UUID        `json:"job_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewOutboxEvent builds a pending event for an interaction.
func NewOutboxEvent(eventType string, payload InteractionEvent) (*OutboxEvent, error) {
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   b,
		Status:    OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
