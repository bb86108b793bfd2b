package model

import (
	"time"

	"github.com/google/uuid"
)

type ExtractionJobStatus string

const (
	ExtractionJobStatusRunning ExtractionJobStatus = "RUNNING"
	ExtractionJobStatusError   ExtractionJobStatus = "ERROR"
)

// ExtractionJob is the single-flight lock and audit record for one
// extraction attempt. Successful jobs are deleted; failed ones are kept.
type ExtractionJob struct {
	Base
	InteractionID uuid.UUID           `json:"interaction_id" db:"interaction_id"`
	UserID        uuid.UUID           `json:"user_id" db:"user_id"`
	Status        ExtractionJobStatus `json:"status" db:"status"`
	ErrorMessage  *string             `json:"error_message,omitempty" db:"error_message"`
}

// NewExtractionJob returns a RUNNING job ready to be acquired.
func NewExtractionJob(interactionID, userID uuid.UUID) *ExtractionJob {
	now := time.Now().UTC()
	return &ExtractionJob{
		Base: Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		InteractionID: interactionID,
		UserID:        userID,
		Status:        ExtractionJobStatusRunning,
	}
}
