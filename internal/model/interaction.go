package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type InteractionStatus string

const (
	InteractionStatusQueued     InteractionStatus = "QUEUED"
	InteractionStatusValidating InteractionStatus = "VALIDATING"
	InteractionStatusFinished   InteractionStatus = "FINISHED"
)

// Interaction is one clinical encounter under documentation.
type Interaction struct {
	Base
	UserID        uuid.UUID         `json:"user_id" db:"user_id"`
	PatientEHRID  string            `json:"patient_ehr_id" db:"patient_ehr_id"`
	Tags          StringList        `json:"tags" db:"tags"`
	Status        InteractionStatus `json:"status" db:"status"`
	ExtractedData ExtractedData     `json:"extracted_data" db:"extracted_data"`
}

// NewInteraction returns a QUEUED interaction with an empty schema.
func NewInteraction(userID uuid.UUID, patientEHRID string, tags StringList) *Interaction {
	now := time.Now().UTC()
	if tags == nil {
		tags = StringList{}
	}
	return &Interaction{
		Base: Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		UserID:       userID,
		PatientEHRID: patientEHRID,
		Tags:         tags,
		Status:       InteractionStatusQueued,
	}
}

// CategoryTags lists the non-empty schema categories, fields first.
func CategoryTags(hasFields, hasFlowsheets bool) StringList {
	tags := StringList{}
	if hasFields {
		tags = append(tags, CategoryFields)
	}
	if hasFlowsheets {
		tags = append(tags, CategoryFlowsheets)
	}
	return tags
}

// ExtractedData maps field LOINC codes to extracted values. A key mapped to
// nil means the field was part of the schema but not mentioned.
type ExtractedData map[string]interface{}

func (d ExtractedData) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (d *ExtractedData) Scan(src interface{}) error {
	return (*JSONMap)(d).Scan(src)
}

// Form is a flowsheet instantiated from a FormTemplate.
type Form struct {
	ID            uuid.UUID `json:"id" db:"id"`
	InteractionID uuid.UUID `json:"interaction_id" db:"interaction_id"`
	TemplateCode  string    `json:"loinc_code" db:"template_code"`
	Label         string    `json:"label" db:"label"`
	Position      int       `json:"-" db:"position"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	Fields        []*Field  `json:"fields" db:"-"`
}

// Field is a single extractable value instantiated from a FieldTemplate.
// FormID is nil for fields requested directly rather than through a form.
type Field struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	InteractionID uuid.UUID  `json:"interaction_id" db:"interaction_id"`
	FormID        *uuid.UUID `json:"form_id,omitempty" db:"form_id"`
	TemplateCode  string     `json:"loinc_code" db:"template_code"`
	Label         string     `json:"label" db:"label"`
	Position      int        `json:"-" db:"position"`
	Value         FieldValue `json:"value" db:"value"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// FieldValue is a nullable JSON document. An empty value is SQL NULL and JSON null.
type FieldValue json.RawMessage

// NewFieldValue encodes v; a nil v yields the empty (null) value.
func NewFieldValue(v interface{}) (FieldValue, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return FieldValue(b), nil
}

func (v FieldValue) IsNull() bool {
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// Decode returns the value as a plain Go value.
func (v FieldValue) Decode() (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (v FieldValue) Value() (driver.Value, error) {
	if v.IsNull() {
		return nil, nil
	}
	return []byte(v), nil
}

func (v *FieldValue) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*v = nil
	case []byte:
		*v = append(FieldValue(nil), s...)
	case string:
		*v = FieldValue(s)
	default:
		return fmt.Errorf("cannot scan %T into FieldValue", src)
	}
	return nil
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	return v, nil
}

func (v *FieldValue) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*v = nil
		return nil
	}
	*v = append(FieldValue(nil), b...)
	return nil
}

// InteractionDetail is an interaction with its forms and standalone fields.
type InteractionDetail struct {
	*Interaction
	Forms  []*Form  `json:"flowsheets"`
	Fields []*Field `json:"fields"`
}

// AllFields returns standalone fields followed by every form's fields.
func (d *InteractionDetail) AllFields() []*Field {
	out := make([]*Field, 0, len(d.Fields))
	out = append(out, d.Fields...)
	for _, f := range d.Forms {
		out = append(out, f.Fields...)
	}
	return out
}

// SchemaChange describes a replacement of one or both field categories,
// computed by the interaction service and applied atomically by the store.
type SchemaChange struct {
	ReplaceFields bool
	Fields        []*Field
	ReplaceForms  bool
	Forms         []*Form
	Tags          StringList
	Status        InteractionStatus
	// ClearExtracted drops extracted_data and field values that would
	// otherwise describe a schema that no longer exists.
	ClearExtracted bool
}

// ExtractionResult is the all-or-nothing write applied when a job succeeds.
type ExtractionResult struct {
	JobID         uuid.UUID
	InteractionID uuid.UUID
	Data          ExtractedData
	Event         *OutboxEvent
}

// ExtractionOutcome reports a successful extraction. The job record is
// already gone by the time it is returned.
type ExtractionOutcome struct {
	JobID       uuid.UUID    `json:"job_id"`
	Interaction *Interaction `json:"interaction"`
}

// CurrentInteractions groups a user's open interactions by status.
type CurrentInteractions struct {
	Queued     []*Interaction `json:"queued"`
	Validating []*Interaction `json:"validating"`
}

type CreateInteractionRequest struct {
	PatientEHRID string   `json:"patient_ehr_id" binding:"required"`
	FormLOINCs   []string `json:"form_loincs" binding:"omitempty,dive,loinc"`
	FieldLOINCs  []string `json:"field_loincs" binding:"omitempty,dive,loinc"`
	Tags         []string `json:"tags" binding:"omitempty,dive,max=64"`
}

// UpdateInteractionRequest replaces only the categories that are present.
type UpdateInteractionRequest struct {
	Fields     *[]string `json:"fields" binding:"omitempty,dive,loinc"`
	Flowsheets *[]string `json:"flowsheets" binding:"omitempty,dive,loinc"`
}
