package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueType is the expected shape of a field's extracted value.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeInteger ValueType = "integer"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeDate    ValueType = "date"
	ValueTypeEnum    ValueType = "enum"
)

func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeString, ValueTypeNumber, ValueTypeInteger, ValueTypeBoolean, ValueTypeDate, ValueTypeEnum:
		return true
	}
	return false
}

// Template categories as exposed by the search endpoint and used as interaction tags.
const (
	CategoryFields     = "fields"
	CategoryFlowsheets = "flowsheets"
)

// FieldTemplate is immutable catalog data describing one extractable value.
type FieldTemplate struct {
	LOINCCode   string     `json:"loinc_code" db:"loinc_code" yaml:"loinc_code"`
	Label       string     `json:"label" db:"label" yaml:"label"`
	ValueType   ValueType  `json:"value_type" db:"value_type" yaml:"value_type"`
	Unit        string     `json:"unit,omitempty" db:"unit" yaml:"unit"`
	Options     StringList `json:"options,omitempty" db:"options" yaml:"options"`
	Description string     `json:"description,omitempty" db:"description" yaml:"description"`
}

// FormTemplate (a flowsheet) groups an ordered set of field templates.
type FormTemplate struct {
	LOINCCode   string     `json:"loinc_code" db:"loinc_code" yaml:"loinc_code"`
	Label       string     `json:"label" db:"label" yaml:"label"`
	Description string     `json:"description,omitempty" db:"description" yaml:"description"`
	FieldCodes  StringList `json:"field_codes" db:"field_codes" yaml:"fields"`
}

// Catalog is the on-disk shape of the template seed file.
type Catalog struct {
	Fields []*FieldTemplate `yaml:"fields"`
	Forms  []*FormTemplate  `yaml:"flowsheets"`
}

// Validate checks the catalog for internal consistency: unique codes, known
// value types and forms that only reference fields present in the catalog.
func (c *Catalog) Validate() error {
	fields := make(map[string]*FieldTemplate, len(c.Fields))
	for _, f := range c.Fields {
		if strings.TrimSpace(f.LOINCCode) == "" {
			return fmt.Errorf("field template with empty loinc code")
		}
		if _, dup := fields[f.LOINCCode]; dup {
			return fmt.Errorf("duplicate field template %s", f.LOINCCode)
		}
		if !f.ValueType.Valid() {
			return fmt.Errorf("field template %s: unknown value type %q", f.LOINCCode, f.ValueType)
		}
		if f.ValueType == ValueTypeEnum && len(f.Options) == 0 {
			return fmt.Errorf("field template %s: enum without options", f.LOINCCode)
		}
		fields[f.LOINCCode] = f
	}

	forms := make(map[string]struct{}, len(c.Forms))
	for _, f := range c.Forms {
		if strings.TrimSpace(f.LOINCCode) == "" {
			return fmt.Errorf("form template with empty loinc code")
		}
		if _, dup := forms[f.LOINCCode]; dup {
			return fmt.Errorf("duplicate form template %s", f.LOINCCode)
		}
		forms[f.LOINCCode] = struct{}{}
		for _, code := range f.FieldCodes {
			if _, ok := fields[code]; !ok {
				return fmt.Errorf("form template %s references unknown field %s", f.LOINCCode, code)
			}
		}
	}
	return nil
}

// Integers beyond 2^53 cannot be represented exactly by a float64.
const maxExactInteger = 1 << 53

// Normalize coerces a raw extracted value into the template's value type.
// A nil value is always valid and means the field was not mentioned.
func (t *FieldTemplate) Normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t.ValueType {
	case ValueTypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, bool, json.Number:
			return fmt.Sprint(x), nil
		}
	case ValueTypeNumber:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case json.Number:
			n, err := x.Float64()
			if err != nil {
				return nil, err
			}
			f = n
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %q is not a number", t.LOINCCode, x)
			}
			f = n
		default:
			return nil, fmt.Errorf("field %s: expected number, got %T", t.LOINCCode, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("field %s: %v is not a finite number", t.LOINCCode, f)
		}
		return f, nil
	case ValueTypeInteger:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case json.Number:
			n, err := x.Float64()
			if err != nil {
				return nil, err
			}
			f = n
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %q is not an integer", t.LOINCCode, x)
			}
			f = n
		default:
			return nil, fmt.Errorf("field %s: expected integer, got %T", t.LOINCCode, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Errorf("field %s: %v is not an integer", t.LOINCCode, f)
		}
		if math.Abs(f) > maxExactInteger {
			return nil, fmt.Errorf("field %s: %v is out of range", t.LOINCCode, f)
		}
		return int64(f), nil
	case ValueTypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		}
	case ValueTypeDate:
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if _, err := time.Parse(time.DateOnly, s); err == nil {
				return s, nil
			}
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				return ts.Format(time.DateOnly), nil
			}
		}
	case ValueTypeEnum:
		if s, ok := v.(string); ok {
			for _, opt := range t.Options {
				if strings.EqualFold(opt, strings.TrimSpace(s)) {
					return opt, nil
				}
			}
			return nil, fmt.Errorf("field %s: %q is not one of %v", t.LOINCCode, s, []string(t.Options))
		}
	default:
		return nil, fmt.Errorf("field %s: unknown value type %q", t.LOINCCode, t.ValueType)
	}
	return nil, fmt.Errorf("field %s: cannot use %v (%T) as %s", t.LOINCCode, v, v, t.ValueType)
}

// NewField instantiates t for an interaction. formID is nil for a standalone field.
func (t *FieldTemplate) NewField(interactionID uuid.UUID, formID *uuid.UUID, position int) *Field {
	now := time.Now().UTC()
	return &Field{
		ID:            uuid.New(),
		InteractionID: interactionID,
		FormID:        formID,
		TemplateCode:  t.LOINCCode,
		Label:         t.Label,
		Position:      position,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewForm instantiates t and generates one field per member template.
// members must be the templates of t.FieldCodes, in order.
func (t *FormTemplate) NewForm(interactionID uuid.UUID, position int, members []*FieldTemplate) *Form {
	form := &Form{
		ID:            uuid.New(),
		InteractionID: interactionID,
		TemplateCode:  t.LOINCCode,
		Label:         t.Label,
		Position:      position,
		CreatedAt:     time.Now().UTC(),
		Fields:        make([]*Field, 0, len(members)),
	}
	for n, m := range members {
		form.Fields = append(form.Fields, m.NewField(interactionID, &form.ID, n))
	}
	return form
}
