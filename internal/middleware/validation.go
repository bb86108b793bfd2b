package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/clinical-scribe/pkg/errors"
)

// LOINC codes are digits, a hyphen and a single check digit.
var loincPattern = regexp.MustCompile(`^[0-9]{1,7}-[0-9]$`)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationConfig represents validation configuration
type ValidationConfig struct {
	CustomValidators    map[string]validator.Func
	CustomErrorMessages map[string]string
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomValidators: map[string]validator.Func{
			"loinc": ValidateLOINC,
		},
		CustomErrorMessages: map[string]string{
			"required": "Field is required",
			"loinc":    "Invalid LOINC code",
			"min":      "Value is too short",
			"max":      "Value is too long",
			"oneof":    "Value is not allowed",
		},
	}
}

// ValidateLOINC checks a string field against the LOINC code format.
func ValidateLOINC(fl validator.FieldLevel) bool {
	return loincPattern.MatchString(fl.Field().String())
}

// Validator owns gin's binding validator and turns its errors into
// ValidationError API errors.
type Validator struct {
	messages map[string]string
}

// RegisterValidation installs the custom tags on gin's validator and makes
// reported field names follow the json tags. It must run before routes
// bind any request.
func RegisterValidation(config ValidationConfig) (*Validator, error) {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil, errors.New("unexpected binding validator engine")
	}

	for tag, fn := range config.CustomValidators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{messages: config.CustomErrorMessages}, nil
}

// Fields lists the failures in a binding error, or nil for any other error.
func (v *Validator) Fields(err error) []ValidationError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}

	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		msg := v.messages[e.Tag()]
		if msg == "" {
			msg = e.Error()
		}
		out = append(out, ValidationError{Field: e.Field(), Message: msg})
	}
	return out
}

// BindingError wraps a request binding failure as a validation AppError.
func (v *Validator) BindingError(err error) error {
	fields := v.Fields(err)
	if len(fields) == 0 {
		return apperrors.NewValidation("invalid request body", err)
	}

	parts := make([]string, len(fields))
	for n, f := range fields {
		parts[n] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return apperrors.NewValidation(strings.Join(parts, "; "), nil)
}
