package core

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"airtime/internal/types"
)

// Validator wraps go-playground/validator with domain rules and translates
// field errors into the structured error envelope.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator and registers custom tags.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// model: realtime model identifiers as issued by the provider, e.g.
	// "gpt-realtime" or "gpt-4o-realtime-preview".
	_ = v.RegisterValidation("model", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" || len(s) > 128 {
			return false
		}
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			default:
				return false
			}
		}
		return true
	})

	return &Validator{validate: v}
}

// ValidateStruct validates dst against its struct tags. On failure it returns
// a *types.AppError with per-field details suitable for the client.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[strings.ToLower(fe.Field())] = validationMessage(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		nil,
		details,
	)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "model":
		return "must be a valid model identifier"
	case "max":
		return "exceeds maximum length " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed validation rule: " + fe.Tag()
	}
}
