package core

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"mailfan/internal/types"
)

// Validator wraps go-playground/validator for request payload validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct-tag validation enabled.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{validate: v}
}

// ValidateStruct runs the struct's validate tags and converts the first
// failures into a single AppError carrying per-field details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	valErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(valErrs))
	for _, fe := range valErrs {
		details[strings.ToLower(fe.Field())] = violationMessage(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		details,
	)
}

// violationMessage renders one field error as a short human-readable hint.
func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " items or characters"
	case "max":
		return "must have at most " + fe.Param() + " items or characters"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
