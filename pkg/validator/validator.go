// Package validator provides struct validation with the engine's custom tags.
package validator

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
)

// envKeyRegex matches POSIX environment variable names.
var envKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// selectorPartRegex matches one chapter, requirement or check identifier.
// Underscores are excluded because the parts are joined with them.
var selectorPartRegex = regexp.MustCompile(`^[A-Za-z0-9.\-]+$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("semver_constraint", validateSemverConstraint)
	_ = v.RegisterValidation("env_key", validateEnvKey)
	_ = v.RegisterValidation("selector_part", validateSelectorPart)
	_ = v.RegisterValidation("pull_policy", validatePullPolicy)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}
	return result
}

func validateSemverConstraint(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	_, err := semver.NewConstraint(value)
	return err == nil
}

func validateEnvKey(fl validator.FieldLevel) bool {
	return envKeyRegex.MatchString(fl.Field().String())
}

func validateSelectorPart(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return selectorPartRegex.MatchString(value)
}

func validatePullPolicy(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "Always", "IfNotPresent", "Never":
		return true
	default:
		return false
	}
}

func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "semver_constraint":
		return "must be a valid version constraint (e.g. ^1.2)"
	case "env_key":
		return "must be a valid environment variable name"
	case "selector_part":
		return "may only contain letters, digits, dots and hyphens"
	case "pull_policy":
		return "must be one of: Always, IfNotPresent, Never"
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
