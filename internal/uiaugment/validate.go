// Package uiaugment manages the request/response lifecycle for
// human-in-the-loop steps: structured requests created by agents, validated
// responses from users, and expiry of requests nobody answered.
package uiaugment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// FieldError describes a single field's validation failure.
type FieldError struct {
	// Field is the form data key that failed.
	Field string `json:"field"`
	// Message states what was wrong.
	Message string `json:"message"`
}

// ValidationError aggregates field-level failures for one submission.
// Submissions failing validation are rejected synchronously with this
// detail, never silently dropped.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("%v: %s", models.ErrValidation, strings.Join(parts, "; "))
}

// Unwrap lets callers match with errors.Is(err, models.ErrValidation).
func (e *ValidationError) Unwrap() error {
	return models.ErrValidation
}

// validateFormData checks submitted values against the request's field
// definitions. Unknown keys are rejected; required fields must be present
// and non-empty; pattern and length rules apply to string values.
func validateFormData(req *models.UIAugmentationRequest, formData map[string]any) error {
	var errs []FieldError

	for key := range formData {
		if req.Field(key) == nil {
			errs = append(errs, FieldError{Field: key, Message: "unknown field"})
		}
	}

	for _, section := range req.FormSections {
		for _, field := range section.Fields {
			val, present := formData[field.Name]
			str, isStr := val.(string)

			if !present || (isStr && str == "") {
				if field.Required {
					errs = append(errs, FieldError{Field: field.Name, Message: "required"})
				}
				continue
			}

			if !isStr {
				continue // Non-string values skip string rules.
			}

			if field.MinLength > 0 && len(str) < field.MinLength {
				errs = append(errs, FieldError{
					Field:   field.Name,
					Message: fmt.Sprintf("shorter than minimum length %d", field.MinLength),
				})
			}
			if field.MaxLength > 0 && len(str) > field.MaxLength {
				errs = append(errs, FieldError{
					Field:   field.Name,
					Message: fmt.Sprintf("longer than maximum length %d", field.MaxLength),
				})
			}
			if field.Pattern != "" {
				re, err := regexp.Compile(field.Pattern)
				if err != nil {
					errs = append(errs, FieldError{Field: field.Name, Message: "invalid pattern in field definition"})
				} else if !re.MatchString(str) {
					errs = append(errs, FieldError{Field: field.Name, Message: "does not match required pattern"})
				}
			}
			if len(field.Options) > 0 && !containsString(field.Options, str) {
				errs = append(errs, FieldError{Field: field.Name, Message: "not an allowed option"})
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// hasRequiredFields reports whether any section declares a required field.
// Requests with required fields are non-skippable on expiry.
func hasRequiredFields(req *models.UIAugmentationRequest) bool {
	for _, section := range req.FormSections {
		for _, field := range section.Fields {
			if field.Required {
				return true
			}
		}
	}
	return false
}

// containsString reports whether list contains s.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
