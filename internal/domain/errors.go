package domain

import (
	"errors"
	"strings"
)

// ErrUnknownCategory is returned when a request names an unsupported category.
var ErrUnknownCategory = errors.New("unknown enrollment category")

// ValidationError reports applicant fields that are missing or malformed.
// It is raised before any log entry or worker exists.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// Stage returns StageValidation.
func (e *ValidationError) Stage() ErrorStage {
	return StageValidation
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
