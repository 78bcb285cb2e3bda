package domain

import "fmt"

// ValidationError is returned when operator input fails validation.
// It is the only error kind surfaced unmodified to command callers.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}
