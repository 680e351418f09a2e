package normalizer

import (
	"errors"
	"fmt"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

// ErrMalformedInput is matched by every *MalformedInputError.
var ErrMalformedInput = errors.New("malformed input")

// MalformedInputError describes the field that could not be normalized.
type MalformedInputError struct {
	Source model.Source
	Field  string
	Value  string
	Err    error
}

func malformed(source model.Source, field, value string, err error) *MalformedInputError {
	return &MalformedInputError{Source: source, Field: field, Value: value, Err: err}
}

func (e *MalformedInputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("malformed %s input: %s missing", e.Source, e.Field)
	}
	return fmt.Sprintf("malformed %s input: %s %q: %v", e.Source, e.Field, e.Value, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedInput) hold.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}
