package form

import (
	"errors"
	"fmt"
)

// ConfigurationError marks a broken form schema: bad expression syntax,
// duplicate field names, dangling aliases. This is a camp-author bug, it is
// never shown to registrants and never retried.
type ConfigurationError struct {
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "form configuration: " + e.Detail + ": " + e.Err.Error()
	}
	return "form configuration: " + e.Detail
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrorf(err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...), Err: err}
}

type ErrorKind string

const (
	ErrUnknownField ErrorKind = "unknown_field"
	ErrRequired     ErrorKind = "required"
	ErrValidator    ErrorKind = "validator"
	ErrPanelCount   ErrorKind = "panel_count"
	ErrFieldType    ErrorKind = "invalid_type"
	ErrFile         ErrorKind = "file"
)

type FieldError struct {
	Field   string    `json:"field"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ValidationErrors carries every field-level failure of one submission, so
// the caller can render all problems at once instead of the first.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return fmt.Sprintf("form validation failed: %s: %s", v[0].Field, v[0].Message)
	}
	return fmt.Sprintf("form validation failed with %d errors", len(v))
}

// File tokens submitted with a registration resolve against these.
var (
	ErrFileNotFound = errors.New("pending file not found")
	ErrFileAssigned = errors.New("file already assigned to a registration")
)
