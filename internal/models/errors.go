package models

import (
	"errors"
	"fmt"
	"strings"
)

// UnsupportedFormatError reports an input that is not a recognized tabular
// or document format. The batch never starts.
type UnsupportedFormatError struct {
	Name   string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported file format: %q", e.Name)
	}
	return fmt.Sprintf("unsupported file format: %q: %s", e.Name, e.Reason)
}

// MissingColumnError reports that the required record-key column is absent.
type MissingColumnError struct {
	Column    string
	Available []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("required column %q not found (have: %s)", e.Column, strings.Join(e.Available, ", "))
}

// InvalidRecordsError lists the rows rejected under strict validation.
type InvalidRecordsError struct {
	Column string
	Rows   []int
}

func (e *InvalidRecordsError) Error() string {
	rows := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		rows[i] = fmt.Sprint(r)
	}
	return fmt.Sprintf("%d row(s) have an empty %q: rows %s", len(e.Rows), e.Column, strings.Join(rows, ", "))
}

// TemplateParseError reports template bytes that are not a word document.
type TemplateParseError struct {
	Name string
	Err  error
}

func (e *TemplateParseError) Error() string {
	return fmt.Sprintf("failed to parse template %q: %v", e.Name, e.Err)
}

func (e *TemplateParseError) Unwrap() error { return e.Err }

// SerializationError reports a document that could not be written back to
// bytes after substitution.
type SerializationError struct {
	Record string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize document for %q: %v", e.Record, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConversionError reports a failed secondary-format rendering for one record.
// It is recovered locally by the pipeline.
type ConversionError struct {
	Record   string
	Renderer string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s conversion failed for %q: %v", e.Renderer, e.Record, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// DuplicateKeyError is returned when two records map to the same archive
// name and the collision policy forbids it.
type DuplicateKeyError struct {
	Name string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate output name %q", e.Name)
}

// InvalidRequestError reports a malformed request: a missing upload, a bad
// URI or an unknown option value.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// IsInputError reports whether err stems from bad caller input rather than
// an infrastructure failure.
func IsInputError(err error) bool {
	var (
		unsupported *UnsupportedFormatError
		missing     *MissingColumnError
		invalid     *InvalidRecordsError
		parse       *TemplateParseError
		duplicate   *DuplicateKeyError
		request     *InvalidRequestError
	)
	return errors.As(err, &unsupported) ||
		errors.As(err, &missing) ||
		errors.As(err, &invalid) ||
		errors.As(err, &parse) ||
		errors.As(err, &duplicate) ||
		errors.As(err, &request)
}
