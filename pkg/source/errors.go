package source

import (
	"errors"
	"fmt"
)

// Sentinel errors for input resolution.
var (
	// ErrNotFound indicates the file or object does not exist.
	ErrNotFound = errors.New("input not found")

	// ErrAccessDenied indicates insufficient permissions to read the input.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoMatch indicates a glob that matched nothing.
	ErrNoMatch = errors.New("pattern matched no files")

	// ErrNotCSV indicates an input the server would reject by extension.
	ErrNotCSV = errors.New("not a .csv file")

	// ErrInvalidURI indicates a malformed s3:// URI.
	ErrInvalidURI = errors.New("invalid s3 uri")
)

// SourceError wraps a resolution failure with the input that caused it.
type SourceError struct {
	// Op is the operation that failed (e.g., "Stat", "HeadObject", "List").
	Op string

	// Input is the locator as given by the caller.
	Input string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Input, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing input.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoMatch)
}

// IsAccessDenied returns true if the error indicates a permission failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
