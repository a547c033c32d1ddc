package site

import "fmt"

// ParseError reports a configuration document that is not well-formed TOML
// (or could not be read at all).
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a well-formed document with invalid field values.
// Err joins every problem found so a broken config surfaces all of its
// issues in one run.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
