// Package extract turns fetched platform responses into structured records:
// account search and listing JSON, and article HTML normalized to portable
// Markdown-like text.
package extract

import "fmt"

// ParseError represents a response that could not be parsed at all. Pages
// that parse but lack fields are not errors; they are flagged on the record.
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
