package wml

import (
	"errors"
	"fmt"
)

var (
	ErrUnbalancedTag = errors.New("wml: unbalanced tag")
	ErrSyntax        = errors.New("wml: syntax error")
	ErrDepthExceeded = errors.New("wml: nesting depth exceeded")
	ErrTooLarge      = errors.New("wml: document too large")
	ErrInvalidName   = errors.New("wml: invalid name")
	ErrEmpty         = errors.New("wml: empty document")
)

// ParseError locates a parse failure in the input.
type ParseError struct {
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v (line %d)", e.Err, e.Line)
	}
	return fmt.Sprintf("%v: %s (line %d)", e.Err, e.Reason, e.Line)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
