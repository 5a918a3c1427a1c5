package dispatch

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/campaignd/internal/protocol"
)

// Error categories reported by Category.
const (
	CategoryOK       = "ok"
	CategoryFraming  = "framing"
	CategoryNotFound = "not_found"
	CategoryInvalid  = "invalid"
	CategoryAction   = "action"
	CategoryIO       = "io"
	CategoryClosed   = "closed"
)

// NotFoundError means no action is registered for the request.
type NotFoundError struct {
	Request string
	Err     error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dispatch: unrecognized request %q", e.Request)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// RequestError means the request body failed schema validation.
type RequestError struct {
	Request string
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("dispatch: invalid request %q: %v", e.Request, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ActionError means the action itself failed.
type ActionError struct {
	Request string
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("dispatch: action %q failed: %v", e.Request, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Category maps an exchange error to a short label for logs and metrics.
func Category(err error) string {
	var (
		notFound *NotFoundError
		invalid  *RequestError
		action   *ActionError
	)
	switch {
	case err == nil:
		return CategoryOK
	case protocol.IsFramingError(err):
		return CategoryFraming
	case errors.Is(err, io.EOF):
		return CategoryClosed
	case errors.As(err, &notFound):
		return CategoryNotFound
	case errors.As(err, &invalid):
		return CategoryInvalid
	case errors.As(err, &action):
		return CategoryAction
	default:
		return CategoryIO
	}
}
