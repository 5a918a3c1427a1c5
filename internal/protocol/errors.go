package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnbalancedTag     = errors.New("protocol: unbalanced tag")
	ErrMalformedMetadata = errors.New("protocol: malformed metadata")
	ErrDepthExceeded     = errors.New("protocol: metadata nesting too deep")
	ErrMetadataTooLarge  = errors.New("protocol: metadata too large")
	ErrBadSizeHeader     = errors.New("protocol: invalid size header")
	ErrBinaryTooLarge    = errors.New("protocol: binary payload too large")
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrMalformedRequest  = errors.New("protocol: malformed request")
	ErrInvalidEnvelope   = errors.New("protocol: invalid envelope")
)

// Decode stages reported by FramingError.
const (
	StageDiscriminator = "discriminator"
	StageMetadata      = "metadata"
	StageSizeHeader    = "size header"
	StageBinary        = "binary"
)

// FramingError is any decode failure caused by the bytes on the wire. It is
// always fatal for the current exchange.
type FramingError struct {
	Stage string
	Err   error
	Cause error
}

func (e *FramingError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v (%s)", e.Err, e.Stage)
	}
	return fmt.Sprintf("%v (%s): %v", e.Err, e.Stage, e.Cause)
}

func (e *FramingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func framingError(stage string, err error, cause error) error {
	return &FramingError{Stage: stage, Err: err, Cause: cause}
}

// IsFramingError reports whether err carries a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}
