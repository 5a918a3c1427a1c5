package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/danmuck/campaignd/internal/wml"
)

const (
	maxSizeDigits     = 19
	maxSizeLeadingGap = 1024
)

// Decode reads one message from r. io.EOF is returned untouched when r is
// exhausted before the first byte; every malformed or short message yields a
// *FramingError.
func Decode(r *bufio.Reader, limits Limits) (*NetworkData, error) {
	limits = limits.WithDefaults()

	name, body, err := wml.ReadRoot(r, limits.wmlOptions())
	if err != nil {
		return nil, metadataError(err)
	}
	meta := wml.New()
	meta.AppendChild(name, body)

	size, err := readSizeHeader(r, limits)
	if err != nil {
		return nil, err
	}

	bin := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, bin); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, framingError(StageBinary, ErrTruncated, fmt.Errorf("announced %d bytes: %w", size, err))
			}
			return nil, fmt.Errorf("protocol: read binary: %w", err)
		}
	}

	d := NewNetworkData(meta, bin)
	return &d, nil
}

func metadataError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var perr *wml.ParseError
	if !errors.As(err, &perr) {
		return fmt.Errorf("protocol: read metadata: %w", err)
	}
	switch {
	case errors.Is(err, wml.ErrUnbalancedTag):
		return framingError(StageMetadata, ErrUnbalancedTag, err)
	case errors.Is(err, wml.ErrDepthExceeded):
		return framingError(StageMetadata, ErrDepthExceeded, err)
	case errors.Is(err, wml.ErrTooLarge):
		return framingError(StageMetadata, ErrMetadataTooLarge, err)
	default:
		return framingError(StageMetadata, ErrMalformedMetadata, err)
	}
}

// readSizeHeader skips whitespace after the root tag, then reads ASCII digits
// terminated by "\n" (or "\r\n").
func readSizeHeader(r *bufio.Reader, limits Limits) (int64, error) {
	var c byte
	var err error
	for gap := 0; ; gap++ {
		if gap > maxSizeLeadingGap {
			return 0, framingError(StageSizeHeader, ErrBadSizeHeader, errors.New("too much leading whitespace"))
		}
		c, err = r.ReadByte()
		if err != nil {
			return 0, sizeReadError(err)
		}
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			break
		}
	}

	digits := make([]byte, 0, maxSizeDigits)
	for {
		switch {
		case c >= '0' && c <= '9':
			if len(digits) == maxSizeDigits {
				return 0, framingError(StageSizeHeader, ErrBadSizeHeader, errors.New("too many digits"))
			}
			digits = append(digits, c)
		case c == '\r':
			next, err := r.ReadByte()
			if err != nil {
				return 0, sizeReadError(err)
			}
			if next != '\n' {
				return 0, framingError(StageSizeHeader, ErrBadSizeHeader, fmt.Errorf("unexpected %q after \\r", next))
			}
			return parseSize(digits, limits)
		case c == '\n':
			return parseSize(digits, limits)
		default:
			return 0, framingError(StageSizeHeader, ErrBadSizeHeader, fmt.Errorf("unexpected %q", c))
		}
		c, err = r.ReadByte()
		if err != nil {
			return 0, sizeReadError(err)
		}
	}
}

func parseSize(digits []byte, limits Limits) (int64, error) {
	if len(digits) == 0 {
		return 0, framingError(StageSizeHeader, ErrBadSizeHeader, errors.New("no digits"))
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, framingError(StageSizeHeader, ErrBadSizeHeader, err)
	}
	if n > limits.MaxBinaryBytes {
		return 0, framingError(StageSizeHeader, ErrBinaryTooLarge, fmt.Errorf("announced %d > limit %d", n, limits.MaxBinaryBytes))
	}
	return n, nil
}

func sizeReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return framingError(StageSizeHeader, ErrTruncated, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("protocol: read size header: %w", err)
}
