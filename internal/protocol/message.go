package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/danmuck/campaignd/internal/wml"
)

// Reply root tags shared by every action.
const (
	TagMessage = "message"
	TagError   = "error"
)

// message is an envelope whose metadata is a single named root tag.
type message struct {
	name string
	data NetworkData
}

func newMessage(name string, body *wml.Config, binary []byte) message {
	meta := wml.New()
	meta.AppendChild(name, body)
	return message{name: name, data: NewNetworkData(meta, binary)}
}

// Body returns the content of the root tag.
func (m *message) Body() *wml.Config {
	body := m.data.Metadata().Child(m.name)
	if body == nil {
		body = m.data.Metadata().AddChild(m.name)
	}
	return body
}

func (m *message) Binary() []byte {
	return m.data.Binary()
}

func (m *message) SetBinary(binary []byte) {
	m.data.SetBinary(binary)
}

// Data exposes the underlying envelope.
func (m *message) Data() *NetworkData {
	return &m.data
}

func (m *message) Buffers() (net.Buffers, error) {
	return Buffers(&m.data)
}

// WriteTo encodes the message onto w.
func (m *message) WriteTo(w io.Writer) (int64, error) {
	return Encode(w, &m.data)
}

// Request is one inbound message keyed by its discriminator.
type Request struct {
	message
}

// NewRequest builds an outbound request; body may be nil.
func NewRequest(name string, body *wml.Config, binary []byte) *Request {
	return &Request{message: newMessage(name, body, binary)}
}

// Name is the discriminator: the root tag name.
func (r *Request) Name() string {
	return r.name
}

// ReadRequest peeks the discriminator from r without consuming it, then decodes
// the whole message. io.EOF means the peer closed cleanly between messages.
func ReadRequest(r *bufio.Reader, limits Limits) (*Request, error) {
	limits = limits.WithDefaults()
	name, err := PeekName(r, limits.MaxTagLen)
	if err != nil {
		return nil, err
	}
	d, err := Decode(r, limits)
	if err != nil {
		// The peeked tag was buffered, so a bare EOF here is a cut metadata section.
		if err == io.EOF {
			return nil, framingError(StageMetadata, ErrTruncated, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	root, _, ok := d.Root()
	if !ok || root != name {
		return nil, framingError(StageDiscriminator, ErrMalformedRequest, fmt.Errorf("peeked %q, parsed %q", name, root))
	}
	return &Request{message: message{name: name, data: *d}}, nil
}

// PeekName skips leading whitespace, then reads the first "[name]" tag through
// Peek so the tag stays buffered for the full parse.
func PeekName(r *bufio.Reader, maxTagLen int) (string, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return "", err
		}
		if b[0] != ' ' && b[0] != '\t' && b[0] != '\r' && b[0] != '\n' {
			break
		}
		if _, err := r.Discard(1); err != nil {
			return "", err
		}
	}

	b, _ := r.Peek(1)
	if b[0] != '[' {
		return "", framingError(StageDiscriminator, ErrMalformedRequest, fmt.Errorf("expected '[', got %q", b[0]))
	}

	limit := maxTagLen + 2
	if limit > r.Size() {
		limit = r.Size()
	}
	for n := 2; n <= limit; n++ {
		buf, err := r.Peek(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", framingError(StageDiscriminator, ErrMalformedRequest, errors.New("unterminated tag"))
			}
			return "", fmt.Errorf("protocol: peek discriminator: %w", err)
		}
		if buf[n-1] != ']' {
			continue
		}
		name := string(buf[1 : n-1])
		if !wml.ValidName(name) {
			return "", framingError(StageDiscriminator, ErrMalformedRequest, fmt.Errorf("invalid tag %q", name))
		}
		return name, nil
	}
	return "", framingError(StageDiscriminator, ErrMalformedRequest, errors.New("tag name too long"))
}

// Reply is one outbound message produced by an action.
type Reply struct {
	message
}

// NewReply builds an empty reply rooted at tag.
func NewReply(tag string) *Reply {
	return &Reply{message: newMessage(tag, nil, nil)}
}

// MessageReply is the plain "[message] message=text" reply.
func MessageReply(text string) *Reply {
	r := NewReply(TagMessage)
	r.Body().Set("message", text)
	return r
}

// ErrorReply is the "[error] message=text" reply.
func ErrorReply(text string) *Reply {
	r := NewReply(TagError)
	r.Body().Set("message", text)
	return r
}

// ReadReply decodes one reply from r.
func ReadReply(r *bufio.Reader, limits Limits) (*Reply, error) {
	d, err := Decode(r, limits)
	if err != nil {
		return nil, err
	}
	tag, _, _ := d.Root()
	return &Reply{message: message{name: tag, data: *d}}, nil
}

// Tag is the reply root tag name.
func (r *Reply) Tag() string {
	return r.name
}

// IsError reports whether the reply is an [error] reply.
func (r *Reply) IsError() bool {
	return r.name == TagError
}
