package wml

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	DefaultMaxDepth  = 64
	DefaultMaxTagLen = 256
)

// Options caps parser resource use. Zero fields take defaults; MaxBytes 0 means unlimited.
type Options struct {
	MaxDepth  int
	MaxTagLen int
	MaxBytes  int64
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxTagLen <= 0 {
		o.MaxTagLen = DefaultMaxTagLen
	}
	return o
}

// Parse reads a whole document until EOF. Top-level attributes and any number of
// top-level tags are allowed.
func Parse(r io.Reader, opts Options) (*Config, error) {
	bs, ok := r.(io.ByteScanner)
	if !ok {
		bs = bufio.NewReader(r)
	}
	p := newParser(bs, opts)
	return p.parse(false)
}

// ParseString parses s with default options.
func ParseString(s string) (*Config, error) {
	return Parse(strings.NewReader(s), Options{})
}

// ReadRoot reads exactly one root tag from r and stops right after the bracket
// that closes it, leaving every following byte unread. It returns the root tag
// name and its body. io.EOF is returned only when r is exhausted before any byte.
func ReadRoot(r io.ByteScanner, opts Options) (string, *Config, error) {
	p := newParser(r, opts)
	top, err := p.parse(true)
	if err != nil {
		return "", nil, err
	}
	children := top.Children()
	if len(children) != 1 {
		return "", nil, p.fail(ErrEmpty, "no root tag")
	}
	return children[0].Name, children[0].Config, nil
}

type openTag struct {
	name string
	cfg  *Config
}

type parser struct {
	r    io.ByteScanner
	opts Options
	n    int64
	line int
	last byte
}

func newParser(r io.ByteScanner, opts Options) *parser {
	return &parser{r: r, opts: opts.withDefaults(), line: 1}
}

func (p *parser) fail(err error, reason string) error {
	return &ParseError{Line: p.line, Reason: reason, Err: err}
}

func (p *parser) next() (byte, error) {
	c, err := p.r.ReadByte()
	if err != nil {
		return 0, err
	}
	p.n++
	if p.opts.MaxBytes > 0 && p.n > p.opts.MaxBytes {
		return 0, p.fail(ErrTooLarge, fmt.Sprintf("limit %d bytes", p.opts.MaxBytes))
	}
	if c == '\n' {
		p.line++
	}
	p.last = c
	return c, nil
}

func (p *parser) unread() {
	if err := p.r.UnreadByte(); err != nil {
		return
	}
	p.n--
	if p.last == '\n' {
		p.line--
	}
}

func (p *parser) parse(root bool) (*Config, error) {
	top := New()
	stack := []openTag{{cfg: top}}
	for {
		c, err := p.skipSpace()
		if errors.Is(err, io.EOF) {
			if len(stack) > 1 {
				return nil, p.fail(ErrUnbalancedTag, fmt.Sprintf("unclosed [%s] at end of input", stack[len(stack)-1].name))
			}
			if root {
				if p.n == 0 {
					return nil, io.EOF
				}
				return nil, p.fail(ErrEmpty, "no root tag")
			}
			return top, nil
		}
		if err != nil {
			return nil, err
		}

		cur := stack[len(stack)-1]
		switch {
		case c == '#':
			if err := p.skipLine(); err != nil {
				return nil, err
			}
		case c == '[':
			name, closing, err := p.readTag()
			if err != nil {
				return nil, err
			}
			if closing {
				if len(stack) == 1 {
					return nil, p.fail(ErrUnbalancedTag, fmt.Sprintf("[/%s] without opening tag", name))
				}
				if name != cur.name {
					return nil, p.fail(ErrUnbalancedTag, fmt.Sprintf("[/%s] closes [%s]", name, cur.name))
				}
				stack = stack[:len(stack)-1]
				if root && len(stack) == 1 {
					return top, nil
				}
				continue
			}
			if len(stack)-1 >= p.opts.MaxDepth {
				return nil, p.fail(ErrDepthExceeded, fmt.Sprintf("limit %d", p.opts.MaxDepth))
			}
			stack = append(stack, openTag{name: name, cfg: cur.cfg.AddChild(name)})
		case isNameByte(c):
			if root && len(stack) == 1 {
				return nil, p.fail(ErrSyntax, "attribute outside root tag")
			}
			p.unread()
			key, value, err := p.readAttribute()
			if err != nil {
				return nil, err
			}
			cur.cfg.Set(key, value)
		default:
			return nil, p.fail(ErrSyntax, fmt.Sprintf("unexpected character %q", c))
		}
	}
}

func (p *parser) skipSpace() (byte, error) {
	for {
		c, err := p.next()
		if err != nil {
			return 0, err
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return c, nil
		}
	}
}

func (p *parser) skipLine() error {
	for {
		c, err := p.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c == '\n' {
			return nil
		}
	}
}

// readTag reads after '[' up to and including ']'.
func (p *parser) readTag() (string, bool, error) {
	var sb strings.Builder
	for {
		c, err := p.next()
		if errors.Is(err, io.EOF) {
			return "", false, p.fail(ErrUnbalancedTag, "unterminated tag at end of input")
		}
		if err != nil {
			return "", false, err
		}
		if c == ']' {
			break
		}
		if c == '\n' {
			return "", false, p.fail(ErrSyntax, "newline inside tag")
		}
		if sb.Len() >= p.opts.MaxTagLen {
			return "", false, p.fail(ErrSyntax, "tag name too long")
		}
		sb.WriteByte(c)
	}
	raw := sb.String()
	closing := strings.HasPrefix(raw, "/")
	name := strings.TrimPrefix(raw, "/")
	if !ValidName(name) {
		return "", false, p.fail(ErrSyntax, fmt.Sprintf("invalid tag name %q", raw))
	}
	return name, closing, nil
}

func (p *parser) readAttribute() (string, string, error) {
	var key strings.Builder
	for {
		c, err := p.next()
		if err != nil && !errors.Is(err, io.EOF) {
			return "", "", err
		}
		if err != nil || !isNameByte(c) {
			if err == nil {
				p.unread()
			}
			break
		}
		key.WriteByte(c)
	}

	c, err := p.skipInline()
	if err != nil || c != '=' {
		return "", "", p.fail(ErrSyntax, fmt.Sprintf("expected '=' after key %q", key.String()))
	}

	c, err = p.skipInline()
	if errors.Is(err, io.EOF) {
		return key.String(), "", nil
	}
	if err != nil {
		return "", "", err
	}
	switch c {
	case '\n':
		return key.String(), "", nil
	case '"':
		value, err := p.readQuoted()
		if err != nil {
			return "", "", err
		}
		if err := p.expectLineEnd(); err != nil {
			return "", "", err
		}
		return key.String(), value, nil
	default:
		p.unread()
		value, err := p.readLine()
		if err != nil {
			return "", "", err
		}
		return key.String(), value, nil
	}
}

// skipInline skips spaces and tabs on the current line.
func (p *parser) skipInline() (byte, error) {
	for {
		c, err := p.next()
		if err != nil {
			return 0, err
		}
		if c != ' ' && c != '\t' {
			return c, nil
		}
	}
}

func (p *parser) readQuoted() (string, error) {
	var sb strings.Builder
	for {
		c, err := p.next()
		if errors.Is(err, io.EOF) {
			return "", p.fail(ErrSyntax, "unterminated quoted value")
		}
		if err != nil {
			return "", err
		}
		if c != '"' {
			sb.WriteByte(c)
			continue
		}
		nc, err := p.next()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if nc == '"' {
			sb.WriteByte('"')
			continue
		}
		p.unread()
		return sb.String(), nil
	}
}

func (p *parser) expectLineEnd() error {
	for {
		c, err := p.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch c {
		case ' ', '\t', '\r':
			continue
		case '\n':
			return nil
		case '#':
			return p.skipLine()
		default:
			return p.fail(ErrSyntax, fmt.Sprintf("unexpected %q after quoted value", c))
		}
	}
}

func (p *parser) readLine() (string, error) {
	var sb strings.Builder
	for {
		c, err := p.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if c == '\n' {
			break
		}
		sb.WriteByte(c)
	}
	return strings.TrimSpace(sb.String()), nil
}
