// Package client speaks the campaignd protocol over one connection.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/campaignd/internal/protocol"
	"github.com/danmuck/campaignd/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrClosed          = errors.New("client: connection closed")
)

// ServerError is an "[error]" reply from the server.
type ServerError struct {
	Request string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("client: server rejected %s: %s", e.Request, e.Message)
}

// Client runs request/reply exchanges one at a time on a single connection.
type Client struct {
	cfg    session.Config
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to addr, retrying with backoff up to
// cfg.MaxConnectAttempts times.
func Dial(ctx context.Context, addr string, cfg session.Config) (*Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		conn, err := dial(ctx, addr, cfg)
		if err == nil {
			return New(conn, cfg), nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("addr", addr).Msg("client.Dial")
		if attempt >= cfg.MaxConnectAttempts || ctx.Err() != nil {
			return nil, err
		}
		if err := cfg.Backoff.Wait(ctx, attempt, rng); err != nil {
			return nil, err
		}
	}
}

// New wraps an established connection.
func New(conn net.Conn, cfg session.Config) *Client {
	return &Client{cfg: cfg.WithDefaults(), conn: conn, reader: bufio.NewReader(conn)}
}

func dial(ctx context.Context, addr string, cfg session.Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// Do sends req and reads one reply. An "[error]" reply is returned as a
// *ServerError alongside the reply itself; the server hangs up after one, so
// the client closes its side and later calls return ErrClosed.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrClosed
	}

	writeBy := time.Now().Add(c.cfg.WriteTimeout)
	readBy := writeBy.Add(c.cfg.ReadTimeout)
	if dl, ok := ctx.Deadline(); ok {
		if dl.Before(writeBy) {
			writeBy = dl
		}
		if dl.Before(readBy) {
			readBy = dl
		}
	}
	_ = c.conn.SetWriteDeadline(writeBy)
	_ = c.conn.SetReadDeadline(readBy)

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := req.WriteTo(c.conn); err != nil {
		return nil, fmt.Errorf("client: write %s: %w", req.Name(), ctxErr(ctx, err))
	}
	reply, err := protocol.ReadReply(c.reader, c.cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("client: read reply to %s: %w", req.Name(), ctxErr(ctx, err))
	}
	if reply.IsError() {
		_ = c.conn.Close()
		c.conn = nil
		return reply, &ServerError{Request: req.Name(), Message: reply.Body().Attr("message")}
	}
	return reply, nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
