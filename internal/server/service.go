// Package server accepts client connections and runs request/reply exchanges
// on each of them through a dispatch.Dispatcher.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/campaignd/internal/dispatch"
	"github.com/danmuck/campaignd/internal/observability"
	"github.com/danmuck/campaignd/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Config is the listener configuration for one campaignd instance.
type Config struct {
	ListenAddr      string
	AdminListenAddr string
	// AdminToken, when set, is required as a bearer token on /metrics.
	AdminToken      string
	Session         session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":15000",
		Session:    session.DefaultConfig(),
	}
}

// Service owns the session listener, the optional admin HTTP listener and
// every open client connection.
type Service struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher

	addrMu    sync.Mutex
	addr      net.Addr
	adminAddr net.Addr

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	handles sync.WaitGroup

	clientCount atomic.Int64
}

func NewService(cfg Config, d *dispatch.Dispatcher) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{
		cfg:        cfg,
		dispatcher: d,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Addr is the bound session address once Run or Serve has started.
func (s *Service) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// AdminAddr is the bound admin address once Run has started it.
func (s *Service) AdminAddr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.adminAddr
}

// ActiveClients is the number of open client connections.
func (s *Service) ActiveClients() int64 {
	return s.clientCount.Load()
}

// Run listens on the configured addresses and blocks until ctx is cancelled,
// SIGINT/SIGTERM arrives, or a listener fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	ln, err := s.listen()
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Bool("tls", s.cfg.Session.TLS.Enabled).
		Str("security_mode", string(s.cfg.Session.SecurityMode)).
		Msg("server.Run listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		g.Go(func() error {
			return s.serveAdmin(gctx, addr)
		})
	}
	return g.Wait()
}

// listen opens the session listener over TCP or TLS.
func (s *Service) listen() (net.Listener, error) {
	if !s.cfg.Session.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve accepts connections on ln until ctx is cancelled. On shutdown every
// open connection is closed and Serve waits for their handlers to return.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdown <- multierr.Append(ignoreClosed(ln.Close()), s.closeAllConns())
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			closeErr := s.closeAllConns()
			s.handles.Wait()
			if errors.Is(err, net.ErrClosed) {
				return closeErr
			}
			_ = ln.Close()
			return multierr.Append(err, closeErr)
		}
		s.trackConn(conn)
		s.handles.Add(1)
		go s.handleConn(ctx, conn)
	}

	// A connection accepted while shutdown was closing the others is caught here.
	err := multierr.Append(<-shutdown, s.closeAllConns())
	s.handles.Wait()
	log.Info().Msg("server.Serve stopped")
	return err
}

// handleConn runs exchanges on one connection until the peer closes it, an
// exchange fails, or the per-connection request bound is reached.
func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer s.handles.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	id := uuid.NewString()
	logger := log.With().Str("conn", id).Str("remote", conn.RemoteAddr().String()).Logger()
	active := s.clientCount.Add(1)
	observability.SessionOpened()
	logger.Info().Int64("active_clients", active).Msg("server.session connected")
	served := 0
	defer func() {
		remaining := s.clientCount.Add(-1)
		observability.SessionClosed()
		logger.Info().Int("exchanges", served).Int64("active_clients", remaining).Msg("server.session disconnected")
	}()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		hctx, cancel := context.WithTimeout(ctx, s.cfg.Session.HandshakeTimeout)
		err := tlsConn.HandshakeContext(hctx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("server.session tls handshake failed")
			return
		}
		if peer := session.PeerIdentity(conn); peer != "" {
			logger = logger.With().Str("peer", peer).Logger()
		}
	}
	ctx = logger.WithContext(ctx)

	reader := bufio.NewReader(countingReader{r: conn})
	limit := s.cfg.Session.MaxRequestsPerConn
	for limit == 0 || served < limit {
		if ctx.Err() != nil {
			return
		}
		readBy := time.Now().Add(s.cfg.Session.ReadTimeout)
		_ = conn.SetReadDeadline(readBy)
		_ = conn.SetWriteDeadline(readBy.Add(s.cfg.Session.WriteTimeout))

		err := s.dispatcher.Dispatch(ctx, reader, conn)
		if errors.Is(err, io.EOF) && dispatch.Category(err) == dispatch.CategoryClosed {
			logger.Debug().Msg("server.session peer closed")
			return
		}
		served++
		if err != nil {
			logger.Warn().Err(err).Str("category", dispatch.Category(err)).Msg("server.session closing after failed exchange")
			return
		}
	}
	logger.Debug().Int("limit", limit).Msg("server.session request limit reached")
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.addrMu.Lock()
	s.adminAddr = ln.Addr()
	s.addrMu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Msg("server.admin listening")

	srv := &http.Server{
		Handler:           AdminHandler(s),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// closeAllConns closes and forgets every tracked connection.
func (s *Service) closeAllConns() error {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	var err error
	for conn := range s.conns {
		err = multierr.Append(err, ignoreClosed(conn.Close()))
		delete(s.conns, conn)
	}
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type countingReader struct {
	r io.Reader
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	observability.RecordWireBytes(observability.DirectionIn, int64(n))
	return n, err
}
