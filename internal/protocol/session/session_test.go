package session

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/campaignd/internal/testutil/testlog"
	"github.com/danmuck/campaignd/internal/testutil/tlstest"
)

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	want := map[int]time.Duration{
		1:  250 * time.Millisecond,
		2:  500 * time.Millisecond,
		3:  time.Second,
		6:  5 * time.Second,
		40: 5 * time.Second,
	}
	for attempt, d := range want {
		if got := cfg.Delay(attempt, nil); got != d {
			t.Fatalf("attempt%d got=%v want=%v", attempt, got, d)
		}
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config delay=%v", got)
	}
}

func TestBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		got := cfg.Delay(1, rng)
		if got < 125*time.Millisecond || got >= 375*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
		if capped := cfg.Delay(10, rng); capped > cfg.MaxDelay {
			t.Fatalf("jittered delay above cap: %v", capped)
		}
	}
}

func TestBackoffWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := BackoffConfig{InitialDelay: time.Hour}
	if err := cfg.Wait(ctx, 1, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := (BackoffConfig{}).Wait(context.Background(), 1, nil); err != nil {
		t.Fatalf("zero wait: %v", err)
	}
}

func TestValidateClientTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateClientTransportProductionRejectsInsecureSkip(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	cfg.TLS = TLSConfig{Enabled: true, Mutual: true, InsecureSkipVerify: true, CertFile: "c", KeyFile: "k"}
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrInsecureSkipVerify) {
		t.Fatalf("expected ErrInsecureSkipVerify, got %v", err)
	}

	cfg.SecurityMode = SecurityModeDevelopment
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("insecure skip should pass in development without a CA: %v", err)
	}
}

func TestValidateServerTransportRequiresKeyPairThenCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS = TLSConfig{Enabled: true, Mutual: true}
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile = "server.crt"
	cfg.TLS.KeyFile = "server.key"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	cfg.TLS.Mutual = false
	if err := cfg.ValidateServerTransport(); err != nil {
		t.Fatalf("one-way TLS needs no CA: %v", err)
	}
}

func TestValidateServerTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: " Production ", MaxRequestsPerConn: -3}.WithDefaults()
	def := DefaultConfig()
	if cfg.ReadTimeout != def.ReadTimeout || cfg.WriteTimeout != def.WriteTimeout {
		t.Fatalf("timeouts not defaulted: %+v", cfg)
	}
	if cfg.MaxRequestsPerConn != 0 {
		t.Fatalf("negative keep-alive bound not clamped: %d", cfg.MaxRequestsPerConn)
	}
	if cfg.SecurityMode != SecurityModeProduction {
		t.Fatalf("mode=%q", cfg.SecurityMode)
	}
	if cfg.Limits.MaxBinaryBytes != def.Limits.MaxBinaryBytes {
		t.Fatalf("limits not defaulted: %+v", cfg.Limits)
	}
	if cfg.Backoff != def.Backoff {
		t.Fatalf("backoff not defaulted: %+v", cfg.Backoff)
	}
}

func TestValidateRejectsUnknownSecurityMode(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = "staging"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestMutualTLSHandshakeAndPeerIdentity(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "campaignd-test-ca")
	srv := ca.Server(t, "server", "localhost", "127.0.0.1")
	cli := ca.Client(t, "uploader.local")

	serverCfg := DefaultConfig()
	serverCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: srv.CertFile, KeyFile: srv.KeyFile, CAFile: ca.CAFile()}
	if err := serverCfg.ValidateServerTransport(); err != nil {
		t.Fatalf("server transport: %v", err)
	}
	srvTLS, err := serverCfg.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls config: %v", err)
	}
	if srvTLS.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Fatalf("expected client certs required")
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", srvTLS)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	identity := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			identity <- ""
			return
		}
		defer conn.Close()
		if err := conn.(*tls.Conn).Handshake(); err != nil {
			identity <- ""
			return
		}
		identity <- PeerIdentity(conn)
	}()

	clientCfg := DefaultConfig()
	clientCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: cli.CertFile, KeyFile: cli.KeyFile, CAFile: ca.CAFile()}
	cliTLS, err := clientCfg.ClientTLSConfig(ln.Addr().String())
	if err != nil {
		t.Fatalf("client tls config: %v", err)
	}
	if cliTLS.ServerName != "127.0.0.1" {
		t.Fatalf("server name=%q", cliTLS.ServerName)
	}
	conn, err := tls.Dial("tcp", ln.Addr().String(), cliTLS)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case got := <-identity:
		if got != "uploader.local" {
			t.Fatalf("peer identity=%q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for handshake")
	}
}

func TestPeerIdentityPlainConn(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if got := PeerIdentity(a); got != "" {
		t.Fatalf("expected empty identity, got %q", got)
	}
}
