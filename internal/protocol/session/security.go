package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSecurityMode = errors.New("session: invalid security mode")
	ErrTLSRequired         = errors.New("session: tls required")
	ErrMTLSRequired        = errors.New("session: mtls required")
	ErrTLSCertFileRequired = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("session: tls key file required")
	ErrTLSCAFileRequired   = errors.New("session: tls ca file required")
	ErrInsecureSkipVerify  = errors.New("session: insecure skip verify not allowed in production")
)

type side int

const (
	clientSide side = iota
	serverSide
)

type fileRequirement struct {
	path string
	err  error
}

// NormalizeSecurityMode trims and lowercases mode; empty means development.
func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	m := strings.ToLower(strings.TrimSpace(string(mode)))
	if m == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(m)
}

// ValidateClientTransport checks the dialer side of c. Production requires
// mutual TLS with verification on.
func (c Config) ValidateClientTransport() error {
	return c.validateTransport(clientSide)
}

// ValidateServerTransport checks the listener side of c.
func (c Config) ValidateServerTransport() error {
	return c.validateTransport(serverSide)
}

func (c Config) validateTransport(s side) error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	if mode != SecurityModeDevelopment && mode != SecurityModeProduction {
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	production := mode == SecurityModeProduction

	switch {
	case !c.TLS.Enabled && (production || c.TLS.Mutual):
		return ErrTLSRequired
	case production && !c.TLS.Mutual:
		return ErrMTLSRequired
	case production && s == clientSide && c.TLS.InsecureSkipVerify:
		return ErrInsecureSkipVerify
	}
	if !c.TLS.Enabled {
		return nil
	}
	for _, req := range c.requiredFiles(s) {
		if strings.TrimSpace(req.path) == "" {
			return req.err
		}
	}
	return nil
}

// requiredFiles lists, in check order, the certificate material side s needs.
func (c Config) requiredFiles(s side) []fileRequirement {
	pair := []fileRequirement{
		{c.TLS.CertFile, ErrTLSCertFileRequired},
		{c.TLS.KeyFile, ErrTLSKeyFileRequired},
	}
	ca := fileRequirement{c.TLS.CAFile, ErrTLSCAFileRequired}

	if s == serverSide {
		if c.TLS.Mutual {
			return append(pair, ca)
		}
		return pair
	}
	var out []fileRequirement
	if !c.TLS.InsecureSkipVerify {
		out = append(out, ca)
	}
	if c.TLS.Mutual {
		out = append(out, pair...)
	}
	return out
}
