package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/campaignd/internal/addons"
	"github.com/danmuck/campaignd/internal/protocol/session"
	"github.com/danmuck/campaignd/internal/server"
)

const (
	storeFS       = "fs"
	storeMemory   = "memory"
	storePostgres = "postgres"

	defaultLicense = "All add-ons on this server are distributed under the terms of the GNU GPL v2 or later."
	defaultTerms   = "By uploading you confirm that you hold the rights to the content and agree to its free redistribution."
)

// campaignd config.toml key mapping to runtime settings.
type fileConfig struct {
	Addr               string `toml:"addr"`
	AdminAddr          string `toml:"admin_addr"`
	AdminToken         string `toml:"admin_token"`
	MaxRequestsPerConn int    `toml:"max_requests_per_conn"`
	ReadTimeout        string `toml:"read_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	MaxBinaryBytes     int64  `toml:"max_binary_bytes"`
	MaxMetadataBytes   int64  `toml:"max_metadata_bytes"`
	MaxDepth           int    `toml:"max_depth"`
	LicenseFile        string `toml:"license_file"`
	License            string `toml:"license"`
	Terms              string `toml:"terms"`
	Store              string `toml:"store"`
	StorePath          string `toml:"store_path"`
	PostgresDSN        string `toml:"postgres_dsn"`
	SecurityMode       string `toml:"security_mode"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	TLSMutual          bool   `toml:"tls_mutual"`
	TLSCertFile        string `toml:"tls_cert_file"`
	TLSKeyFile         string `toml:"tls_key_file"`
	TLSCAFile          string `toml:"tls_ca_file"`
}

type daemonConfig struct {
	Server      server.Config
	License     string
	Terms       string
	Store       string
	StorePath   string
	PostgresDSN string
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Server:    server.DefaultConfig(),
		License:   defaultLicense,
		Terms:     defaultTerms,
		Store:     storeFS,
		StorePath: filepath.Join("local", "addons"),
	}
}

// loadDaemonConfig overlays the keys defined in path onto the defaults.
func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load campaignd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return daemonConfig{}, fmt.Errorf("load campaignd config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Server.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.Server.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Server.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("max_requests_per_conn") {
		if raw.MaxRequestsPerConn < 0 {
			return daemonConfig{}, fmt.Errorf("load campaignd config: max_requests_per_conn must be >= 0")
		}
		cfg.Server.Session.MaxRequestsPerConn = raw.MaxRequestsPerConn
	}
	if meta.IsDefined("read_timeout") {
		d, err := parseTimeout("read_timeout", raw.ReadTimeout)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Server.Session.ReadTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseTimeout("write_timeout", raw.WriteTimeout)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Server.Session.WriteTimeout = d
	}
	if meta.IsDefined("max_binary_bytes") {
		cfg.Server.Session.Limits.MaxBinaryBytes = raw.MaxBinaryBytes
	}
	if meta.IsDefined("max_metadata_bytes") {
		cfg.Server.Session.Limits.MaxMetadataBytes = raw.MaxMetadataBytes
	}
	if meta.IsDefined("max_depth") {
		cfg.Server.Session.Limits.MaxDepth = raw.MaxDepth
	}
	if meta.IsDefined("license") {
		cfg.License = raw.License
	}
	if meta.IsDefined("license_file") {
		text, err := os.ReadFile(resolveRelative(path, raw.LicenseFile))
		if err != nil {
			return daemonConfig{}, fmt.Errorf("load campaignd config: license_file: %w", err)
		}
		cfg.License = strings.TrimSpace(string(text))
	}
	if meta.IsDefined("terms") {
		cfg.Terms = raw.Terms
	}
	if meta.IsDefined("store") {
		cfg.Store = strings.ToLower(strings.TrimSpace(raw.Store))
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = resolveRelative(path, raw.StorePath)
	}
	if meta.IsDefined("postgres_dsn") {
		cfg.PostgresDSN = strings.TrimSpace(raw.PostgresDSN)
	}
	if meta.IsDefined("security_mode") {
		cfg.Server.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Server.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.Server.Session.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Server.Session.TLS.CertFile = resolveRelative(path, raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Server.Session.TLS.KeyFile = resolveRelative(path, raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Server.Session.TLS.CAFile = resolveRelative(path, raw.TLSCAFile)
	}

	switch cfg.Store {
	case storeFS:
		if strings.TrimSpace(cfg.StorePath) == "" {
			return daemonConfig{}, fmt.Errorf("load campaignd config: store_path is required for store=%q", storeFS)
		}
	case storeMemory:
	case storePostgres:
		if cfg.PostgresDSN == "" {
			return daemonConfig{}, fmt.Errorf("load campaignd config: postgres_dsn is required for store=%q", storePostgres)
		}
	default:
		return daemonConfig{}, fmt.Errorf("load campaignd config: unsupported store %q (expected fs, memory or postgres)", cfg.Store)
	}

	cfg.Server.Session = cfg.Server.Session.WithDefaults()
	return cfg, nil
}

func parseTimeout(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load campaignd config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("load campaignd config: %s must be positive", key)
	}
	return d, nil
}

// resolveRelative resolves p against the directory holding the config file.
func resolveRelative(configPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// openStore builds the configured add-on store. close releases it.
func openStore(ctx context.Context, cfg daemonConfig) (addons.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case storeMemory:
		return addons.NewMemoryStore(), noop, nil
	case storePostgres:
		s, err := addons.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := addons.NewFSStore(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	}
}
