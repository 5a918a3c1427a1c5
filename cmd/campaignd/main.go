package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/danmuck/campaignd/internal/actions"
	"github.com/danmuck/campaignd/internal/dispatch"
	"github.com/danmuck/campaignd/internal/logging"
	"github.com/danmuck/campaignd/internal/server"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

var CLI struct {
	Serve ServeCommand `cmd:"" default:"withargs" help:"Serve the add-on protocol."`
	Check CheckCommand `cmd:"" help:"Validate a config file and exit."`
}

type configFlags struct {
	Config    string `short:"c" type:"existingfile" help:"Path to campaignd TOML config."`
	Addr      string `help:"Override the session listen address."`
	AdminAddr string `help:"Override the admin (metrics) listen address."`
}

func (f configFlags) load() (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if f.Config != "" {
		loaded, err := loadDaemonConfig(f.Config)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg = loaded
	}
	if f.Addr != "" {
		cfg.Server.ListenAddr = f.Addr
	}
	if f.AdminAddr != "" {
		cfg.Server.AdminListenAddr = f.AdminAddr
	}
	cfg.Server.Session = cfg.Server.Session.WithDefaults()
	return cfg, nil
}

type ServeCommand struct {
	configFlags
}

func (c *ServeCommand) Run(ctx context.Context) (err error) {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeStore())
	}()

	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.Config{
		License: cfg.License,
		Terms:   cfg.Terms,
		Store:   store,
	}); err != nil {
		return err
	}
	d := dispatch.New(reg, cfg.Server.Session.Limits)

	log.Info().
		Str("store", cfg.Store).
		Strs("actions", reg.Identifiers()).
		Str("max_binary", humanize.Bytes(uint64(cfg.Server.Session.Limits.MaxBinaryBytes))).
		Int("max_requests_per_conn", cfg.Server.Session.MaxRequestsPerConn).
		Msg("campaignd starting")
	return server.NewService(cfg.Server, d).Run(ctx)
}

type CheckCommand struct {
	configFlags
}

func (c *CheckCommand) Run(ctx context.Context) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if err := cfg.Server.Session.ValidateServerTransport(); err != nil {
		return err
	}
	fmt.Printf("config ok: addr=%s store=%s tls=%t\n", cfg.Server.ListenAddr, cfg.Store, cfg.Server.Session.TLS.Enabled)
	return nil
}

func main() {
	logging.ConfigureRuntime()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.Name("campaignd"),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Description("campaignd serves add-on listings, downloads and uploads over the tag-text protocol."),
	)
	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
