package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/danmuck/campaignd/internal/client"
	"github.com/danmuck/campaignd/internal/logging"
	"github.com/danmuck/campaignd/internal/protocol/session"
	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
)

type connFlags struct {
	Addr     string        `short:"a" default:"127.0.0.1:15000" env:"CAMPAIGND_ADDR" help:"campaignd address."`
	Timeout  time.Duration `default:"30s" help:"Per-request read/write timeout."`
	TLS      bool          `name:"tls" help:"Connect over TLS."`
	CAFile   string        `name:"ca-file" type:"existingfile" help:"CA bundle used to verify the server."`
	CertFile string        `name:"cert-file" type:"existingfile" help:"Client certificate for mutual TLS."`
	KeyFile  string        `name:"key-file" type:"existingfile" help:"Client key for mutual TLS."`
}

func (f connFlags) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ReadTimeout = f.Timeout
	cfg.WriteTimeout = f.Timeout
	cfg.TLS.Enabled = f.TLS
	cfg.TLS.CAFile = f.CAFile
	cfg.TLS.CertFile = f.CertFile
	cfg.TLS.KeyFile = f.KeyFile
	cfg.TLS.Mutual = f.CertFile != ""
	return cfg.WithDefaults()
}

// withClient dials once and runs fn on the connection.
func withClient(ctx context.Context, flags connFlags, fn func(*client.Client) error) (err error) {
	c, err := client.Dial(ctx, flags.Addr, flags.sessionConfig())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()
	return fn(c)
}

var CLI struct {
	connFlags

	License  LicenseCmd  `cmd:"" help:"Print the server license notice."`
	Terms    TermsCmd    `cmd:"" help:"Print the upload terms."`
	List     ListCmd     `cmd:"" help:"List published add-ons."`
	Download DownloadCmd `cmd:"" help:"Download an add-on archive."`
	Upload   UploadCmd   `cmd:"" help:"Publish or replace an add-on."`
	Delete   DeleteCmd   `cmd:"" help:"Delete an add-on."`
	Passwd   PasswdCmd   `cmd:"" help:"Change an add-on passphrase."`
}

type LicenseCmd struct{}

func (LicenseCmd) Run(ctx context.Context) error {
	return withClient(ctx, CLI.connFlags, func(c *client.Client) error {
		text, err := c.License(ctx)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	})
}

type TermsCmd struct{}

func (TermsCmd) Run(ctx context.Context) error {
	return withClient(ctx, CLI.connFlags, func(c *client.Client) error {
		text, err := c.Terms(ctx)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	})
}

type ListCmd struct {
	Pattern string `arg:"" optional:"" help:"Glob over add-on names."`
}

func (l ListCmd) Run(ctx context.Context) error {
	return withClient(ctx, CLI.connFlags, func(c *client.Client) error {
		list, err := c.List(ctx, l.Pattern)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tAUTHOR\tSIZE\tDOWNLOADS\tUPDATED")
		for _, a := range list {
			updated := "-"
			if !a.Timestamp.IsZero() {
				updated = humanize.Time(a.Timestamp)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.Name, a.Version, a.Author,
				humanize.Bytes(uint64(a.Size)), humanize.Comma(a.Downloads), updated)
		}
		return w.Flush()
	})
}

type DownloadCmd struct {
	Name string `arg:"" help:"Add-on name."`
	Out  string `short:"o" help:"Output file; defaults to <name>.bin in the current directory."`
}

func (d DownloadCmd) Run(ctx context.Context) error {
	return withClient(ctx, CLI.connFlags, func(c *client.Client) error {
		a, archive, err := c.Download(ctx, d.Name)
		if err != nil {
			return err
		}
		out := d.Out
		if out == "" {
			out = filepath.Base(a.Name) + ".bin"
		}
		if err := os.WriteFile(out, archive, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s %s: wrote %s to %s\n", a.Name, a.Version, humanize.Bytes(uint64(len(archive))), out)
		return nil
	})
}

type UploadCmd struct {
	Archive     string `arg:"" type:"existingfile" help:"Archive to upload."`
	Name        string `required:"" help:"Add-on name."`
	Passphrase  string `required:"" env:"CAMPAIGND_PASSPHRASE" help:"Add-on passphrase."`
	Title       string `help:"Display title."`
	Version     string `help:"Version string."`
	Author      string `help:"Author."`
	Description string `help:"Description."`
	Type        string `help:"Add-on type."`
	Email       string `help:"Contact email (never published)."`
}

func (u UploadCmd) Run(ctx context.Context) error {
	archive, err := os.ReadFile(u.Archive)
	if err != nil {
		return err
	}
	return withClient(ctx, CLI.connFlags, func(c *client.Client) error {
		msg, err := c.Upload(ctx, client.Upload{
			Name:        u.Name,
			Title:       u.Title,
			Version:     u.Version,
			Author:      u.Author,
			Passphrase:  u.Passphrase,
			Description: u.Description,
			Type:        u.Type,
			Email:       u.Email,
		}, archive)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", msg, humanize.Bytes(uint64(len(archive))))
		return nil
	})
}

type DeleteCmd struct {
	Name       string `arg:"" help:"Add-on name."`
	Passphrase string `required:"" env:"CAMPAIGND_PASSPHRASE" help:"Add-on passphrase."`
}

func (d DeleteCmd) Run(ctx context.Context) error {
	return withClient(ctx, CLI.connFlags, func(c *client.Client) error {
		msg, err := c.Delete(ctx, d.Name, d.Passphrase)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	})
}

type PasswdCmd struct {
	Name          string `arg:"" help:"Add-on name."`
	Passphrase    string `required:"" env:"CAMPAIGND_PASSPHRASE" help:"Current passphrase."`
	NewPassphrase string `required:"" name:"new" help:"New passphrase."`
}

func (p PasswdCmd) Run(ctx context.Context) error {
	return withClient(ctx, CLI.connFlags, func(c *client.Client) error {
		msg, err := c.ChangePassphrase(ctx, p.Name, p.Passphrase, p.NewPassphrase)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	})
}

func main() {
	logging.ConfigureRuntime()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.Name("campaignctl"),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Description("campaignctl talks to a campaignd server."),
	)
	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
