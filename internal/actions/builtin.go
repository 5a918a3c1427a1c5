package actions

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/campaignd/internal/addons"
	"github.com/danmuck/campaignd/internal/protocol"
	"github.com/danmuck/campaignd/internal/protocol/schema"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Client-visible failure messages.
const (
	MsgNotFound          = "add-on not found"
	MsgBadPassphrase     = "incorrect passphrase"
	MsgInvalidName       = "invalid add-on name"
	MsgEmptyArchive      = "add-on archive is empty"
	MsgInvalidFilter     = "invalid name filter"
	MsgUploadAccepted    = "add-on accepted"
	MsgDeleted           = "add-on deleted"
	MsgPassphraseChanged = "passphrase changed"
)

// Config wires the built-in actions to their collaborators.
type Config struct {
	License string
	Terms   string
	Store   addons.Store
	// Now defaults to time.Now.
	Now func() time.Time

	locks *nameLocks
}

// withLocks gives c a per-name lock table unless it already shares one.
// Actions that check a passphrase and then write hold the name's lock across
// both steps.
func (c Config) withLocks() Config {
	if c.locks == nil {
		c.locks = newNameLocks()
	}
	return c
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// RegisterBuiltins binds every built-in action into reg.
func RegisterBuiltins(reg *Registry, cfg Config) error {
	if cfg.Store == nil {
		return errors.New("actions: store required")
	}
	cfg = cfg.withLocks()
	builtins := map[string]Action{
		schema.RequestLicense:      License(cfg.License),
		schema.RequestTerms:        Terms(cfg.Terms),
		schema.RequestCampaignList: ListCampaigns(cfg),
		schema.RequestCampaign:     DownloadCampaign(cfg),
		schema.Upload:              NewUpload(cfg),
		schema.Delete:              DeleteCampaign(cfg),
		schema.ChangePassphrase:    ChangePassphrase(cfg),
	}
	for name, action := range builtins {
		if err := reg.RegisterProduct(name, action); err != nil {
			return fmt.Errorf("actions: register %s: %w", name, err)
		}
	}
	return nil
}

// License replies with the server license text.
func License(text string) Action {
	return Func(func(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
		return protocol.MessageReply(text), nil
	})
}

// Terms replies with the upload terms.
func Terms(text string) Action {
	return Func(func(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
		return protocol.MessageReply(text), nil
	})
}

// ListCampaigns replies with "[campaigns]" holding one "[campaign]" per
// add-on. An optional name glob filters the list. With
// times_relative_to="now" every timestamp becomes an age in seconds.
func ListCampaigns(cfg Config) Action {
	return Func(func(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
		body := req.Body()
		pattern := strings.TrimSpace(body.Attr(schema.AttrName))
		if pattern != "" {
			if _, err := path.Match(pattern, ""); err != nil {
				return nil, Public(MsgInvalidFilter, err)
			}
		}
		list, err := cfg.Store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("actions: list: %w", err)
		}

		now := cfg.now()
		relative := body.Attr("times_relative_to") == "now"
		reply := protocol.NewReply("campaigns")
		root := reply.Body()
		root.Set("timestamp", strconv.FormatInt(now.Unix(), 10))
		for _, a := range list {
			if pattern != "" {
				if ok, _ := path.Match(pattern, a.Name); !ok {
					continue
				}
			}
			entry := a.PublicConfig()
			if relative && !a.Timestamp.IsZero() {
				entry.Set("timestamp", strconv.FormatInt(int64(now.Sub(a.Timestamp)/time.Second), 10))
			}
			root.AppendChild("campaign", entry)
		}
		return reply, nil
	})
}

// DownloadCampaign replies with the add-on record and its archive as binary.
func DownloadCampaign(cfg Config) Action {
	return Func(func(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
		name := req.Body().Attr(schema.AttrName)
		a, err := lookup(ctx, cfg.Store, name)
		if err != nil {
			return nil, err
		}
		archive, err := cfg.Store.Archive(ctx, name)
		if err != nil {
			return nil, storeError("archive", err)
		}
		if err := cfg.Store.IncrementDownloads(ctx, name); err != nil {
			return nil, storeError("count download", err)
		}
		a.Downloads++

		reply := protocol.NewReply("campaign")
		for _, attr := range a.PublicConfig().Attributes() {
			reply.Body().Set(attr.Key, attr.Value)
		}
		reply.SetBinary(archive)
		log.Info().
			Str("addon", name).
			Str("size", humanize.Bytes(uint64(len(archive)))).
			Int64("downloads", a.Downloads).
			Msg("actions.download")
		return reply, nil
	})
}

// DeleteCampaign removes an add-on after checking its passphrase.
func DeleteCampaign(cfg Config) Action {
	cfg = cfg.withLocks()
	return Func(func(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
		body := req.Body()
		name := body.Attr(schema.AttrName)
		defer cfg.locks.lock(name)()
		if _, err := authorize(ctx, cfg.Store, name, body.Attr(schema.AttrPassphrase)); err != nil {
			return nil, err
		}
		if err := cfg.Store.Delete(ctx, name); err != nil {
			return nil, storeError("delete", err)
		}
		log.Info().Str("addon", name).Msg("actions.delete")
		return protocol.MessageReply(MsgDeleted), nil
	})
}

// ChangePassphrase replaces the add-on passphrase after checking the old one.
func ChangePassphrase(cfg Config) Action {
	cfg = cfg.withLocks()
	return Func(func(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
		body := req.Body()
		name := body.Attr(schema.AttrName)
		defer cfg.locks.lock(name)()
		if _, err := authorize(ctx, cfg.Store, name, body.Attr(schema.AttrPassphrase)); err != nil {
			return nil, err
		}
		hash, err := addons.HashPassphrase(body.Attr(schema.AttrNewPassphrase))
		if err != nil {
			return nil, err
		}
		if err := cfg.Store.SetPassphrase(ctx, name, hash); err != nil {
			return nil, storeError("set passphrase", err)
		}
		log.Info().Str("addon", name).Msg("actions.change_passphrase")
		return protocol.MessageReply(MsgPassphraseChanged), nil
	})
}

func lookup(ctx context.Context, store addons.Store, name string) (addons.Addon, error) {
	if !addons.ValidName(name) {
		return addons.Addon{}, Public(MsgInvalidName, addons.ErrInvalidName)
	}
	a, err := store.Get(ctx, name)
	if err != nil {
		return addons.Addon{}, storeError("get", err)
	}
	return a, nil
}

func authorize(ctx context.Context, store addons.Store, name string, passphrase string) (addons.Addon, error) {
	a, err := lookup(ctx, store, name)
	if err != nil {
		return addons.Addon{}, err
	}
	if !addons.CheckPassphrase(a.PassphraseHash, passphrase) {
		log.Warn().Str("addon", name).Msg("actions.authorize passphrase mismatch")
		return addons.Addon{}, Public(MsgBadPassphrase, nil)
	}
	return a, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, addons.ErrNotFound) {
		return Public(MsgNotFound, err)
	}
	if errors.Is(err, addons.ErrInvalidName) {
		return Public(MsgInvalidName, err)
	}
	return fmt.Errorf("actions: %s: %w", op, err)
}
