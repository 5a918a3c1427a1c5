package actions

import (
	"context"
	"errors"

	"github.com/danmuck/campaignd/internal/addons"
	"github.com/danmuck/campaignd/internal/protocol"
	"github.com/danmuck/campaignd/internal/protocol/schema"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Upload publishes or replaces an add-on. It keeps the parsed record and
// archive for the request it serves, so each request needs its own clone.
type Upload struct {
	cfg Config

	addon    addons.Addon
	archive  []byte
	replaced bool
}

func NewUpload(cfg Config) *Upload {
	return &Upload{cfg: cfg.withLocks()}
}

func (u *Upload) Clone() Action {
	return &Upload{cfg: u.cfg}
}

func (u *Upload) Execute(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
	if err := u.parse(req); err != nil {
		return nil, err
	}
	body := req.Body()
	passphrase := body.Attr(schema.AttrPassphrase)

	defer u.cfg.locks.lock(u.addon.Name)()
	existing, err := u.cfg.Store.Get(ctx, u.addon.Name)
	switch {
	case err == nil:
		if !addons.CheckPassphrase(existing.PassphraseHash, passphrase) {
			log.Warn().Str("addon", u.addon.Name).Msg("actions.upload passphrase mismatch")
			return nil, Public(MsgBadPassphrase, nil)
		}
		u.replaced = true
		u.addon.PassphraseHash = existing.PassphraseHash
		u.addon.Downloads = existing.Downloads
		u.addon.Uploads = existing.Uploads + 1
	case errors.Is(err, addons.ErrNotFound):
		hash, err := addons.HashPassphrase(passphrase)
		if err != nil {
			return nil, err
		}
		u.addon.PassphraseHash = hash
		u.addon.Uploads = 1
	default:
		return nil, storeError("get", err)
	}

	if err := u.cfg.Store.Put(ctx, u.addon, u.archive); err != nil {
		return nil, storeError("put", err)
	}
	log.Info().
		Str("addon", u.addon.Name).
		Str("version", u.addon.Version).
		Str("size", humanize.Bytes(uint64(len(u.archive)))).
		Bool("replaced", u.replaced).
		Int64("uploads", u.addon.Uploads).
		Msg("actions.upload")
	return protocol.MessageReply(MsgUploadAccepted), nil
}

func (u *Upload) parse(req *protocol.Request) error {
	body := req.Body()
	name := body.Attr(schema.AttrName)
	if !addons.ValidName(name) {
		return Public(MsgInvalidName, addons.ErrInvalidName)
	}
	if len(req.Binary()) == 0 {
		return Public(MsgEmptyArchive, nil)
	}
	u.archive = req.Binary()
	u.addon = addons.Addon{
		Name:        name,
		Title:       body.Attr(schema.AttrTitle),
		Version:     body.Attr(schema.AttrVersion),
		Author:      body.Attr(schema.AttrAuthor),
		Description: body.Attr(schema.AttrDescription),
		Type:        body.Attr(schema.AttrType),
		Email:       body.Attr(schema.AttrEmail),
		Size:        int64(len(u.archive)),
		Timestamp:   u.cfg.now(),
	}
	return nil
}
