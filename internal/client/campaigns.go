package client

import (
	"context"
	"fmt"

	"github.com/danmuck/campaignd/internal/addons"
	"github.com/danmuck/campaignd/internal/protocol"
	"github.com/danmuck/campaignd/internal/protocol/schema"
	"github.com/danmuck/campaignd/internal/wml"
)

// Upload describes an add-on to publish.
type Upload struct {
	Name        string
	Title       string
	Version     string
	Author      string
	Passphrase  string
	Description string
	Type        string
	Email       string
}

func (c *Client) License(ctx context.Context) (string, error) {
	return c.message(ctx, protocol.NewRequest(schema.RequestLicense, nil, nil))
}

func (c *Client) Terms(ctx context.Context) (string, error) {
	return c.message(ctx, protocol.NewRequest(schema.RequestTerms, nil, nil))
}

// List returns published add-ons whose names match pattern; "" lists all.
func (c *Client) List(ctx context.Context, pattern string) ([]addons.Addon, error) {
	body := wml.New()
	if pattern != "" {
		body.Set(schema.AttrName, pattern)
	}
	reply, err := c.Do(ctx, protocol.NewRequest(schema.RequestCampaignList, body, nil))
	if err != nil {
		return nil, err
	}
	entries := reply.Body().ChildrenNamed("campaign")
	out := make([]addons.Addon, 0, len(entries))
	for _, entry := range entries {
		a, err := addons.FromConfig(entry)
		if err != nil {
			return nil, fmt.Errorf("client: list: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Download returns the add-on record and its archive.
func (c *Client) Download(ctx context.Context, name string) (addons.Addon, []byte, error) {
	body := wml.New().Set(schema.AttrName, name)
	reply, err := c.Do(ctx, protocol.NewRequest(schema.RequestCampaign, body, nil))
	if err != nil {
		return addons.Addon{}, nil, err
	}
	a, err := addons.FromConfig(reply.Body())
	if err != nil {
		return addons.Addon{}, nil, fmt.Errorf("client: download: %w", err)
	}
	return a, reply.Binary(), nil
}

func (c *Client) Upload(ctx context.Context, u Upload, archive []byte) (string, error) {
	body := wml.New().
		Set(schema.AttrName, u.Name).
		Set(schema.AttrTitle, u.Title).
		Set(schema.AttrVersion, u.Version).
		Set(schema.AttrAuthor, u.Author).
		Set(schema.AttrPassphrase, u.Passphrase)
	if u.Description != "" {
		body.Set(schema.AttrDescription, u.Description)
	}
	if u.Type != "" {
		body.Set(schema.AttrType, u.Type)
	}
	if u.Email != "" {
		body.Set(schema.AttrEmail, u.Email)
	}
	return c.message(ctx, protocol.NewRequest(schema.Upload, body, archive))
}

func (c *Client) Delete(ctx context.Context, name, passphrase string) (string, error) {
	body := wml.New().
		Set(schema.AttrName, name).
		Set(schema.AttrPassphrase, passphrase)
	return c.message(ctx, protocol.NewRequest(schema.Delete, body, nil))
}

func (c *Client) ChangePassphrase(ctx context.Context, name, passphrase, newPassphrase string) (string, error) {
	body := wml.New().
		Set(schema.AttrName, name).
		Set(schema.AttrPassphrase, passphrase).
		Set(schema.AttrNewPassphrase, newPassphrase)
	return c.message(ctx, protocol.NewRequest(schema.ChangePassphrase, body, nil))
}

func (c *Client) message(ctx context.Context, req *protocol.Request) (string, error) {
	reply, err := c.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return reply.Body().Attr("message"), nil
}
