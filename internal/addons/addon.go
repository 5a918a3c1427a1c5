// Package addons stores published add-ons and their archives.
//
// Every Store is safe for concurrent use. Records are returned by value and
// archives as copies, so callers may mutate what they receive.
package addons

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/campaignd/internal/wml"
)

const MaxNameLen = 255

var (
	ErrNotFound    = errors.New("addons: add-on not found")
	ErrInvalidName = errors.New("addons: invalid add-on name")
	ErrBadRecord   = errors.New("addons: malformed add-on record")
)

// Store persists add-on records and archives.
type Store interface {
	List(ctx context.Context) ([]Addon, error)
	Get(ctx context.Context, name string) (Addon, error)
	Archive(ctx context.Context, name string) ([]byte, error)
	// Put inserts or replaces the record and its archive. Size is taken from
	// the archive length.
	Put(ctx context.Context, a Addon, archive []byte) error
	Delete(ctx context.Context, name string) error
	SetPassphrase(ctx context.Context, name string, hash string) error
	IncrementDownloads(ctx context.Context, name string) error
}

// Addon is one published add-on record.
type Addon struct {
	Name           string
	Title          string
	Version        string
	Author         string
	Description    string
	Type           string
	Email          string
	PassphraseHash string
	Size           int64
	Downloads      int64
	Uploads        int64
	Timestamp      time.Time
}

// ValidName reports whether name can address an add-on: letters, digits and
// "_+-." only, not starting with a dot.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLen || name[0] == '.' {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '+' || c == '-' || c == '.':
		default:
			return false
		}
	}
	return true
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// PublicConfig renders the fields served to clients. Email and passphrase
// hash are never included.
func (a Addon) PublicConfig() *wml.Config {
	c := wml.New().
		Set("name", a.Name).
		Set("title", a.Title).
		Set("version", a.Version).
		Set("author", a.Author).
		Set("description", a.Description).
		Set("type", a.Type).
		Set("size", strconv.FormatInt(a.Size, 10)).
		Set("downloads", strconv.FormatInt(a.Downloads, 10)).
		Set("uploads", strconv.FormatInt(a.Uploads, 10))
	if !a.Timestamp.IsZero() {
		c.Set("timestamp", strconv.FormatInt(a.Timestamp.Unix(), 10))
	}
	return c
}

// RecordConfig renders the full record for on-disk storage.
func (a Addon) RecordConfig() *wml.Config {
	return a.PublicConfig().
		Set("email", a.Email).
		Set("passphrase_hash", a.PassphraseHash)
}

// FromConfig reads a record written by RecordConfig.
func FromConfig(c *wml.Config) (Addon, error) {
	a := Addon{
		Name:           c.Attr("name"),
		Title:          c.Attr("title"),
		Version:        c.Attr("version"),
		Author:         c.Attr("author"),
		Description:    c.Attr("description"),
		Type:           c.Attr("type"),
		Email:          c.Attr("email"),
		PassphraseHash: c.Attr("passphrase_hash"),
	}
	if err := checkName(a.Name); err != nil {
		return Addon{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	fields := []struct {
		key string
		dst *int64
	}{
		{"size", &a.Size},
		{"downloads", &a.Downloads},
		{"uploads", &a.Uploads},
	}
	for _, f := range fields {
		n, err := parseCount(c, f.key)
		if err != nil {
			return Addon{}, err
		}
		*f.dst = n
	}
	ts, err := parseCount(c, "timestamp")
	if err != nil {
		return Addon{}, err
	}
	if ts > 0 {
		a.Timestamp = time.Unix(ts, 0).UTC()
	}
	return a, nil
}

func parseCount(c *wml.Config, key string) (int64, error) {
	raw, ok := c.Get(key)
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadRecord, key, raw)
	}
	return n, nil
}
