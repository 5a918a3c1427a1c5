package addons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const DefaultTable = "addons"

// PostgresStore keeps records and archives in one PostgreSQL table.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// OpenPostgres opens and pings dsn, then ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("addons.postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("addons.postgres: ping: %w", err)
	}
	s := NewPostgresStore(db, DefaultTable)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open pool. table defaults to DefaultTable.
func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: db, table: pq.QuoteIdentifier(table)}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the add-on table if it is missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		name            TEXT PRIMARY KEY,
		title           TEXT NOT NULL,
		version         TEXT NOT NULL,
		author          TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		type            TEXT NOT NULL DEFAULT '',
		email           TEXT NOT NULL DEFAULT '',
		passphrase_hash TEXT NOT NULL,
		size            BIGINT NOT NULL,
		downloads       BIGINT NOT NULL DEFAULT 0,
		uploads         BIGINT NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL,
		archive         BYTEA NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("addons.postgres: migrate: %w", err)
	}
	return nil
}

const recordColumns = `name, title, version, author, description, type, email,
	passphrase_hash, size, downloads, uploads, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddon(row rowScanner) (Addon, error) {
	var a Addon
	var updated time.Time
	err := row.Scan(
		&a.Name, &a.Title, &a.Version, &a.Author, &a.Description, &a.Type, &a.Email,
		&a.PassphraseHash, &a.Size, &a.Downloads, &a.Uploads, &updated,
	)
	if err != nil {
		return Addon{}, err
	}
	a.Timestamp = updated.UTC()
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Addon, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM `+s.table+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("addons.postgres: list: %w", err)
	}
	defer rows.Close()

	var out []Addon
	for rows.Next() {
		a, err := scanAddon(rows)
		if err != nil {
			return nil, fmt.Errorf("addons.postgres: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("addons.postgres: list: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (Addon, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM `+s.table+` WHERE name = $1`, name)
	a, err := scanAddon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Addon{}, ErrNotFound
	}
	if err != nil {
		return Addon{}, fmt.Errorf("addons.postgres: get: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Archive(ctx context.Context, name string) ([]byte, error) {
	var archive []byte
	err := s.db.QueryRowContext(ctx, `SELECT archive FROM `+s.table+` WHERE name = $1`, name).Scan(&archive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("addons.postgres: archive: %w", err)
	}
	return archive, nil
}

func (s *PostgresStore) Put(ctx context.Context, a Addon, archive []byte) error {
	if err := checkName(a.Name); err != nil {
		return err
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if archive == nil {
		archive = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (`+recordColumns+`, archive)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (name) DO UPDATE SET
		   title = EXCLUDED.title, version = EXCLUDED.version, author = EXCLUDED.author,
		   description = EXCLUDED.description, type = EXCLUDED.type, email = EXCLUDED.email,
		   passphrase_hash = EXCLUDED.passphrase_hash, size = EXCLUDED.size,
		   downloads = EXCLUDED.downloads, uploads = EXCLUDED.uploads,
		   updated_at = EXCLUDED.updated_at, archive = EXCLUDED.archive`,
		a.Name, a.Title, a.Version, a.Author, a.Description, a.Type, a.Email,
		a.PassphraseHash, int64(len(archive)), a.Downloads, a.Uploads, a.Timestamp, archive,
	)
	if err != nil {
		return fmt.Errorf("addons.postgres: put: %w", describe(err))
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	return s.execOne(ctx, "delete", `DELETE FROM `+s.table+` WHERE name = $1`, name)
}

func (s *PostgresStore) SetPassphrase(ctx context.Context, name string, hash string) error {
	return s.execOne(ctx, "set passphrase", `UPDATE `+s.table+` SET passphrase_hash = $2 WHERE name = $1`, name, hash)
}

func (s *PostgresStore) IncrementDownloads(ctx context.Context, name string) error {
	return s.execOne(ctx, "increment downloads", `UPDATE `+s.table+` SET downloads = downloads + 1 WHERE name = $1`, name)
}

func (s *PostgresStore) execOne(ctx context.Context, op string, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("addons.postgres: %s: %w", op, describe(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("addons.postgres: %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// describe adds the SQLSTATE code to driver errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w (sqlstate %s)", err, pqErr.Code)
	}
	return err
}
