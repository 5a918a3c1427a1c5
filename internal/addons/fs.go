package addons

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/campaignd/internal/wml"
)

const (
	recordFile  = "addon.cfg"
	archiveFile = "archive.bin"
	recordTag   = "addon"
)

// FSStore keeps one directory per add-on under root, holding the record as
// tag text and the archive as raw bytes.
type FSStore struct {
	root string
	mu   sync.RWMutex
}

// NewFSStore creates root if needed.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("addons.fs: missing root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("addons.fs: create root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) List(ctx context.Context) ([]Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("addons.fs: list: %w", err)
	}
	out := make([]Addon, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := s.readRecord(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *FSStore) Get(ctx context.Context, name string) (Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readRecord(name)
}

func (s *FSStore) Archive(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir, err := s.resolveDir(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, archiveFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("addons.fs: read archive: %w", err)
	}
	return data, nil
}

func (s *FSStore) Put(ctx context.Context, a Addon, archive []byte) error {
	dir, err := s.resolveDir(a.Name)
	if err != nil {
		return err
	}
	a.Size = int64(len(archive))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("addons.fs: create dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, archiveFile), archive); err != nil {
		return err
	}
	return s.writeRecord(dir, a)
}

func (s *FSStore) Delete(ctx context.Context, name string) error {
	dir, err := s.resolveDir(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(filepath.Join(dir, recordFile)); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("addons.fs: delete: %w", err)
	}
	return nil
}

func (s *FSStore) SetPassphrase(ctx context.Context, name string, hash string) error {
	return s.update(name, func(a *Addon) { a.PassphraseHash = hash })
}

func (s *FSStore) IncrementDownloads(ctx context.Context, name string) error {
	return s.update(name, func(a *Addon) { a.Downloads++ })
}

func (s *FSStore) update(name string, fn func(*Addon)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.readRecord(name)
	if err != nil {
		return err
	}
	fn(&a)
	dir, err := s.resolveDir(name)
	if err != nil {
		return err
	}
	return s.writeRecord(dir, a)
}

func (s *FSStore) readRecord(name string) (Addon, error) {
	dir, err := s.resolveDir(name)
	if err != nil {
		return Addon{}, err
	}
	f, err := os.Open(filepath.Join(dir, recordFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Addon{}, ErrNotFound
	}
	if err != nil {
		return Addon{}, fmt.Errorf("addons.fs: open record: %w", err)
	}
	defer f.Close()

	doc, err := wml.Parse(f, wml.Options{})
	if err != nil {
		return Addon{}, fmt.Errorf("%w: %s: %v", ErrBadRecord, name, err)
	}
	body := doc.Child(recordTag)
	if body == nil {
		return Addon{}, fmt.Errorf("%w: %s: missing [%s]", ErrBadRecord, name, recordTag)
	}
	return FromConfig(body)
}

func (s *FSStore) writeRecord(dir string, a Addon) error {
	doc := wml.New()
	doc.AppendChild(recordTag, a.RecordConfig())
	return writeFileAtomic(filepath.Join(dir, recordFile), wml.Marshal(doc))
}

// resolveDir maps an add-on name to its directory, refusing anything that
// would land outside root.
func (s *FSStore) resolveDir(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(s.root, name))
	if !isWithin(p, s.root) || p == s.root {
		return "", fmt.Errorf("%w: %q escapes store root", ErrInvalidName, name)
	}
	return p, nil
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("addons.fs: create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("addons.fs: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("addons.fs: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("addons.fs: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
