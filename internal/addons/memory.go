package addons

import (
	"context"
	"sort"
	"sync"
)

type memoryEntry struct {
	addon   Addon
	archive []byte
}

// MemoryStore keeps add-ons in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryEntry)}
}

func (s *MemoryStore) List(ctx context.Context) ([]Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Addon, 0, len(s.items))
	for _, e := range s.items {
		out = append(out, e.addon)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[name]
	if !ok {
		return Addon{}, ErrNotFound
	}
	return e.addon, nil
}

func (s *MemoryStore) Archive(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.archive...), nil
}

func (s *MemoryStore) Put(ctx context.Context, a Addon, archive []byte) error {
	if err := checkName(a.Name); err != nil {
		return err
	}
	a.Size = int64(len(archive))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.Name] = memoryEntry{addon: a, archive: append([]byte(nil), archive...)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return ErrNotFound
	}
	delete(s.items, name)
	return nil
}

func (s *MemoryStore) SetPassphrase(ctx context.Context, name string, hash string) error {
	return s.update(name, func(a *Addon) { a.PassphraseHash = hash })
}

func (s *MemoryStore) IncrementDownloads(ctx context.Context, name string) error {
	return s.update(name, func(a *Addon) { a.Downloads++ })
}

func (s *MemoryStore) update(name string, fn func(*Addon)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok {
		return ErrNotFound
	}
	fn(&e.addon)
	s.items[name] = e
	return nil
}
