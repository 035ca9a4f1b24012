package cache

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ErrNoGeneration is returned when writing to an empty generation name.
var ErrNoGeneration = errors.New("cache: generation name is required")

// Entry is a captured response snapshot. Entries are never mutated after they are
// stored; a refresh replaces the whole entry.
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Clone returns a deep copy so callers cannot alias stored bytes or headers.
func (e Entry) Clone() Entry {
	out := e
	out.Header = e.Header.Clone()
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}

// GenerationStore holds named cache generations of entries keyed by normalized URL.
// Get returns (entry, true, nil) on hit and (zero, false, nil) on miss.
type GenerationStore interface {
	Get(ctx context.Context, generation, key string) (Entry, bool, error)
	Put(ctx context.Context, generation, key string, entry Entry) error
	// PutAll writes all entries or none.
	PutAll(ctx context.Context, generation string, entries map[string]Entry) error
	Generations(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, generation string) error
}

// InMemoryStore implements GenerationStore with a mutex-guarded map.
type InMemoryStore struct {
	mu   sync.RWMutex
	gens map[string]map[string]Entry
}

// NewInMemoryStore creates an empty in-memory generation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{gens: make(map[string]map[string]Entry)}
}

func (s *InMemoryStore) Get(ctx context.Context, generation, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.gens[generation][key]
	if !ok {
		return Entry{}, false, nil
	}
	return e.Clone(), true, nil
}

func (s *InMemoryStore) Put(ctx context.Context, generation, key string, entry Entry) error {
	return s.PutAll(ctx, generation, map[string]Entry{key: entry})
}

func (s *InMemoryStore) PutAll(ctx context.Context, generation string, entries map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if generation == "" {
		return ErrNoGeneration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.gens[generation]
	if !ok {
		gen = make(map[string]Entry, len(entries))
		s.gens[generation] = gen
	}
	for k, e := range entries {
		gen[k] = e.Clone()
	}
	return nil
}

// Generations returns the generation names in sorted order.
func (s *InMemoryStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.gens))
	for name := range s.gens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a generation. Deleting a missing generation is not an error.
func (s *InMemoryStore) Delete(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.gens, generation)
	s.mu.Unlock()
	return nil
}

// Len reports the number of entries in a generation.
func (s *InMemoryStore) Len(generation string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens[generation])
}
