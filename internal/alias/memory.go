package alias

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/labkit/instrumental/internal/paramset"
)

// MemoryStore keeps aliases in memory. It backs the instruments section
// of the config file, which is read-only unless created writable.
//
// Thread Safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	aliases  map[string]paramset.ParamSet
	source   string
	readOnly bool
}

// NewMemoryStore creates an empty writable store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{aliases: make(map[string]paramset.ParamSet), source: "memory"}
}

// FromConfig builds a read-only store from the config file's instruments
// section, mapping alias names to parameter maps.
func FromConfig(instruments map[string]map[string]any) (*MemoryStore, error) {
	s := &MemoryStore{
		aliases:  make(map[string]paramset.ParamSet, len(instruments)),
		source:   "config",
		readOnly: true,
	}
	for name, params := range instruments {
		n, err := validName(name)
		if err != nil {
			return nil, err
		}
		ps, err := paramset.FromMap(params)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", name, err)
		}
		s.aliases[n] = ps
	}
	return s, nil
}

// Save stores ps under name.
func (s *MemoryStore) Save(_ context.Context, name string, ps paramset.ParamSet) error {
	if s.readOnly {
		return ErrReadOnly
	}
	n, err := validName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[n] = ps
	return nil
}

// Lookup returns the alias for name.
func (s *MemoryStore) Lookup(_ context.Context, name string) (paramset.ParamSet, error) {
	name, err := validName(name)
	if err != nil {
		return paramset.ParamSet{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.aliases[name]
	if !ok {
		return paramset.ParamSet{}, fmt.Errorf("%w: %s", ErrAliasNotFound, name)
	}
	return ps, nil
}

// List returns all aliases ordered by name.
func (s *MemoryStore) List(context.Context) ([]Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alias, 0, len(s.aliases))
	for name, ps := range s.aliases {
		out = append(out, Alias{Name: name, Params: ps, Source: s.source})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes name.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	name, err := validName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aliases[name]; !ok {
		return fmt.Errorf("%w: %s", ErrAliasNotFound, name)
	}
	delete(s.aliases, name)
	return nil
}
