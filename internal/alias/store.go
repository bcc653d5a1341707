package alias

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/labkit/instrumental/internal/paramset"
)

// Alias is a saved instrument.
type Alias struct {
	Name   string
	Params paramset.ParamSet
	// Source names the store the alias came from ("config", "database").
	Source string
}

// Store defines alias persistence.
type Store interface {
	// Save stores ps under name, replacing any existing alias.
	Save(ctx context.Context, name string, ps paramset.ParamSet) error

	// Lookup returns the parameters saved under name.
	// Returns ErrAliasNotFound if there are none.
	Lookup(ctx context.Context, name string) (paramset.ParamSet, error)

	// List returns all aliases ordered by name.
	List(ctx context.Context) ([]Alias, error)

	// Delete removes name. Returns ErrAliasNotFound if it does not exist.
	Delete(ctx context.Context, name string) error
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// Chain layers stores. Lookups try each store in order; List merges them
// with earlier stores shadowing later ones; Save and Delete go to the last
// store. The usual layering is the config-file aliases over the database.
type Chain []Store

// Save stores ps in the last store.
func (c Chain) Save(ctx context.Context, name string, ps paramset.ParamSet) error {
	if len(c) == 0 {
		return ErrReadOnly
	}
	return c[len(c)-1].Save(ctx, name, ps)
}

// Lookup returns the first store's alias for name.
func (c Chain) Lookup(ctx context.Context, name string) (paramset.ParamSet, error) {
	for _, s := range c {
		ps, err := s.Lookup(ctx, name)
		if err == nil {
			return ps, nil
		}
		if !errors.Is(err, ErrAliasNotFound) {
			return paramset.ParamSet{}, err
		}
	}
	return paramset.ParamSet{}, fmt.Errorf("%w: %s", ErrAliasNotFound, name)
}

// List merges all stores' aliases.
func (c Chain) List(ctx context.Context) ([]Alias, error) {
	seen := make(map[string]bool)
	var out []Alias
	for _, s := range c {
		list, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if seen[a.Name] {
				continue
			}
			seen[a.Name] = true
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes name from the last store.
func (c Chain) Delete(ctx context.Context, name string) error {
	if len(c) == 0 {
		return ErrReadOnly
	}
	return c[len(c)-1].Delete(ctx, name)
}
