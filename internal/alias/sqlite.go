package alias

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/labkit/instrumental/internal/paramset"
)

// SQLiteStore persists aliases in the instrument_aliases table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Save upserts the alias. Parameters are stored as JSON, including
// settings.
func (s *SQLiteStore) Save(ctx context.Context, name string, ps paramset.ParamSet) error {
	n, err := validName(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("encoding alias %q: %w", n, err)
	}
	now := s.now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO instrument_aliases (name, params, module, classname, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			params = excluded.params,
			module = excluded.module,
			classname = excluded.classname,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, n, string(data), ps.Module(), ps.Classname(), now, now); err != nil {
		return fmt.Errorf("saving alias %q: %w", n, err)
	}
	return nil
}

// Lookup returns the alias for name.
func (s *SQLiteStore) Lookup(ctx context.Context, name string) (paramset.ParamSet, error) {
	name, err := validName(name)
	if err != nil {
		return paramset.ParamSet{}, err
	}
	var data string
	err = s.db.QueryRowContext(ctx, "SELECT params FROM instrument_aliases WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return paramset.ParamSet{}, fmt.Errorf("%w: %s", ErrAliasNotFound, name)
		}
		return paramset.ParamSet{}, fmt.Errorf("querying alias %q: %w", name, err)
	}
	var ps paramset.ParamSet
	if err := json.Unmarshal([]byte(data), &ps); err != nil {
		return paramset.ParamSet{}, fmt.Errorf("decoding alias %q: %w", name, err)
	}
	return ps, nil
}

// List returns all aliases ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]Alias, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, params FROM instrument_aliases ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying aliases: %w", err)
	}
	defer rows.Close()

	var out []Alias
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("scanning alias row: %w", err)
		}
		var ps paramset.ParamSet
		if err := json.Unmarshal([]byte(data), &ps); err != nil {
			return nil, fmt.Errorf("decoding alias %q: %w", name, err)
		}
		out = append(out, Alias{Name: name, Params: ps, Source: "database"})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aliases: %w", err)
	}
	return out, nil
}

// Delete removes name.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM instrument_aliases WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting alias %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAliasNotFound, name)
	}
	return nil
}
