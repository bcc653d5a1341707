package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/infrastructure/database"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/migrations"
)

func openRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "state.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateList(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	entries := []*AuditLog{
		{Action: ActionOpened, InstrumentID: "a", Module: "lasers.bench", Source: "cli", CreatedAt: base},
		{Action: ActionFacetChanged, InstrumentID: "a", Module: "lasers.bench", Source: "cli",
			Details: map[string]any{"facet": "power"}, CreatedAt: base.Add(time.Millisecond)},
		{Action: ActionOpened, InstrumentID: "b", Module: "powermeters.thorlabs", Source: "serve", CreatedAt: base.Add(time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string // instrument ids, newest first
		total   int
	}{
		{"all", Filter{}, []string{"b", "a", "a"}, 3},
		{"by action", Filter{Action: ActionOpened}, []string{"b", "a"}, 2},
		{"by instrument", Filter{InstrumentID: "a"}, []string{"a", "a"}, 2},
		{"by module", Filter{Module: "powermeters.thorlabs"}, []string{"b"}, 1},
		{"paged", Filter{Limit: 1, Offset: 1}, []string{"a"}, 3},
		{"no match", Filter{Action: ActionClosed}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Logs) != len(tt.wantIDs) {
				t.Fatalf("got %d logs, want %d", len(res.Logs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if res.Logs[i].InstrumentID != id {
					t.Errorf("log %d instrument = %q, want %q", i, res.Logs[i].InstrumentID, id)
				}
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: ActionFacetChanged})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := res.Logs[0]; got.Details["facet"] != "power" || !got.CreatedAt.Equal(base.Add(time.Millisecond)) {
		t.Errorf("facet entry = %+v", got)
	}
}

func TestSQLiteRepository_LimitClamp(t *testing.T) {
	res, err := openRepo(t).List(context.Background(), Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != 200 || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want 200/0", res.Limit, res.Offset)
	}
	if res.Logs == nil {
		t.Error("Logs is nil, want empty slice")
	}
}

type laser struct {
	driver.Base
	Power *facet.Value
}

func TestListener(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	s := driver.NewSession(driver.WithListener(NewListener(repo, "cli", nil)))

	l := &laser{}
	driver.Attach(l, paramset.MustOf("module", "lasers.bench", "classname", "Bench", "serial", "L7"), s)
	l.Power = l.BindFacet(facet.Manual("power", facet.Units("mW")))
	s.Register(l)
	id := driver.InstanceID(l).String()

	if err := l.Power.Set(ctx, "5 mW"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{InstrumentID: id})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{ActionClosed, ActionFacetChanged, ActionOpened}
	if len(res.Logs) != len(want) {
		t.Fatalf("got %d logs, want %d: %+v", len(res.Logs), len(want), res.Logs)
	}
	for i, action := range want {
		got := res.Logs[i]
		if got.Action != action || got.Source != "cli" || got.Module != "lasers.bench" || got.Classname != "Bench" {
			t.Errorf("log %d = %+v, want action %s", i, got, action)
		}
	}
	newVal, ok := res.Logs[1].Details["new"].(map[string]any)
	if !ok || newVal["unit"] != "mW" || newVal["magnitude"] != 5.0 {
		t.Errorf("facet change details = %v", res.Logs[1].Details)
	}
}

type failingRepo struct{ Repository }

func (failingRepo) Create(context.Context, *AuditLog) error { return errors.New("disk full") }

type warnLogger struct{ warnings int }

func (w *warnLogger) Warn(string, ...any) { w.warnings++ }

func TestListenerDropsFailures(t *testing.T) {
	logger := &warnLogger{}
	s := driver.NewSession(driver.WithListener(NewListener(failingRepo{}, "serve", logger)))
	l := &laser{}
	driver.Attach(l, paramset.MustOf("module", "lasers.bench", "serial", "L8"), s)
	s.Register(l)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if logger.warnings != 2 {
		t.Errorf("warnings = %d, want 2", logger.warnings)
	}
}
