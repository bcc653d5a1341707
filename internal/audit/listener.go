package audit

import (
	"context"
	"time"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/telemetry"
)

// writeTimeout bounds one insert made from a session callback.
const writeTimeout = 2 * time.Second

// Logger defines the logging interface used by the listener.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Listener writes session events to a Repository. Register it with
// driver.WithListener.
//
// Write failures are logged and dropped.
type Listener struct {
	repo   Repository
	source string
	logger Logger
}

var _ driver.Listener = (*Listener)(nil)

// NewListener records events into repo, tagged with source (for example
// "cli" or "serve").
func NewListener(repo Repository, source string, logger Logger) *Listener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Listener{repo: repo, source: source, logger: logger}
}

// InstrumentOpened implements driver.Listener.
func (l *Listener) InstrumentOpened(inst driver.Instrument) {
	l.record(inst, ActionOpened, map[string]any{"params": inst.ParamSet().Map()})
}

// InstrumentClosed implements driver.Listener.
func (l *Listener) InstrumentClosed(inst driver.Instrument) {
	l.record(inst, ActionClosed, nil)
}

// FacetChanged implements driver.Listener.
func (l *Listener) FacetChanged(inst driver.Instrument, ev facet.ChangeEvent) {
	l.record(inst, ActionFacetChanged, map[string]any{
		"facet": ev.Name,
		"old":   telemetry.JSONValue(ev.Old),
		"new":   telemetry.JSONValue(ev.New),
	})
}

func (l *Listener) record(inst driver.Instrument, action string, details map[string]any) {
	ps := inst.ParamSet()
	entry := &AuditLog{
		Action:       action,
		InstrumentID: driver.InstanceID(inst).String(),
		Module:       ps.Module(),
		Classname:    ps.Classname(),
		Source:       l.source,
		Details:      details,
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.Warn("audit entry not stored", "action", action, "instrument", entry.InstrumentID, "error", err)
	}
}
