package telemetry

import (
	"time"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/infrastructure/influxdb"
	"github.com/labkit/instrumental/internal/infrastructure/mqtt"
	"github.com/labkit/instrumental/internal/units"
)

// Logger defines the logging interface used by the listener.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Publisher sends JSON events. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Recorder stores time series. *influxdb.Client implements it.
type Recorder interface {
	RecordFacetChange(s influxdb.FacetSample)
	RecordInstrumentEvent(instanceID, module, classname, event string)
}

// Option configures a Listener.
type Option func(*Listener)

// WithPublisher sends events to p.
func WithPublisher(p Publisher) Option {
	return func(l *Listener) { l.pub = p }
}

// WithRecorder stores facet values and lifecycle events in r.
func WithRecorder(r Recorder) Option {
	return func(l *Listener) { l.rec = r }
}

// WithLogger sets the logger for publish failures.
func WithLogger(logger Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Listener forwards session events to MQTT and InfluxDB. Register it on a
// driver.Session with driver.WithListener.
//
// Publish failures are logged and dropped; they never fail the facet set
// or the open that triggered them.
type Listener struct {
	pub    Publisher
	rec    Recorder
	logger Logger
	now    func() time.Time
}

var _ driver.Listener = (*Listener)(nil)

// New creates a listener. Without a publisher or recorder it does nothing.
func New(opts ...Option) *Listener {
	l := &Listener{logger: noopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StateEvent is published on the instrument state topic.
type StateEvent struct {
	Event     string         `json:"event"`
	ID        string         `json:"id"`
	Module    string         `json:"module"`
	Classname string         `json:"classname"`
	Params    map[string]any `json:"params"`
	Timestamp string         `json:"timestamp"`
}

// FacetEvent is published on the facet change topic.
type FacetEvent struct {
	ID        string `json:"id"`
	Facet     string `json:"facet"`
	Old       any    `json:"old"`
	New       any    `json:"new"`
	Timestamp string `json:"timestamp"`
}

// InstrumentOpened implements driver.Listener.
func (l *Listener) InstrumentOpened(inst driver.Instrument) {
	l.lifecycle(inst, "opened")
}

// InstrumentClosed implements driver.Listener.
func (l *Listener) InstrumentClosed(inst driver.Instrument) {
	l.lifecycle(inst, "closed")
}

// NewStateEvent describes a lifecycle event of inst.
func NewStateEvent(inst driver.Instrument, event string, at time.Time) StateEvent {
	ps := inst.ParamSet()
	return StateEvent{
		Event:     event,
		ID:        driver.InstanceID(inst).String(),
		Module:    ps.Module(),
		Classname: ps.Classname(),
		Params:    ps.Map(),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// NewFacetEvent describes a facet change on inst.
func NewFacetEvent(inst driver.Instrument, ev facet.ChangeEvent, at time.Time) FacetEvent {
	return FacetEvent{
		ID:        driver.InstanceID(inst).String(),
		Facet:     ev.Name,
		Old:       JSONValue(ev.Old),
		New:       JSONValue(ev.New),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

func (l *Listener) lifecycle(inst driver.Instrument, event string) {
	ev := NewStateEvent(inst, event, l.now())
	if l.pub != nil {
		if err := l.pub.PublishJSON(mqtt.Topics{}.InstrumentState(ev.ID), ev, true); err != nil {
			l.logger.Warn("instrument event not published", "id", ev.ID, "event", event, "error", err)
		}
	}
	if l.rec != nil {
		l.rec.RecordInstrumentEvent(ev.ID, ev.Module, ev.Classname, event)
	}
}

// FacetChanged implements driver.Listener.
func (l *Listener) FacetChanged(inst driver.Instrument, ev facet.ChangeEvent) {
	ps := inst.ParamSet()
	id := driver.InstanceID(inst).String()
	now := l.now()

	if l.pub != nil {
		msg := NewFacetEvent(inst, ev, now)
		if err := l.pub.PublishJSON(mqtt.Topics{}.FacetChange(id, ev.Name), msg, false); err != nil {
			l.logger.Warn("facet change not published", "id", id, "facet", ev.Name, "error", err)
		}
	}

	if l.rec == nil {
		return
	}
	value, unit, ok := numeric(ev.New)
	if !ok {
		l.logger.Debug("facet value not numeric, not recorded", "facet", ev.Name)
		return
	}
	l.rec.RecordFacetChange(influxdb.FacetSample{
		InstanceID: id,
		Module:     ps.Module(),
		Classname:  ps.Classname(),
		Facet:      ev.Name,
		Unit:       unit,
		Value:      value,
		Time:       now,
	})
}

// quantityJSON is how quantities appear in event payloads.
type quantityJSON struct {
	Magnitude float64 `json:"magnitude"`
	Unit      string  `json:"unit"`
}

// JSONValue renders facet values for JSON payloads. Quantities become
// {"magnitude", "unit"} objects; other values pass through.
func JSONValue(v any) any {
	if q, ok := v.(units.Quantity); ok {
		return quantityJSON{Magnitude: q.Magnitude, Unit: q.Unit.Symbol()}
	}
	return v
}

// numeric extracts a float for time series storage. Booleans map to 0/1.
func numeric(v any) (value float64, unit string, ok bool) {
	switch x := v.(type) {
	case units.Quantity:
		return x.Magnitude, x.Unit.Symbol(), true
	case float64:
		return x, "", true
	case float32:
		return float64(x), "", true
	case int:
		return float64(x), "", true
	case int64:
		return float64(x), "", true
	case int32:
		return float64(x), "", true
	case uint64:
		return float64(x), "", true
	case bool:
		if x {
			return 1, "", true
		}
		return 0, "", true
	default:
		return 0, "", false
	}
}
