package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/labkit/instrumental/internal/infrastructure/config"
)

type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func tagMap(p *write.Point) map[string]string {
	m := make(map[string]string)
	for _, tag := range p.TagList() {
		m[tag.Key] = tag.Value
	}
	return m
}

func fieldMap(p *write.Point) map[string]any {
	m := make(map[string]any)
	for _, f := range p.FieldList() {
		m[f.Key] = f.Value
	}
	return m
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestRecordFacetChange(t *testing.T) {
	w := &recordingWriter{}
	c := newClient(w)
	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.RecordFacetChange(FacetSample{
		InstanceID: "a1b2",
		Module:     "powermeters.thorlabs",
		Classname:  "PM100D",
		Facet:      "wavelength",
		Unit:       "nm",
		Value:      1064,
	})

	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementFacet {
		t.Errorf("measurement = %q, want %q", p.Name(), MeasurementFacet)
	}
	if !p.Time().Equal(fixed) {
		t.Errorf("time = %v, want %v", p.Time(), fixed)
	}
	tags := tagMap(p)
	for k, want := range map[string]string{"instance": "a1b2", "facet": "wavelength", "unit": "nm", "classname": "PM100D"} {
		if tags[k] != want {
			t.Errorf("tag %s = %q, want %q", k, tags[k], want)
		}
	}
	if v := fieldMap(p)["value"]; v != 1064.0 {
		t.Errorf("value field = %v, want 1064", v)
	}
}

func TestRecordInstrumentEvent(t *testing.T) {
	w := &recordingWriter{}
	c := newClient(w)
	c.RecordInstrumentEvent("a1b2", "funcgenerators.tektronix", "AFG3000", "opened")

	if len(w.points) != 1 || w.points[0].Name() != MeasurementInstrument {
		t.Fatalf("points = %v", w.points)
	}
	if ev := fieldMap(w.points[0])["event"]; ev != "opened" {
		t.Errorf("event field = %v, want opened", ev)
	}
}

func TestClosedClientDropsWrites(t *testing.T) {
	w := &recordingWriter{}
	c := newClient(w)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Close() flushed %d times, want 1", w.flushes)
	}

	c.RecordFacetChange(FacetSample{Facet: "power", Value: 1})
	c.Flush()
	if len(w.points) != 0 || w.flushes != 1 {
		t.Errorf("closed client wrote %d points, flushed %d times", len(w.points), w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

func TestWriteErrorCallback(t *testing.T) {
	c := newClient(&recordingWriter{})
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("bucket not found")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if err.Error() != "bucket not found" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
