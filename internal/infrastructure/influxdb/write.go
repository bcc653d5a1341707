package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementFacet      = "facet_value"
	MeasurementInstrument = "instrument_event"
)

// FacetSample is one observed facet value.
type FacetSample struct {
	InstanceID string
	Module     string
	Classname  string
	Facet      string
	Unit       string
	Value      float64
	Time       time.Time
}

// RecordFacetChange writes a facet value. Tags carry the instrument
// identity, the value goes into the value field. A zero Time means now.
func (c *Client) RecordFacetChange(s FacetSample) {
	if !c.IsConnected() {
		return
	}
	ts := s.Time
	if ts.IsZero() {
		ts = c.now()
	}
	tags := map[string]string{
		"instance":  s.InstanceID,
		"module":    s.Module,
		"classname": s.Classname,
		"facet":     s.Facet,
	}
	if s.Unit != "" {
		tags["unit"] = s.Unit
	}
	c.writer.WritePoint(write.NewPoint(MeasurementFacet, tags, map[string]any{"value": s.Value}, ts))
}

// RecordInstrumentEvent writes an opened or closed event.
func (c *Client) RecordInstrumentEvent(instanceID, module, classname, event string) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(MeasurementInstrument,
		map[string]string{
			"instance":  instanceID,
			"module":    module,
			"classname": classname,
		},
		map[string]any{"event": event},
		c.now()))
}
