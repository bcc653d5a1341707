// Package thorlabs drives Thorlabs PM100 series optical power meters over
// SCPI. Importing it registers the powermeters.thorlabs module.
package thorlabs

import (
	"context"
	"fmt"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/drivers"
	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/registry"
)

// Module is the registry path of this driver module.
const Module = "powermeters.thorlabs"

// ClassPM100D is the class name of the PM100 driver.
const ClassPM100D = "PM100D"

var pm100Info = registry.VisaInfo{
	Manufacturer: "Thorlabs",
	Models:       []string{"PM100D", "PM100A", "PM100USB", "PM101"},
}

func init() {
	registry.MustRegister(registry.Entry{
		Module:   Module,
		Params:   []string{paramset.KeyVisaAddress, "serial"},
		Classes:  []string{ClassPM100D},
		VisaInfo: map[string]registry.VisaInfo{ClassPM100D: pm100Info},
		Load:     load,
	})
}

var (
	wavelengthFacet = facet.SCPI("wavelength", "SENS:CORR:WAV",
		facet.Units("nm"), facet.Type(facet.Float), facet.Limits(185, 25000), facet.Cached(),
		facet.Doc("Correction wavelength of the sensor"))
	powerFacet = facet.SCPI("power", "MEAS:POW",
		facet.Units("W"), facet.Type(facet.Float), facet.Readonly(),
		facet.Doc("Measured optical power"))
	averagingFacet = facet.SCPI("averaging", "SENS:AVER:COUN",
		facet.Type(facet.Int), facet.Limits(1, 10000), facet.Step(1))
	autoRangeFacet = facet.SCPI("auto_range", "SENS:POW:RANG:AUTO",
		facet.Type(facet.Bool))
)

// PM100D is a Thorlabs PM100 series power meter.
type PM100D struct {
	driver.Base
	driver.VisaMixin

	Wavelength *facet.Value
	Power      *facet.Value
	Averaging  *facet.Value
	AutoRange  *facet.Value
}

// Initialize binds the facets and applies the optional "wavelength" and
// "averaging" settings.
func (m *PM100D) Initialize(ctx context.Context, settings map[string]any) error {
	m.Wavelength = m.BindFacet(wavelengthFacet)
	m.Power = m.BindFacet(powerFacet)
	m.Averaging = m.BindFacet(averagingFacet)
	m.AutoRange = m.BindFacet(autoRangeFacet)

	if err := m.Write(ctx, "SENS:POW:UNIT W"); err != nil {
		return err
	}
	if wl, ok := settings["wavelength"]; ok {
		if err := m.Wavelength.Set(ctx, wl); err != nil {
			return fmt.Errorf("applying wavelength setting: %w", err)
		}
	}
	if n, ok := settings["averaging"]; ok {
		if err := m.Averaging.Set(ctx, n); err != nil {
			return fmt.Errorf("applying averaging setting: %w", err)
		}
	}
	return nil
}

// Zero runs the dark current adjustment. The sensor must be covered.
func (m *PM100D) Zero(ctx context.Context) error {
	return m.Write(ctx, "SENS:CORR:COLL:ZERO")
}

type provider struct {
	registry.Classes
	env registry.Env
}

func load(env registry.Env) (registry.Provider, error) {
	return provider{
		Classes: registry.Classes{ClassPM100D: func() driver.Instrument { return &PM100D{} }},
		env:     env,
	}, nil
}

// ListInstruments implements registry.Lister by scanning VISA resources.
func (p provider) ListInstruments(ctx context.Context) ([]paramset.ParamSet, error) {
	return drivers.ScanVisa(ctx, p.env.Visa, []drivers.Model{{Class: ClassPM100D, Info: pm100Info}}, p.env.Logger)
}
