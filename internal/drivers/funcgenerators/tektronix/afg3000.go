// Package tektronix drives Tektronix AFG3000 series arbitrary function
// generators. Importing it registers the funcgenerators.tektronix module.
package tektronix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/drivers"
	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/registry"
	"github.com/labkit/instrumental/internal/visa"
)

// Module is the registry path of this driver module.
const Module = "funcgenerators.tektronix"

// ClassAFG3000 is the class name of the AFG3000 driver.
const ClassAFG3000 = "AFG3000"

var afgInfo = registry.VisaInfo{
	Manufacturer: "TEKTRONIX",
	Models: []string{
		"AFG3011", "AFG3021B", "AFG3022B", "AFG3101", "AFG3102", "AFG3251", "AFG3252",
	},
}

// ErrNoChannel is returned when asking for an output the model lacks.
var ErrNoChannel = errors.New("tektronix: no such channel")

// twoChannel lists the models with a second output.
var twoChannel = map[string]bool{"AFG3022B": true, "AFG3102": true, "AFG3252": true}

func init() {
	registry.MustRegister(registry.Entry{
		Module:   Module,
		Params:   []string{paramset.KeyVisaAddress},
		Classes:  []string{ClassAFG3000},
		VisaInfo: map[string]registry.VisaInfo{ClassAFG3000: afgInfo},
		Load:     load,
	})
}

// Shapes maps the shape names accepted by the Shape facet to SCPI
// function names.
var Shapes = map[any]any{
	"sine":   "SIN",
	"square": "SQU",
	"ramp":   "RAMP",
	"pulse":  "PULS",
	"dc":     "DC",
	"noise":  "PRN",
}

// channelFacets are the facet descriptors of one output channel. Names
// carry the channel prefix so both channels fit on one instrument.
type channelFacets struct {
	frequency, amplitude, offset, shape, output *facet.Facet
}

func newChannelFacets(ch int) channelFacets {
	src := fmt.Sprintf("SOUR%d:", ch)
	name := func(s string) string { return fmt.Sprintf("ch%d_%s", ch, s) }
	return channelFacets{
		frequency: facet.SCPI(name("frequency"), src+"FREQ",
			facet.Units("Hz"), facet.Type(facet.Float), facet.Limits(1e-6, 240e6)),
		amplitude: facet.SCPI(name("amplitude"), src+"VOLT",
			facet.Units("Vpp"), facet.Type(facet.Float), facet.Limits(0.01, 20)),
		offset: facet.SCPI(name("offset"), src+"VOLT:OFFS",
			facet.Units("V"), facet.Type(facet.Float), facet.Limits(-10, 10)),
		shape: facet.SCPI(name("shape"), src+"FUNC:SHAP",
			facet.Map(Shapes), facet.Cached()),
		output: facet.SCPI(name("output"), fmt.Sprintf("OUTP%d:STAT", ch),
			facet.Type(facet.Bool)),
	}
}

var channelFacetSets = [2]channelFacets{newChannelFacets(1), newChannelFacets(2)}

// Channel holds the facets of one output.
type Channel struct {
	Number    int
	Frequency *facet.Value
	Amplitude *facet.Value
	Offset    *facet.Value
	Output    *facet.Value
	Shape     *facet.Value
}

// AFG3000 is an AFG3000 series generator. One instance drives every
// output of the device; two-channel models get a second Channel.
type AFG3000 struct {
	driver.Base
	driver.VisaMixin

	Model    string
	Channels []*Channel
}

// Initialize identifies the model and binds the facets of its channels.
func (g *AFG3000) Initialize(ctx context.Context, _ map[string]any) error {
	idn, err := g.Query(ctx, "*IDN?")
	if err != nil {
		return err
	}
	g.Model = strings.ToUpper(visa.ParseIDN(idn).Model)

	n := 1
	if base, _, _ := strings.Cut(g.Model, "-"); twoChannel[base] {
		n = 2
	}
	g.Channels = make([]*Channel, 0, n)
	for i := range n {
		fs := channelFacetSets[i]
		g.Channels = append(g.Channels, &Channel{
			Number:    i + 1,
			Frequency: g.BindFacet(fs.frequency),
			Amplitude: g.BindFacet(fs.amplitude),
			Offset:    g.BindFacet(fs.offset),
			Shape:     g.BindFacet(fs.shape),
			Output:    g.BindFacet(fs.output),
		})
	}
	return nil
}

// Channel returns output n, counting from 1.
func (g *AFG3000) Channel(n int) (*Channel, error) {
	if n < 1 || n > len(g.Channels) {
		return nil, fmt.Errorf("%w: %s has no channel %d", ErrNoChannel, g.Model, n)
	}
	return g.Channels[n-1], nil
}

// Trigger sends a software trigger for burst and sweep modes.
func (g *AFG3000) Trigger(ctx context.Context) error {
	return g.Write(ctx, "*TRG")
}

type provider struct {
	registry.Classes
	env registry.Env
}

func load(env registry.Env) (registry.Provider, error) {
	return provider{
		Classes: registry.Classes{ClassAFG3000: func() driver.Instrument { return &AFG3000{} }},
		env:     env,
	}, nil
}

// ListInstruments implements registry.Lister by scanning VISA resources.
func (p provider) ListInstruments(ctx context.Context) ([]paramset.ParamSet, error) {
	return drivers.ScanVisa(ctx, p.env.Visa, []drivers.Model{{Class: ClassAFG3000, Info: afgInfo}}, p.env.Logger)
}

// CheckVisaSupport implements registry.VisaChecker for generators whose
// *IDN? model string carries a suffix, such as "AFG3021B-OPT".
func (provider) CheckVisaSupport(ctx context.Context, res visa.Resource) (string, bool) {
	reply, err := res.Query(ctx, "*IDN?")
	if err != nil {
		return "", false
	}
	idn := visa.ParseIDN(reply)
	if !strings.EqualFold(idn.Manufacturer, afgInfo.Manufacturer) {
		return "", false
	}
	return ClassAFG3000, strings.HasPrefix(strings.ToUpper(idn.Model), "AFG3")
}
