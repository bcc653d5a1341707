package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/visa"
)

// VisaManager opens and enumerates VISA resources.
// *visa.ResourceManager satisfies it.
type VisaManager interface {
	Open(ctx context.Context, address string) (visa.Resource, error)
	ListResources(ctx context.Context) ([]string, error)
}

// Env is what a provider receives when it is loaded.
type Env struct {
	Visa   VisaManager
	Logger Logger
}

// Provider is a loaded driver module. It constructs driver objects by
// class name; the resolver then attaches and initializes them.
type Provider interface {
	NewInstrument(classname string) (driver.Instrument, error)
}

// Lister is implemented by providers that can enumerate the instruments
// attached to this machine.
type Lister interface {
	ListInstruments(ctx context.Context) ([]paramset.ParamSet, error)
}

// Opener is implemented by providers that construct instruments from a
// complete ParamSet themselves instead of by class name.
type Opener interface {
	OpenInstrument(ctx context.Context, ps paramset.ParamSet) (driver.Instrument, error)
}

// FillOuter is implemented by providers that complete a partial ParamSet
// without the default enumerate-and-merge.
type FillOuter interface {
	FillOutParamSet(ctx context.Context, ps paramset.ParamSet) (paramset.ParamSet, error)
}

// VisaChecker is implemented by providers that can tell from an open
// resource whether they drive it, returning the class name.
type VisaChecker interface {
	CheckVisaSupport(ctx context.Context, res visa.Resource) (classname string, ok bool)
}

// VisaInfo identifies a class by its *IDN? manufacturer and models.
type VisaInfo struct {
	Manufacturer string
	Models       []string
}

// Matches reports whether an *IDN? reply's manufacturer and model belong
// to this class. Comparison is case-insensitive.
func (v VisaInfo) Matches(manufacturer, model string) bool {
	if !strings.EqualFold(strings.TrimSpace(manufacturer), v.Manufacturer) {
		return false
	}
	model = strings.TrimSpace(model)
	for _, m := range v.Models {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

// Classes is a Provider built from constructors keyed by class name.
type Classes map[string]func() driver.Instrument

// NewInstrument constructs the named class.
func (c Classes) NewInstrument(classname string) (driver.Instrument, error) {
	ctor, ok := c[classname]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, classname)
	}
	return ctor(), nil
}
