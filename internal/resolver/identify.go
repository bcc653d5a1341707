package resolver

import (
	"context"
	"fmt"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/registry"
	"github.com/labkit/instrumental/internal/visa"
)

// identifyVisa opens the address in ps, asks it *IDN? and finds the class
// whose VisaInfo lists the reply's manufacturer and model. Providers
// implementing registry.VisaChecker are asked next, in priority order.
func (r *Resolver) identifyVisa(ctx context.Context, ps paramset.ParamSet, filter registry.Filter) (paramset.ParamSet, registry.Entry, error) {
	if r.visa == nil {
		return paramset.ParamSet{}, registry.Entry{}, fmt.Errorf("%w: cannot identify %s", ErrNoVisa, ps.VisaAddress())
	}
	addr := ps.VisaAddress()
	res, err := r.visa.Open(ctx, addr)
	if err != nil {
		return paramset.ParamSet{}, registry.Entry{}, driver.WrapLibrary("open", addr, err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			r.logger.Debug("closing identification resource failed", "address", addr, "error", err)
		}
	}()

	candidates := r.reg.Candidates(filter)
	if idn, err := res.Query(ctx, "*IDN?"); err != nil {
		r.logger.Debug("*IDN? query failed", "address", addr, "error", err)
	} else {
		id := visa.ParseIDN(idn)
		for _, e := range candidates {
			for _, class := range e.Classes {
				info, ok := e.VisaInfo[class]
				if ok && info.Matches(id.Manufacturer, id.Model) {
					r.logger.Debug("identified instrument", "address", addr, "module", e.Module, "classname", class)
					return tag(ps, e, class), e, nil
				}
			}
		}
	}

	for _, e := range candidates {
		if !e.HasParam(paramset.KeyVisaAddress) {
			continue
		}
		p, err := r.reg.Load(e.Module)
		if err != nil {
			continue
		}
		checker, ok := p.(registry.VisaChecker)
		if !ok {
			continue
		}
		if class, ok := checker.CheckVisaSupport(ctx, res); ok && e.HasClass(class) {
			return tag(ps, e, class), e, nil
		}
	}
	return paramset.ParamSet{}, registry.Entry{}, fmt.Errorf("%w: no driver identifies %s", ErrNoMatchingInstrument, addr)
}
