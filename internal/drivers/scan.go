// Package drivers holds helpers shared by the bundled driver modules. The
// modules themselves live in subpackages and register with
// registry.Default when imported; import drivers/all to get every one.
package drivers

import (
	"context"
	"time"

	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/registry"
	"github.com/labkit/instrumental/internal/visa"
)

// ScanTimeout bounds the *IDN? query sent to each resource during a scan.
const ScanTimeout = 500 * time.Millisecond

// Model ties a driver class to the identification it answers with.
type Model struct {
	Class string
	Info  registry.VisaInfo
}

// ScanVisa opens every resource vm knows about, asks *IDN? and returns a
// ParamSet (classname, visa_address, serial) for each resource that one of
// models identifies. Resources that fail to open or answer are skipped.
// A nil vm lists nothing.
func ScanVisa(ctx context.Context, vm registry.VisaManager, models []Model, logger registry.Logger) ([]paramset.ParamSet, error) {
	if vm == nil {
		return nil, nil
	}
	addrs, err := vm.ListResources(ctx)
	if err != nil {
		return nil, err
	}

	var out []paramset.ParamSet
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		idn, ok := identify(ctx, vm, addr, logger)
		if !ok {
			continue
		}
		for _, m := range models {
			if !m.Info.Matches(idn.Manufacturer, idn.Model) {
				continue
			}
			ps, err := paramset.Of(
				paramset.KeyClassname, m.Class,
				paramset.KeyVisaAddress, addr,
				"serial", idn.Serial,
			)
			if err != nil {
				return out, err
			}
			out = append(out, ps)
			break
		}
	}
	return out, nil
}

func identify(ctx context.Context, vm registry.VisaManager, addr string, logger registry.Logger) (visa.IDN, bool) {
	res, err := vm.Open(ctx, addr)
	if err != nil {
		logger.Debug("scan: open failed", "address", addr, "error", err)
		return visa.IDN{}, false
	}
	defer res.Close()

	var reply string
	err = visa.WithTimeout(res, ScanTimeout, func() error {
		var qerr error
		reply, qerr = res.Query(ctx, "*IDN?")
		return qerr
	})
	if err != nil {
		logger.Debug("scan: *IDN? failed", "address", addr, "error", err)
		return visa.IDN{}, false
	}
	return visa.ParseIDN(reply), true
}
