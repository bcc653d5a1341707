package units

import (
	"math"

	gounits "github.com/bcicen/go-units"
)

// ladder is a base unit together with its decimal-prefixed forms.
type ladder struct {
	name     string
	symbol   string
	quantity string
}

// ladders are the units instrument facets use. Prefixed forms missing from
// the go-units registry are added at init with ratio conversions to the base.
var ladders = []ladder{
	{"meter", "m", "length"},
	{"gram", "g", "mass"},
	{"second", "s", "time"},
	{"ampere", "A", "electric current"},
	{"volt", "V", "voltage"},
	{"volt peak-to-peak", "Vpp", "voltage"},
	{"watt", "W", "power"},
	{"hertz", "Hz", "frequency"},
}

type prefix struct {
	symbol string
	exp    int
}

// prefixes omits hecto and deca: "h" is the hour and "da" is never used on
// a bench.
var prefixes = []prefix{
	{"T", 12}, {"G", 9}, {"M", 6}, {"k", 3},
	{"d", -1}, {"c", -2}, {"m", -3}, {"u", -6}, {"µ", -6}, {"μ", -6},
	{"n", -9}, {"p", -12}, {"f", -15},
}

// extras are non-decimal units tied to a ladder base by a fixed ratio.
var extras = []struct {
	name, symbol, to string
	ratio            float64
}{
	{"minute", "min", "s", 60},
	{"hour", "h", "s", 3600},
}

// entry is a registered unit and its place on a ladder.
type entry struct {
	unit gounits.Unit
	base string
	exp  int
}

// bySymbol is filled at init and read-only afterwards.
var bySymbol = map[string]entry{}

func init() {
	for _, l := range ladders {
		base, _ := ensure(l.name, l.symbol, l.quantity)
		bySymbol[l.symbol] = entry{unit: base, base: l.symbol}
		for _, p := range prefixes {
			sym := p.symbol + l.symbol
			u, added := ensure(sym, sym, l.quantity)
			if added {
				gounits.NewRatioConversion(u, base, math.Pow10(p.exp))
			}
			bySymbol[sym] = entry{unit: u, base: l.symbol, exp: p.exp}
		}
	}
	// Peak-to-peak settings accept plain volts.
	gounits.NewRatioConversion(bySymbol["Vpp"].unit, bySymbol["V"].unit, 1)

	for _, x := range extras {
		to := bySymbol[x.to]
		u, added := ensure(x.name, x.symbol, to.unit.Quantity)
		if added {
			gounits.NewRatioConversion(u, to.unit, x.ratio)
		}
		bySymbol[x.symbol] = entry{unit: u}
	}
}

// ensure returns the registered unit with exactly this symbol or name,
// adding it when go-units does not know it. Find also matches
// case-insensitively, so a hit is only taken when it is identical.
func ensure(name, symbol, quantity string) (gounits.Unit, bool) {
	if u, err := gounits.Find(symbol); err == nil && u.Symbol == symbol {
		return u, false
	}
	if u, err := gounits.Find(name); err == nil && u.Name == name {
		return u, false
	}
	return gounits.NewUnit(name, symbol, gounits.UnitOptionQuantity(quantity)), true
}
