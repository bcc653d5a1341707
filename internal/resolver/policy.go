package resolver

import (
	"fmt"
	"strings"
)

// Policy decides what Instrument does when the resolved parameters
// identify an instrument that is already open in the session.
type Policy int

const (
	// PolicyStrict fails with driver.ErrInstrumentExists.
	PolicyStrict Policy = iota
	// PolicyReuse returns the open instance without initializing it again.
	PolicyReuse
	// PolicyNew always constructs a new instance. The session then maps the
	// identity to the newest one.
	PolicyNew
)

// String returns the config name of p.
func (p Policy) String() string {
	switch p {
	case PolicyStrict:
		return "strict"
	case PolicyReuse:
		return "reuse"
	case PolicyNew:
		return "new"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "strict", "reuse" or "new". The empty string is strict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return PolicyStrict, nil
	case "reuse":
		return PolicyReuse, nil
	case "new":
		return PolicyNew, nil
	default:
		return PolicyStrict, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}
