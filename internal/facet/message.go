package facet

import (
	"context"
	"fmt"
	"strings"
)

// Messenger is implemented by owners of message facets, typically drivers
// embedding driver.VisaMixin.
type Messenger interface {
	Write(ctx context.Context, msg string) error
	Query(ctx context.Context, msg string) (string, error)
}

// Message declares a facet backed by message templates. getMsg is sent as
// a query and the trimmed reply is the raw value; setMsg is a format string
// with one %s verb filled with the formatted value. An empty template
// disables that direction.
func Message(name, getMsg, setMsg string, opts ...Option) *Facet {
	var get GetFunc
	if getMsg != "" {
		get = func(ctx context.Context, owner any) (any, error) {
			m, ok := owner.(Messenger)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrNotMessenger, owner)
			}
			reply, err := m.Query(ctx, getMsg)
			if err != nil {
				return nil, err
			}
			return strings.TrimSpace(reply), nil
		}
	}

	var set SetFunc
	if setMsg != "" {
		set = func(ctx context.Context, owner any, value any) error {
			m, ok := owner.(Messenger)
			if !ok {
				return fmt.Errorf("%w: %T", ErrNotMessenger, owner)
			}
			return m.Write(ctx, fmt.Sprintf(setMsg, formatValue(value)))
		}
	}
	return New(name, get, set, opts...)
}

// SCPI declares a facet for a SCPI command: the value is queried with
// "<cmd>?" and set with "<cmd> <value>". Readonly facets get no setter.
func SCPI(name, cmd string, opts ...Option) *Facet {
	f := Message(name, cmd+"?", cmd+" %s", opts...)
	if f.readonly {
		f.set = nil
	}
	return f
}
