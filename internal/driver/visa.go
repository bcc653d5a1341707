package driver

import (
	"context"
	"time"

	"github.com/labkit/instrumental/internal/visa"
)

// VisaInstrument is an instrument that talks over a VISA resource.
type VisaInstrument interface {
	Instrument
	Resource() visa.Resource
	SetResource(res visa.Resource)
}

// VisaMixin gives a driver a VISA resource and message helpers. Embedding
// it makes the driver a facet.Messenger, so SCPI facets work directly.
// Transport failures are returned as *LibraryError.
type VisaMixin struct {
	res visa.Resource
}

// Resource returns the bound resource, or nil.
func (m *VisaMixin) Resource() visa.Resource { return m.res }

// SetResource binds res. BindResource should be preferred so that the
// resource is released on close.
func (m *VisaMixin) SetResource(res visa.Resource) { m.res = res }

// Write sends msg.
func (m *VisaMixin) Write(ctx context.Context, msg string) error {
	if m.res == nil {
		return ErrNoResource
	}
	return WrapLibrary("write", m.res.Address(), m.res.Write(ctx, msg))
}

// Query sends msg and returns the reply.
func (m *VisaMixin) Query(ctx context.Context, msg string) (string, error) {
	if m.res == nil {
		return "", ErrNoResource
	}
	reply, err := m.res.Query(ctx, msg)
	if err != nil {
		return "", WrapLibrary("query", m.res.Address(), err)
	}
	return reply, nil
}

// Read reads one message.
func (m *VisaMixin) Read(ctx context.Context) (string, error) {
	if m.res == nil {
		return "", ErrNoResource
	}
	reply, err := m.res.Read(ctx)
	if err != nil {
		return "", WrapLibrary("read", m.res.Address(), err)
	}
	return reply, nil
}

// WithTimeout runs fn with the resource timeout temporarily set to d.
func (m *VisaMixin) WithTimeout(d time.Duration, fn func() error) error {
	if m.res == nil {
		return ErrNoResource
	}
	return visa.WithTimeout(m.res, d, fn)
}

// BindResource binds res to inst and closes res when inst closes.
func BindResource(inst Instrument, res visa.Resource) error {
	vi, ok := inst.(VisaInstrument)
	if !ok {
		return ErrNotVisa
	}
	vi.SetResource(res)
	inst.base().OnClose(func() error {
		return WrapLibrary("close", res.Address(), res.Close())
	})
	return nil
}
