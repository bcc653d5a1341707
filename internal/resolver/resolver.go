package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/registry"
)

// Logger defines the logging interface used by the resolver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AliasLookup resolves a saved alias to its parameters.
type AliasLookup interface {
	Lookup(ctx context.Context, name string) (paramset.ParamSet, error)
}

// RemoteLister lists the instruments of a remote server.
type RemoteLister interface {
	ListInstruments(ctx context.Context, address string) ([]paramset.ParamSet, error)
}

// DefaultServer is the server name that selects the configured default.
const DefaultServer = "default"

// Option configures a Resolver.
type Option func(*Resolver)

// WithAliases sets the alias store used by InstrumentByAlias and Open.
func WithAliases(a AliasLookup) Option {
	return func(r *Resolver) { r.aliases = a }
}

// WithRemote sets the client used for server listings.
func WithRemote(c RemoteLister) Option {
	return func(r *Resolver) { r.remote = c }
}

// WithBlacklist excludes modules matching any of the glob patterns.
func WithBlacklist(patterns ...string) Option {
	return func(r *Resolver) { r.blacklist = append(r.blacklist, patterns...) }
}

// WithServers sets the server alias table and the default server name
// or address used for DefaultServer.
func WithServers(servers map[string]string, defaultServer string) Option {
	return func(r *Resolver) {
		r.servers = servers
		r.defaultServer = defaultServer
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDefaultPolicy sets the reopen policy used when a call does not pass one.
func WithDefaultPolicy(p Policy) Option {
	return func(r *Resolver) { r.policy = p }
}

// WithVisa sets the resource manager used to open VISA instruments and to
// identify bare VISA addresses.
func WithVisa(v registry.VisaManager) Option {
	return func(r *Resolver) { r.visa = v }
}

// Resolver turns partial instrument requests into open driver instances.
//
// Thread Safety: the resolver itself holds no mutable state after
// construction. Concurrent calls are safe as far as the registry and
// session are, but two concurrent Instrument calls for the same device
// under PolicyStrict can both succeed; serialize them if that matters.
type Resolver struct {
	reg           *registry.Registry
	session       *driver.Session
	visa          registry.VisaManager
	aliases       AliasLookup
	remote        RemoteLister
	blacklist     []string
	servers       map[string]string
	defaultServer string
	policy        Policy
	logger        Logger
}

// New creates a resolver over reg and session. A nil reg uses
// registry.Default; a nil session creates a fresh one.
func New(reg *registry.Registry, session *driver.Session, opts ...Option) *Resolver {
	if reg == nil {
		reg = registry.Default
	}
	if session == nil {
		session = driver.NewSession()
	}
	r := &Resolver{
		reg:     reg,
		session: session,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session instruments are registered in.
func (r *Resolver) Session() *driver.Session { return r.session }

// ListOptions narrows ListInstruments.
type ListOptions struct {
	// Server lists a remote server instead of local providers. It is a
	// server alias, DefaultServer, or a host:port address.
	Server string

	// Module keeps only modules whose path contains this substring.
	Module string

	// Filters are keyword parameters, abbreviated as for Instrument.
	Filters paramset.ParamSet
}

// ListInstruments enumerates the instruments available to the providers
// that pass the filters, in registry priority order. Providers that fail
// to load or enumerate are skipped. No instrument is opened.
func (r *Resolver) ListInstruments(ctx context.Context, opts ListOptions) ([]paramset.ParamSet, error) {
	if opts.Server != "" {
		return r.listRemote(ctx, opts.Server)
	}

	filter := registry.Filter{Module: opts.Module, Blacklist: r.blacklist}
	var out []paramset.ParamSet
	for _, m := range r.keywordCandidates(opts.Filters, filter) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := identifying(m.Params)
		for _, ps := range r.enumerate(ctx, m.Entry) {
			if want.Len() == 0 || want.Matches(ps) {
				out = append(out, ps)
			}
		}
	}
	return out, nil
}

// keywordCandidates returns the keyword matches for ps, or every filtered
// entry when ps carries no driver keys.
func (r *Resolver) keywordCandidates(ps paramset.ParamSet, filter registry.Filter) []registry.KeywordMatch {
	if identifying(ps).Len() == 0 {
		entries := r.reg.Candidates(filter)
		out := make([]registry.KeywordMatch, len(entries))
		for i, e := range entries {
			out[i] = registry.KeywordMatch{Entry: e, Params: ps}
		}
		return out
	}
	return r.reg.MatchKeywords(ps, filter)
}

func (r *Resolver) listRemote(ctx context.Context, server string) ([]paramset.ParamSet, error) {
	if r.remote == nil {
		return nil, ErrNoRemote
	}
	addr, err := r.serverAddress(server)
	if err != nil {
		return nil, err
	}
	list, err := r.remote.ListInstruments(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("list instruments on %s: %w", addr, err)
	}
	return list, nil
}

func (r *Resolver) serverAddress(server string) (string, error) {
	if server == DefaultServer {
		if r.defaultServer == "" {
			return "", fmt.Errorf("%w: no default server configured", ErrUnknownServer)
		}
		server = r.defaultServer
	}
	if addr, ok := r.servers[server]; ok {
		return addr, nil
	}
	if strings.Contains(server, ":") {
		return server, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownServer, server)
}

// enumerate lists one provider's instruments. Load and enumeration
// failures are logged and yield nothing.
func (r *Resolver) enumerate(ctx context.Context, e registry.Entry) (out []paramset.ParamSet) {
	p, err := r.reg.Load(e.Module)
	if err != nil {
		return nil
	}
	lister, ok := p.(registry.Lister)
	if !ok {
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Info("instrument enumeration panicked", "module", e.Module, "panic", rec)
			out = nil
		}
	}()
	list, err := lister.ListInstruments(ctx)
	if err != nil {
		r.logger.Info("instrument enumeration failed", "module", e.Module, "error", err)
		return nil
	}

	out = make([]paramset.ParamSet, 0, len(list))
	for _, ps := range list {
		out = append(out, tag(ps, e, e.DefaultClass()))
	}
	return out
}

// tag adds module and classname to ps when absent.
func tag(ps paramset.ParamSet, e registry.Entry, classname string) paramset.ParamSet {
	if !ps.Has(paramset.KeyModule) {
		if next, err := ps.With(paramset.KeyModule, e.Module); err == nil {
			ps = next
		}
	}
	if !ps.Has(paramset.KeyClassname) {
		if next, err := ps.With(paramset.KeyClassname, classname); err == nil {
			ps = next
		}
	}
	return ps
}

// identifying strips the reserved routing keys, leaving the keys that
// select a device.
func identifying(ps paramset.ParamSet) paramset.ParamSet {
	return ps.Without(paramset.KeyModule, paramset.KeyClassname, paramset.KeyServer)
}

// OpenOption configures one Instrument call.
type OpenOption func(*openOptions)

type openOptions struct {
	policy Policy
	unique bool
}

// WithReopenPolicy overrides the resolver's default policy for one call.
func WithReopenPolicy(p Policy) OpenOption {
	return func(o *openOptions) { o.policy = p }
}

// RequireUnique makes a request that matches several instruments fail
// with ErrAmbiguous instead of picking the first by priority.
func RequireUnique() OpenOption {
	return func(o *openOptions) { o.unique = true }
}

// Open accepts any request form: a ParamSet, a map, a parameter literal
// such as `{'serial': 'X1'}`, or an alias name.
func (r *Resolver) Open(ctx context.Context, request any, opts ...OpenOption) (driver.Instrument, error) {
	switch req := request.(type) {
	case paramset.ParamSet:
		return r.Instrument(ctx, req, opts...)
	case map[string]any:
		ps, err := paramset.FromMap(req)
		if err != nil {
			return nil, err
		}
		return r.Instrument(ctx, ps, opts...)
	case string:
		if strings.HasPrefix(strings.TrimSpace(req), "{") {
			ps, err := paramset.Parse(req)
			if err != nil {
				return nil, err
			}
			return r.Instrument(ctx, ps, opts...)
		}
		return r.InstrumentByAlias(ctx, req, opts...)
	case driver.Instrument:
		return req, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidRequest, request)
	}
}

// InstrumentByAlias opens the instrument saved under name.
func (r *Resolver) InstrumentByAlias(ctx context.Context, name string, opts ...OpenOption) (driver.Instrument, error) {
	if r.aliases == nil {
		return nil, ErrNoAliases
	}
	ps, err := r.aliases.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.Instrument(ctx, ps, opts...)
}

// Instrument resolves ps to exactly one driver class and complete
// parameters, then opens it under the reopen policy.
//
// With module and classname present, discovery is skipped. Otherwise the
// keys select candidate modules (see registry.MatchKeywords), the
// candidates enumerate, and the first instrument by priority whose
// parameters match ps is chosen. A request of only visa_address that
// nothing enumerates is identified by *IDN?. A request whose keys are
// exactly a provider's parameters opens that provider's default class
// without enumerating.
func (r *Resolver) Instrument(ctx context.Context, ps paramset.ParamSet, opts ...OpenOption) (driver.Instrument, error) {
	o := openOptions{policy: r.policy}
	for _, opt := range opts {
		opt(&o)
	}
	if ps.Server() != "" {
		return nil, ErrRemoteInstrument
	}

	resolved, entry, err := r.resolve(ctx, ps, o)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, resolved, entry, o.policy)
}

func (r *Resolver) resolve(ctx context.Context, ps paramset.ParamSet, o openOptions) (paramset.ParamSet, registry.Entry, error) {
	if ps.Classname() != "" {
		return r.resolveDirect(ctx, ps)
	}

	filter := registry.Filter{Module: ps.Module(), Blacklist: r.blacklist}
	matches := r.keywordCandidates(ps, filter)
	if len(matches) == 0 {
		return paramset.ParamSet{}, registry.Entry{}, fmt.Errorf("%w: parameters %s match no driver module", ErrNoMatchingInstrument, ps)
	}

	type found struct {
		entry registry.Entry
		ps    paramset.ParamSet
	}
	var hits []found
	for _, m := range matches {
		want := identifying(m.Params)
		for _, listed := range r.enumerate(ctx, m.Entry) {
			if want.Matches(listed) {
				hits = append(hits, found{m.Entry, listed.Merge(want, false)})
			}
		}
		if len(hits) > 0 && !o.unique {
			break
		}
	}
	if len(hits) > 1 && o.unique {
		return paramset.ParamSet{}, registry.Entry{}, fmt.Errorf("%w: %s matches %d instruments", ErrAmbiguous, ps, len(hits))
	}
	if len(hits) > 0 {
		if len(hits) > 1 {
			r.logger.Debug("request matched several instruments, picking first", "params", ps.String(), "count", len(hits))
		}
		return hits[0].ps, hits[0].entry, nil
	}

	if keys := identifying(ps).Keys(); len(keys) == 1 && keys[0] == paramset.KeyVisaAddress {
		resolved, e, err := r.identifyVisa(ctx, ps, filter)
		if err == nil {
			return resolved, e, nil
		}
		if !errors.Is(err, ErrNoMatchingInstrument) {
			return paramset.ParamSet{}, registry.Entry{}, err
		}
	}

	for _, m := range matches {
		want := identifying(m.Params)
		if m.Entry.CoversExactly(want.Keys()) {
			r.logger.Debug("opening without enumeration", "module", m.Entry.Module)
			return tag(m.Params, m.Entry, m.Entry.DefaultClass()), m.Entry, nil
		}
	}
	return paramset.ParamSet{}, registry.Entry{}, fmt.Errorf("%w: no instrument matching %s was found", ErrNoMatchingInstrument, ps)
}

// resolveDirect handles requests naming their class.
func (r *Resolver) resolveDirect(ctx context.Context, ps paramset.ParamSet) (paramset.ParamSet, registry.Entry, error) {
	module := ps.Module()
	if module == "" {
		m, ok := r.reg.ClassModule(ps.Classname())
		if !ok {
			return paramset.ParamSet{}, registry.Entry{}, fmt.Errorf("%w: unknown class %s", ErrNoMatchingInstrument, ps.Classname())
		}
		module = m
	}
	e, ok := r.reg.Entry(module)
	if !ok || !e.HasClass(ps.Classname()) {
		return paramset.ParamSet{}, registry.Entry{}, fmt.Errorf("%w: no class %s in module %s", ErrNoMatchingInstrument, ps.Classname(), module)
	}
	ps = tag(ps, e, ps.Classname())

	filled, err := r.fillOut(ctx, ps, e)
	if err != nil {
		return paramset.ParamSet{}, registry.Entry{}, err
	}
	return filled, e, nil
}

// fillOut completes ps with the provider's fields when it lacks some of
// the entry's parameters. Without a FillOuter hook, the provider
// enumerates and the first match's fields are merged in.
func (r *Resolver) fillOut(ctx context.Context, ps paramset.ParamSet, e registry.Entry) (paramset.ParamSet, error) {
	missing := slices.ContainsFunc(e.Params, func(k string) bool { return !ps.Has(k) })
	if !missing {
		return ps, nil
	}

	p, err := r.reg.Load(e.Module)
	if err != nil {
		return paramset.ParamSet{}, err
	}
	if fo, ok := p.(registry.FillOuter); ok {
		filled, err := fo.FillOutParamSet(ctx, ps)
		if err != nil {
			return paramset.ParamSet{}, fmt.Errorf("fill out %s: %w", ps, err)
		}
		return filled, nil
	}

	want := identifying(ps)
	for _, listed := range r.enumerate(ctx, e) {
		if want.Matches(identifying(listed)) {
			return ps.Merge(listed, false), nil
		}
	}
	r.logger.Debug("could not fill out parameters", "module", e.Module, "params", ps.String())
	return ps, nil
}

// open applies the reopen policy and constructs the instrument.
func (r *Resolver) open(ctx context.Context, ps paramset.ParamSet, e registry.Entry, policy Policy) (driver.Instrument, error) {
	identity := ps.Identity()
	if existing, ok := r.session.Lookup(identity); ok {
		switch policy {
		case PolicyStrict:
			return nil, &driver.InstrumentExistsError{Identity: identity, Existing: existing}
		case PolicyReuse:
			r.logger.Debug("reusing open instrument", "identity", identity)
			return existing, nil
		}
	}

	p, err := r.reg.Load(e.Module)
	if err != nil {
		return nil, err
	}

	var inst driver.Instrument
	if opener, ok := p.(registry.Opener); ok {
		inst, err = opener.OpenInstrument(ctx, ps)
	} else {
		inst, err = p.NewInstrument(ps.Classname())
	}
	if err != nil {
		return nil, fmt.Errorf("construct %s.%s: %w", e.Module, ps.Classname(), err)
	}

	driver.Attach(inst, ps, r.session)
	if err := r.bindVisa(ctx, inst, ps); err != nil {
		return nil, errors.Join(err, inst.Close())
	}
	if init, ok := inst.(driver.Initializer); ok {
		if err := init.Initialize(ctx, ps.Settings()); err != nil {
			return nil, errors.Join(fmt.Errorf("initialize %s: %w", ps, err), inst.Close())
		}
	}

	r.session.Register(inst)
	r.logger.Info("instrument ready", "module", e.Module, "classname", ps.Classname(), "policy", policy.String())
	return inst, nil
}

func (r *Resolver) bindVisa(ctx context.Context, inst driver.Instrument, ps paramset.ParamSet) error {
	vi, ok := inst.(driver.VisaInstrument)
	if !ok || vi.Resource() != nil {
		return nil
	}
	addr := ps.VisaAddress()
	if addr == "" {
		return nil
	}
	if r.visa == nil {
		return ErrNoVisa
	}
	res, err := r.visa.Open(ctx, addr)
	if err != nil {
		return driver.WrapLibrary("open", addr, err)
	}
	return driver.BindResource(inst, res)
}
