package registry

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/labkit/instrumental/internal/paramset"
)

// DefaultPriority is used for entries that do not set one. Lower runs first.
const DefaultPriority = 5

// Logger defines the logging interface used by the registry.
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

// Entry is the static metadata of one driver module. It is available
// without loading the module.
type Entry struct {
	// Module is the dotted module path, e.g. "powermeters.thorlabs".
	Module string

	// Params lists the parameter names that identify one instrument of
	// this module.
	Params []string

	// Classes lists the driver classes, default first.
	Classes []string

	// VisaInfo maps class names to their *IDN? manufacturer and models.
	VisaInfo map[string]VisaInfo

	// Priority orders candidates; lower runs first. Zero means DefaultPriority.
	Priority int

	// Load constructs the provider. It may fail when hardware libraries
	// are missing; such failures only exclude the module.
	Load func(Env) (Provider, error)

	seq int
}

// DefaultClass returns the first declared class.
func (e Entry) DefaultClass() string {
	if len(e.Classes) == 0 {
		return ""
	}
	return e.Classes[0]
}

// HasClass reports whether the entry declares classname.
func (e Entry) HasClass(classname string) bool {
	return slices.Contains(e.Classes, classname)
}

// HasParam reports whether name is one of the entry's parameters.
func (e Entry) HasParam(name string) bool {
	return slices.Contains(e.Params, name)
}

// CoversExactly reports whether keys is exactly the entry's parameter list.
func (e Entry) CoversExactly(keys []string) bool {
	if len(keys) != len(e.Params) {
		return false
	}
	for _, k := range keys {
		if !e.HasParam(k) {
			return false
		}
	}
	return true
}

// Registry holds driver module metadata and the providers loaded so far.
//
// Thread Safety: all public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	classes map[string]string // class -> module
	loaded  map[string]Provider
	env     Env
	logger  Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		classes: make(map[string]string),
		loaded:  make(map[string]Provider),
		logger:  noopLogger{},
	}
}

// Default is the registry driver packages add themselves to from init.
var Default = New()

// MustRegister adds e to Default and panics on invalid metadata.
func MustRegister(e Entry) {
	if err := Default.Register(e); err != nil {
		panic(err)
	}
}

// SetLogger sets the logger for load diagnostics.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
	if r.env.Logger == nil {
		r.env.Logger = logger
	}
}

// SetEnv sets the environment handed to providers when they load.
func (r *Registry) SetEnv(env Env) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if env.Logger == nil {
		env.Logger = r.logger
	}
	r.env = env
}

// Register adds an entry. Module paths and class names must be unique
// across the registry.
func (r *Registry) Register(e Entry) error {
	switch {
	case e.Module == "":
		return fmt.Errorf("%w: empty module path", ErrInvalidEntry)
	case len(e.Classes) == 0:
		return fmt.Errorf("%w: %s declares no classes", ErrInvalidEntry, e.Module)
	case e.Load == nil:
		return fmt.Errorf("%w: %s has no loader", ErrInvalidEntry, e.Module)
	}
	for class := range e.VisaInfo {
		if !e.HasClass(class) {
			return fmt.Errorf("%w: %s: visa info for undeclared class %s", ErrInvalidEntry, e.Module, class)
		}
	}
	if e.Priority == 0 {
		e.Priority = DefaultPriority
	}
	e.Params = slices.Clone(e.Params)
	e.Classes = slices.Clone(e.Classes)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.Module == e.Module {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, e.Module)
		}
	}
	for _, class := range e.Classes {
		if owner, ok := r.classes[class]; ok {
			return fmt.Errorf("%w: %s in %s and %s", ErrDuplicateClass, class, owner, e.Module)
		}
	}
	for _, class := range e.Classes {
		r.classes[class] = e.Module
	}
	e.seq = len(r.entries)
	r.entries = append(r.entries, e)
	return nil
}

// Entry returns the entry for module.
func (r *Registry) Entry(module string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Module == module {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns all entries in candidate order.
func (r *Registry) Entries() []Entry {
	return r.Candidates(Filter{})
}

// Filter narrows the candidate set.
type Filter struct {
	// Module keeps only entries whose path contains this substring.
	Module string

	// Blacklist drops entries whose path matches any of these globs.
	Blacklist []string
}

func (f Filter) keep(module string) bool {
	if f.Module != "" && !strings.Contains(module, f.Module) {
		return false
	}
	for _, pattern := range f.Blacklist {
		if ok, _ := path.Match(pattern, module); ok || pattern == module {
			return false
		}
	}
	return true
}

// Candidates returns the entries passing f, ordered by priority and then
// registration order.
func (r *Registry) Candidates(f Filter) []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if f.keep(e.Module) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// Load returns the provider for module, loading it on first use. A
// successful load is cached; a failed one is retried on the next call.
// Panics in the loader are recovered and reported as ErrLoadFailed.
func (r *Registry) Load(module string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.loaded[module]
	env, logger := r.env, r.logger
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	e, ok := r.Entry(module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	if env.Logger == nil {
		env.Logger = logger
	}

	p, err := tryLoad(e, env)
	if err != nil {
		logger.Info("driver module unavailable", "module", module, "error", err)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.loaded[module]; ok {
		return existing, nil
	}
	r.loaded[module] = p
	logger.Debug("driver module loaded", "module", module)
	return p, nil
}

func tryLoad(e Entry, env Env) (p Provider, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("%w: %s: panic: %v", ErrLoadFailed, e.Module, rec)
		}
	}()
	p, err = e.Load(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, e.Module, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s: loader returned no provider", ErrLoadFailed, e.Module)
	}
	return p, nil
}

// ClassModule returns the module that declares classname.
func (r *Registry) ClassModule(classname string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.classes[classname]
	return m, ok
}

// KeywordMatch is an entry selected by keyword tokens, with the given
// keys rewritten to the entry's own parameter names.
type KeywordMatch struct {
	Entry  Entry
	Params paramset.ParamSet
}

// MatchKeywords selects the entries that every key in ps can be attributed
// to. A key is split on underscores; some trailing run of segments must
// name one of the entry's parameters exactly, and each leading segment
// must be a substring of a component of the module path. So with a module
// "daq.ni" declaring "name", the key "ni_daq_name" matches and is
// normalized to "name". Reserved keys (module, classname, server,
// settings) are not considered.
func (r *Registry) MatchKeywords(ps paramset.ParamSet, f Filter) []KeywordMatch {
	var keys []string
	for _, k := range ps.Keys() {
		switch k {
		case paramset.KeyModule, paramset.KeyClassname, paramset.KeyServer, paramset.KeySettings:
			continue
		}
		keys = append(keys, k)
	}

	var out []KeywordMatch
	for _, e := range r.Candidates(f) {
		normalized := ps
		ok := true
		for _, k := range keys {
			name, matched := matchKey(e, k)
			if !matched {
				ok = false
				break
			}
			if name == k {
				continue
			}
			v, _ := ps.Get(k)
			next, err := normalized.Without(k).With(name, v)
			if err != nil {
				ok = false
				break
			}
			normalized = next
		}
		if ok && len(keys) > 0 {
			out = append(out, KeywordMatch{Entry: e, Params: normalized})
		}
	}
	return out
}

// matchKey returns the entry parameter that key names, preferring the
// longest parameter name.
func matchKey(e Entry, key string) (string, bool) {
	segs := strings.Split(key, "_")
	components := strings.Split(e.Module, ".")
	for i := 0; i < len(segs); i++ {
		name := strings.Join(segs[i:], "_")
		if !e.HasParam(name) {
			continue
		}
		if prefixMatches(segs[:i], components) {
			return name, true
		}
	}
	return "", false
}

func prefixMatches(segs, components []string) bool {
	for _, s := range segs {
		if s == "" {
			return false
		}
		found := false
		for _, c := range components {
			if strings.Contains(c, s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
