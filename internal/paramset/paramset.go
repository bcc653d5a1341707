package paramset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Reserved keys with a fixed meaning for the resolver.
const (
	KeyModule      = "module"
	KeyClassname   = "classname"
	KeyServer      = "server"
	KeySettings    = "settings"
	KeyVisaAddress = "visa_address"
)

// ParamSet describes how to open one specific instrument.
//
// It is an ordered bag of identifying key/value pairs plus a distinguished
// settings map of non-identifying construction options. Settings never take
// part in equality, matching or identity.
//
// ParamSet has value semantics: every modifying method returns a new set and
// leaves the receiver untouched, so a set handed to a driver cannot change
// underneath it.
type ParamSet struct {
	keys     []string
	values   map[string]any
	settings map[string]any
}

// Of builds a ParamSet from alternating key/value arguments.
//
// Example:
//
//	ps, err := paramset.Of("cam_serial", "Z9", "settings", map[string]any{"exposure": "10 ms"})
func Of(kv ...any) (ParamSet, error) {
	if len(kv)%2 != 0 {
		return ParamSet{}, ErrOddArguments
	}

	var ps ParamSet
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return ParamSet{}, fmt.Errorf("%w: %v (%T)", ErrKeyNotString, kv[i], kv[i])
		}
		if err := ps.put(key, kv[i+1]); err != nil {
			return ParamSet{}, err
		}
	}
	return ps, nil
}

// MustOf is like Of but panics on error. Intended for static declarations.
func MustOf(kv ...any) ParamSet {
	ps, err := Of(kv...)
	if err != nil {
		panic(err)
	}
	return ps
}

// FromMap builds a ParamSet from a string-keyed map.
// Keys are ordered lexically since Go maps carry no order.
func FromMap(m map[string]any) (ParamSet, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ps ParamSet
	for _, k := range keys {
		if err := ps.put(k, m[k]); err != nil {
			return ParamSet{}, err
		}
	}
	return ps, nil
}

// FromAnyMap builds a ParamSet from a map whose keys are not statically
// known to be strings, as produced by YAML or CBOR decoding.
// Returns ErrKeyNotString if any key is not a string.
func FromAnyMap(m map[any]any) (ParamSet, error) {
	sm := make(map[string]any, len(m))
	for k, v := range m {
		key, ok := k.(string)
		if !ok {
			return ParamSet{}, fmt.Errorf("%w: %v (%T)", ErrKeyNotString, k, k)
		}
		sm[key] = v
	}
	return FromMap(sm)
}

// Parse parses a stored parameter literal (a JSON object) into a ParamSet,
// preserving the key order of the literal.
func Parse(literal string) (ParamSet, error) {
	dec := json.NewDecoder(strings.NewReader(literal))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return ParamSet{}, fmt.Errorf("%w: %w", ErrInvalidLiteral, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ParamSet{}, fmt.Errorf("%w: expected object", ErrInvalidLiteral)
	}

	var ps ParamSet
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ParamSet{}, fmt.Errorf("%w: %w", ErrInvalidLiteral, err)
		}
		key, ok := tok.(string)
		if !ok {
			return ParamSet{}, fmt.Errorf("%w: %v", ErrKeyNotString, tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return ParamSet{}, fmt.Errorf("%w: value of %q: %w", ErrInvalidLiteral, key, err)
		}
		if err := ps.put(key, fromJSON(raw)); err != nil {
			return ParamSet{}, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return ParamSet{}, fmt.Errorf("%w: %w", ErrInvalidLiteral, err)
	}
	return ps, nil
}

// put inserts or replaces a key in place. Only used while building.
func (p *ParamSet) put(key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	if key == KeySettings {
		settings, err := asSettings(value)
		if err != nil {
			return err
		}
		p.settings = settings
		return nil
	}
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return nil
}

// clone returns a copy that shares no maps or slices with p.
func (p ParamSet) clone() ParamSet {
	out := ParamSet{
		keys:   append([]string(nil), p.keys...),
		values: make(map[string]any, len(p.values)),
	}
	for k, v := range p.values {
		out.values[k] = v
	}
	if p.settings != nil {
		out.settings = copyMap(p.settings)
	}
	return out
}

// Len returns the number of identifying keys (settings excluded).
func (p ParamSet) Len() int { return len(p.keys) }

// IsZero reports whether the set has no keys and no settings.
func (p ParamSet) IsZero() bool { return len(p.keys) == 0 && len(p.settings) == 0 }

// Keys returns the identifying keys in insertion order.
func (p ParamSet) Keys() []string { return append([]string(nil), p.keys...) }

// Get returns the value stored under key.
func (p ParamSet) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p ParamSet) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// GetString returns the value under key formatted as a string, or "" if absent.
func (p ParamSet) GetString(key string) string {
	v, ok := p.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Module returns the dotted provider module path, if set.
func (p ParamSet) Module() string { return p.GetString(KeyModule) }

// Classname returns the driver class name, if set.
func (p ParamSet) Classname() string { return p.GetString(KeyClassname) }

// Server returns the remote endpoint, if set.
func (p ParamSet) Server() string { return p.GetString(KeyServer) }

// VisaAddress returns the VISA resource address, if set.
func (p ParamSet) VisaAddress() string { return p.GetString(KeyVisaAddress) }

// Settings returns a shallow copy of the settings map (never nil).
func (p ParamSet) Settings() map[string]any {
	if p.settings == nil {
		return map[string]any{}
	}
	return copyMap(p.settings)
}

// With returns a copy of p with key set to value.
// Setting KeySettings replaces the settings map.
func (p ParamSet) With(key string, value any) (ParamSet, error) {
	out := p.clone()
	if err := out.put(key, value); err != nil {
		return ParamSet{}, err
	}
	return out, nil
}

// WithSettings returns a copy of p whose settings are s.
func (p ParamSet) WithSettings(s map[string]any) ParamSet {
	out := p.clone()
	out.settings = copyMap(s)
	return out
}

// Without returns a copy of p without the given keys.
func (p ParamSet) Without(keys ...string) ParamSet {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := ParamSet{values: make(map[string]any, len(p.values))}
	for _, k := range p.keys {
		if drop[k] {
			continue
		}
		out.keys = append(out.keys, k)
		out.values[k] = p.values[k]
	}
	if !drop[KeySettings] && p.settings != nil {
		out.settings = copyMap(p.settings)
	}
	return out
}

// Merge returns the union of p and other. On conflicting keys the value of
// other wins only when overwrite is true. Settings are merged the same way.
//
// Merge is used to fill out a partial request with the fields discovered by
// enumeration.
func (p ParamSet) Merge(other ParamSet, overwrite bool) ParamSet {
	out := p.clone()
	if out.values == nil {
		out.values = make(map[string]any, len(other.values))
	}
	for _, k := range other.keys {
		if _, exists := out.values[k]; exists && !overwrite {
			continue
		}
		if _, exists := out.values[k]; !exists {
			out.keys = append(out.keys, k)
		}
		out.values[k] = other.values[k]
	}
	if len(other.settings) > 0 {
		if out.settings == nil {
			out.settings = make(map[string]any, len(other.settings))
		}
		for k, v := range other.settings {
			if _, exists := out.settings[k]; exists && !overwrite {
				continue
			}
			out.settings[k] = v
		}
	}
	return out
}

// Matches reports whether p and other are compatible: every key of the set
// with fewer keys has an equal value in the other one. Settings are ignored.
//
// This is a subset test, so a fully specified set returned by enumeration
// matches a partially specified request.
func (p ParamSet) Matches(other ParamSet) bool {
	small, large := p, other
	if small.Len() > large.Len() {
		small, large = large, small
	}
	for _, k := range small.keys {
		v, ok := large.values[k]
		if !ok || !valuesEqual(small.values[k], v) {
			return false
		}
	}
	return true
}

// Equal reports whether p and other hold the same identifying key/value
// pairs, regardless of order. Settings are ignored.
func (p ParamSet) Equal(other ParamSet) bool {
	if p.Len() != other.Len() {
		return false
	}
	return p.Matches(other)
}

// Identity returns a canonical string that is equal for two sets iff Equal
// reports true. It is the instance cache key.
func (p ParamSet) Identity() string {
	keys := p.Keys()
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s=%#v", k, normalize(p.values[k]))
	}
	return b.String()
}

// Map returns the set as a plain map, including settings under KeySettings
// when present.
func (p ParamSet) Map() map[string]any {
	m := make(map[string]any, len(p.values)+1)
	for k, v := range p.values {
		m[k] = v
	}
	if len(p.settings) > 0 {
		m[KeySettings] = copyMap(p.settings)
	}
	return m
}

// String renders the set in insertion order for logs and error messages.
func (p ParamSet) String() string {
	var b strings.Builder
	b.WriteString("ParamSet(")
	for i, k := range p.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%#v", k, p.values[k])
	}
	if len(p.settings) > 0 {
		if len(p.keys) > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "settings=%v", p.settings)
	}
	b.WriteString(")")
	return b.String()
}

// MarshalJSON encodes the set as a JSON object in insertion order.
func (p ParamSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONPair(&buf, k, p.values[k]); err != nil {
			return nil, err
		}
	}
	if len(p.settings) > 0 {
		if len(p.keys) > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONPair(&buf, KeySettings, p.settings); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (p *ParamSet) UnmarshalJSON(data []byte) error {
	ps, err := Parse(string(data))
	if err != nil {
		return err
	}
	*p = ps
	return nil
}

func writeJSONPair(buf *bytes.Buffer, key string, value any) error {
	kb, err := json.Marshal(key)
	if err != nil {
		return err
	}
	vb, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	buf.Write(kb)
	buf.WriteByte(':')
	buf.Write(vb)
	return nil
}

func asSettings(value any) (map[string]any, error) {
	switch s := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return copyMap(s), nil
	case map[any]any:
		out := make(map[string]any, len(s))
		for k, v := range s {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: settings key %v", ErrInvalidSettings, k)
			}
			out[key] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidSettings, value)
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fromJSON converts json.Number values produced by a UseNumber decoder.
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = fromJSON(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = fromJSON(e)
		}
		return x
	default:
		return v
	}
}

// normalize maps every numeric type onto float64 so that 1, int64(1) and
// 1.0 compare equal.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return v
	}
}

func valuesEqual(a, b any) bool {
	na, nb := normalize(a), normalize(b)
	if fa, ok := na.(float64); ok {
		fb, ok := nb.(float64)
		return ok && fa == fb
	}
	return reflect.DeepEqual(na, nb)
}
