package trace

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Binding is one variable of an environment snapshot.
type Binding struct {
	Name  string
	Value domain.Value
}

// Env is an immutable environment snapshot, sorted by variable name.
type Env struct {
	bindings []Binding
}

// Get returns the value bound to name.
func (e Env) Get(name string) (domain.Value, bool) {
	i := sort.Search(len(e.bindings), func(i int) bool { return e.bindings[i].Name >= name })
	if i < len(e.bindings) && e.bindings[i].Name == name {
		return e.bindings[i].Value, true
	}
	return nil, false
}

// Lookup is Get for callers that know the variable exists; it returns nil otherwise.
func (e Env) Lookup(name string) domain.Value {
	v, _ := e.Get(name)
	return v
}

func (e Env) Len() int { return len(e.bindings) }

// Bindings returns a copy of the snapshot's bindings.
func (e Env) Bindings() []Binding {
	out := make([]Binding, len(e.bindings))
	copy(out, e.bindings)
	return out
}

// Strings renders every value.
func (e Env) Strings() map[string]string {
	out := make(map[string]string, len(e.bindings))
	for _, b := range e.bindings {
		out[b.Name] = b.Value.String()
	}
	return out
}

func (e Env) String() string {
	parts := make([]string, len(e.bindings))
	for i, b := range e.bindings {
		parts[i] = b.Name + ": " + b.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MarshalJSON encodes the snapshot as an object from variable name to rendered value.
func (e Env) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Strings())
}

// store is the builder's working environment. A nil store is an unreachable program point.
type store map[string]domain.Value

func (s store) with(name string, v domain.Value) store {
	out := make(store, len(s))
	for k, val := range s {
		out[k] = val
	}
	out[name] = v
	return out
}

func (s store) equal(o store) bool {
	if (s == nil) != (o == nil) || len(s) != len(o) {
		return false
	}
	for k, v := range s {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func joinStores(d domain.Domain, a, b store) store {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	out := make(store, len(a))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if av, ok := out[k]; ok {
			out[k] = d.Join(av, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// widenStores widens every variable of old towards new. Domains without a widening
// operator keep the plain join.
func widenStores(d domain.Domain, old, new store) store {
	w, ok := d.(domain.Widener)
	if !ok || old == nil || new == nil {
		return new
	}
	out := make(store, len(new))
	for k, v := range new {
		if ov, ok := old[k]; ok {
			out[k] = w.Widen(ov, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// snapshot freezes a store over the given variables. Unreachable points bind every
// variable to Bot.
func snapshot(d domain.Domain, vars []string, s store) Env {
	env := Env{bindings: make([]Binding, len(vars))}
	for i, name := range vars {
		v := d.Bottom()
		if s != nil {
			if sv, ok := s[name]; ok {
				v = sv
			}
		}
		env.bindings[i] = Binding{Name: name, Value: v}
	}
	return env
}

// NewEnv builds a snapshot from a map; it is mainly useful in tests and fixtures.
func NewEnv(values map[string]domain.Value) Env {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	env := Env{bindings: make([]Binding, len(names))}
	for i, name := range names {
		env.bindings[i] = Binding{Name: name, Value: values[name]}
	}
	return env
}
