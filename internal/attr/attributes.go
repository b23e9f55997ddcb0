package attr

import (
	"maps"
	"slices"
)

// Attributes is an immutable set of named attribute values.
// The zero value is an empty set.
type Attributes struct {
	m map[string]Value
}

// New copies m into an immutable Attributes. Nil values are dropped.
func New(m map[string]Value) Attributes {
	if len(m) == 0 {
		return Attributes{}
	}
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		if v != nil {
			cp[k] = v
		}
	}
	return Attributes{m: cp}
}

// Of builds Attributes from alternating name/value pairs. It panics on an
// odd argument count or a non-string name and is meant for tests.
func Of(pairs ...any) Attributes {
	if len(pairs)%2 != 0 {
		panic("attr.Of: odd argument count")
	}
	m := make(map[string]Value, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case Value:
			m[name] = v
		case string:
			m[name] = String(v)
		case int:
			m[name] = Long(v)
		case int64:
			m[name] = Long(v)
		case float64:
			m[name] = Double(v)
		case []string:
			m[name] = Strings(v...)
		default:
			panic("attr.Of: unsupported value type for " + name)
		}
	}
	return New(m)
}

// Get returns the value of the named attribute.
func (a Attributes) Get(name string) (Value, bool) {
	v, ok := a.m[name]
	return v, ok
}

func (a Attributes) Len() int { return len(a.m) }

// Names returns the attribute names in sorted order.
func (a Attributes) Names() []string {
	return slices.Sorted(maps.Keys(a.m))
}

// Map returns a copy of the underlying map.
func (a Attributes) Map() map[string]Value {
	return maps.Clone(a.m)
}

// Native returns the attributes as plain Go values for JSON encoding.
func (a Attributes) Native() map[string]any {
	out := make(map[string]any, len(a.m))
	for k, v := range a.m {
		out[k] = Native(v)
	}
	return out
}
