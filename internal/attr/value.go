// Package attr implements the typed attribute values carried by capabilities
// and requirements: String, Long, Double, Version and homogeneous lists of
// those scalars.
package attr

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies a scalar attribute type.
type Kind int

const (
	KindString Kind = iota
	KindLong
	KindDouble
	KindVersion
)

// Kinds lists every scalar kind in declaration order.
var Kinds = []Kind{KindString, KindLong, KindDouble, KindVersion}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindLong:
		return "Long"
	case KindDouble:
		return "Double"
	case KindVersion:
		return "Version"
	default:
		return "Unknown"
	}
}

// Type is the declared type of an attribute value.
type Type struct {
	Kind Kind
	List bool
}

func (t Type) String() string {
	if t.List {
		return "List<" + t.Kind.String() + ">"
	}
	return t.Kind.String()
}

// ParseType parses a declared type name such as "Long" or "List<Version>".
// An empty name means String and a bare "List" means List<String>.
func ParseType(name string) (Type, bool) {
	name = strings.TrimSpace(name)
	switch name {
	case "":
		return Type{Kind: KindString}, true
	case "List":
		return Type{Kind: KindString, List: true}, true
	}
	if inner, ok := strings.CutPrefix(name, "List<"); ok {
		inner, ok = strings.CutSuffix(inner, ">")
		if !ok {
			return Type{}, false
		}
		k, ok := parseKind(strings.TrimSpace(inner))
		return Type{Kind: k, List: true}, ok
	}
	k, ok := parseKind(name)
	return Type{Kind: k}, ok
}

func parseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, true
		}
	}
	return KindString, false
}

// Value is a typed attribute value. The set of implementations is closed:
// String, Long, Double, Version and List.
type Value interface {
	Type() Type
	String() string
	isValue()
}

// Scalar is a non-list Value.
type Scalar interface {
	Value
	Kind() Kind
}

// String is a string attribute value.
type String string

// Long is a 64-bit integer attribute value.
type Long int64

// Double is a floating point attribute value.
type Double float64

func (String) Kind() Kind  { return KindString }
func (Long) Kind() Kind    { return KindLong }
func (Double) Kind() Kind  { return KindDouble }
func (Version) Kind() Kind { return KindVersion }

func (String) Type() Type  { return Type{Kind: KindString} }
func (Long) Type() Type    { return Type{Kind: KindLong} }
func (Double) Type() Type  { return Type{Kind: KindDouble} }
func (Version) Type() Type { return Type{Kind: KindVersion} }

func (s String) String() string { return string(s) }
func (l Long) String() string   { return strconv.FormatInt(int64(l), 10) }
func (d Double) String() string { return strconv.FormatFloat(float64(d), 'g', -1, 64) }

func (String) isValue()  {}
func (Long) isValue()    {}
func (Double) isValue()  {}
func (Version) isValue() {}
func (List) isValue()    {}

// List is an immutable homogeneous list of scalars.
type List struct {
	kind  Kind
	items []Scalar
}

// NewList builds a list of the given element kind. Every item must be of
// that kind.
func NewList(kind Kind, items ...Scalar) (List, error) {
	cp := make([]Scalar, len(items))
	for i, it := range items {
		if it == nil || it.Kind() != kind {
			return List{}, fmt.Errorf("list element %d: expected %s", i, kind)
		}
		cp[i] = it
	}
	return List{kind: kind, items: cp}, nil
}

// Strings is a convenience constructor for List<String>.
func Strings(items ...string) List {
	l := List{kind: KindString, items: make([]Scalar, len(items))}
	for i, s := range items {
		l.items[i] = String(s)
	}
	return l
}

func (l List) Type() Type { return Type{Kind: l.kind, List: true} }

// ElemKind returns the kind of the list elements.
func (l List) ElemKind() Kind { return l.kind }

func (l List) Len() int { return len(l.items) }

// At returns the i-th element.
func (l List) At(i int) Scalar { return l.items[i] }

// Items returns a copy of the elements.
func (l List) Items() []Scalar {
	return append([]Scalar(nil), l.items...)
}

func (l List) String() string {
	parts := make([]string, len(l.items))
	for i, it := range l.items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Scalars returns the scalar elements of v: the value itself for a scalar,
// the elements for a list.
func Scalars(v Value) []Scalar {
	switch t := v.(type) {
	case List:
		return t.items
	case Scalar:
		return []Scalar{t}
	default:
		return nil
	}
}

// Coerce converts a literal to a scalar of the given kind. Numeric and
// version literals are trimmed first. ok is false when the literal cannot be
// represented in that kind.
func Coerce(kind Kind, literal string) (Scalar, bool) {
	switch kind {
	case KindString:
		return String(literal), true
	case KindLong:
		n, err := strconv.ParseInt(strings.TrimSpace(literal), 10, 64)
		if err != nil {
			return nil, false
		}
		return Long(n), true
	case KindDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
		if err != nil || math.IsNaN(f) {
			return nil, false
		}
		return Double(f), true
	case KindVersion:
		v, err := ParseVersion(literal)
		if err != nil {
			return nil, false
		}
		return v, true
	default:
		return nil, false
	}
}

// Compare orders two scalars of the same kind. ok is false when the kinds
// differ.
func Compare(a, b Scalar) (int, bool) {
	switch x := a.(type) {
	case String:
		y, ok := b.(String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case Long:
		y, ok := b.(Long)
		if !ok {
			return 0, false
		}
		return cmp.Compare(x, y), true
	case Double:
		y, ok := b.(Double)
		if !ok {
			return 0, false
		}
		return cmp.Compare(x, y), true
	case Version:
		y, ok := b.(Version)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	default:
		return 0, false
	}
}

// Native returns v as a plain Go value suitable for JSON encoding.
func Native(v Value) any {
	switch t := v.(type) {
	case String:
		return string(t)
	case Long:
		return int64(t)
	case Double:
		return float64(t)
	case Version:
		return t.String()
	case List:
		out := make([]any, len(t.items))
		for i, it := range t.items {
			out[i] = Native(it)
		}
		return out
	default:
		return nil
	}
}
