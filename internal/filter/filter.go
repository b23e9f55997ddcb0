// Package filter parses and evaluates LDAP-style attribute filters such as
// (&(osgi.wiring.package=org.example)(version>=1.2)).
package filter

import (
	"maps"
	"slices"
	"strings"

	"github.com/zjrosen/obr/internal/attr"
)

// Op is the operator of a filter node.
type Op int

const (
	OpMatchAll Op = iota
	OpAnd
	OpOr
	OpNot
	OpEqual
	OpApprox
	OpGreaterEqual
	OpLessEqual
	OpGreater
	OpLess
	OpPresent
	OpSubstring
)

func (o Op) String() string {
	switch o {
	case OpMatchAll:
		return "*"
	case OpAnd:
		return "&"
	case OpOr:
		return "|"
	case OpNot:
		return "!"
	case OpEqual:
		return "="
	case OpApprox:
		return "~="
	case OpGreaterEqual:
		return ">="
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpLess:
		return "<"
	case OpPresent:
		return "=*"
	case OpSubstring:
		return "=substring"
	default:
		return "?"
	}
}

// IsComposite reports whether the operator combines child filters.
func (o Op) IsComposite() bool {
	return o == OpAnd || o == OpOr || o == OpNot
}

// Filter is an immutable parsed filter tree. Filters are safe for concurrent
// use.
type Filter struct {
	op       Op
	attr     string
	value    string
	pieces   []string
	children []*Filter
}

var matchAll = &Filter{op: OpMatchAll}

// MatchAll returns the filter that matches every attribute set. It is a
// singleton, distinct from any tree returned by Parse for other input.
func MatchAll() *Filter { return matchAll }

// IsMatchAll reports whether f is the match-all filter. A nil filter counts
// as match-all.
func (f *Filter) IsMatchAll() bool { return f == nil || f.op == OpMatchAll }

func (f *Filter) Op() Op {
	if f == nil {
		return OpMatchAll
	}
	return f.op
}

// Attr returns the attribute name of a leaf filter.
func (f *Filter) Attr() string { return f.attr }

// Value returns the unescaped literal of a comparison leaf.
func (f *Filter) Value() string { return f.value }

// Pieces returns the literal pieces of a substring leaf. The first piece is a
// required prefix and the last a required suffix; either may be empty.
func (f *Filter) Pieces() []string { return slices.Clone(f.pieces) }

// Children returns the operands of a composite filter.
func (f *Filter) Children() []*Filter { return slices.Clone(f.children) }

// And combines filters with conjunction. With no operands it returns
// MatchAll and with one it returns that operand.
func And(fs ...*Filter) *Filter {
	switch len(fs) {
	case 0:
		return MatchAll()
	case 1:
		return fs[0]
	}
	return &Filter{op: OpAnd, children: slices.Clone(fs)}
}

// Or combines filters with disjunction.
func Or(fs ...*Filter) *Filter {
	if len(fs) == 1 {
		return fs[0]
	}
	return &Filter{op: OpOr, children: slices.Clone(fs)}
}

// Not negates f.
func Not(f *Filter) *Filter {
	return &Filter{op: OpNot, children: []*Filter{f}}
}

// Compare builds a comparison leaf. op must be one of OpEqual, OpApprox,
// OpGreaterEqual, OpLessEqual, OpGreater or OpLess.
func Compare(name string, op Op, value string) *Filter {
	return &Filter{op: op, attr: name, value: value}
}

// Equal builds an equality leaf.
func Equal(name, value string) *Filter { return Compare(name, OpEqual, value) }

// Present builds a presence leaf.
func Present(name string) *Filter { return &Filter{op: OpPresent, attr: name} }

// Substring builds a substring leaf from its pieces.
func Substring(name string, pieces ...string) *Filter {
	return &Filter{op: OpSubstring, attr: name, pieces: slices.Clone(pieces)}
}

// FromAttributes converts an attribute map into a conjunction of equality
// leaves, one per entry in sorted key order. Values containing unescaped
// wildcards become substring or presence leaves. An empty map yields
// MatchAll.
func FromAttributes(attrs map[string]string) *Filter {
	keys := slices.Sorted(maps.Keys(attrs))
	fs := make([]*Filter, 0, len(keys))
	for _, k := range keys {
		fs = append(fs, leafFromPattern(k, attrs[k]))
	}
	return And(fs...)
}

func leafFromPattern(name, pattern string) *Filter {
	segs, starred := splitPattern(pattern)
	if !starred {
		return Equal(name, segs[0])
	}
	return substringOrPresent(name, segs)
}

// splitPattern resolves escapes in pattern and splits it on unescaped '*'.
func splitPattern(pattern string) ([]string, bool) {
	var (
		segs    []string
		cur     strings.Builder
		starred bool
	)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			i++
			cur.WriteByte(pattern[i])
		case c == '*':
			starred = true
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	segs = append(segs, cur.String())
	return segs, starred
}

// substringOrPresent collapses raw star-separated segments: the first and
// last are kept as anchors, empty middle segments are dropped.
func substringOrPresent(name string, segs []string) *Filter {
	pieces := []string{segs[0]}
	for _, s := range segs[1 : len(segs)-1] {
		if s != "" {
			pieces = append(pieces, s)
		}
	}
	pieces = append(pieces, segs[len(segs)-1])

	if len(pieces) == 2 && pieces[0] == "" && pieces[1] == "" {
		return Present(name)
	}
	return &Filter{op: OpSubstring, attr: name, pieces: pieces}
}

// String renders f in canonical filter syntax. The output parses back to an
// equivalent filter.
func (f *Filter) String() string {
	var b strings.Builder
	f.write(&b)
	return b.String()
}

func (f *Filter) write(b *strings.Builder) {
	if f.IsMatchAll() {
		b.WriteString("(*)")
		return
	}
	b.WriteByte('(')
	switch f.op {
	case OpAnd, OpOr, OpNot:
		b.WriteString(f.op.String())
		for _, c := range f.children {
			c.write(b)
		}
	case OpPresent:
		b.WriteString(f.attr)
		b.WriteString("=*")
	case OpSubstring:
		b.WriteString(f.attr)
		b.WriteByte('=')
		for i, p := range f.pieces {
			if i > 0 {
				b.WriteByte('*')
			}
			writeEscaped(b, p)
		}
	default:
		b.WriteString(f.attr)
		b.WriteString(f.op.String())
		writeEscaped(b, f.value)
	}
	b.WriteByte(')')
}

func writeEscaped(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', ')', '*', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
}

// VersionRange converts a version range on the named attribute into a
// conjunction of comparison leaves.
func VersionRange(name string, r attr.VersionRange) *Filter {
	var fs []*Filter
	if r.OpenFloor {
		fs = append(fs, Compare(name, OpGreater, r.Floor.String()))
	} else {
		fs = append(fs, Compare(name, OpGreaterEqual, r.Floor.String()))
	}
	if r.Ceiling != nil {
		if r.OpenCeiling {
			fs = append(fs, Compare(name, OpLess, r.Ceiling.String()))
		} else {
			fs = append(fs, Compare(name, OpLessEqual, r.Ceiling.String()))
		}
	}
	return And(fs...)
}
