package filter

import (
	"strings"
	"unicode"

	"github.com/zjrosen/obr/internal/attr"
)

// Matches evaluates f against attrs. Evaluation is total: a missing
// attribute, a type mismatch or an uncoercible literal makes the leaf false
// instead of failing. A list attribute matches a leaf when any element does.
func (f *Filter) Matches(attrs attr.Attributes) bool {
	if f.IsMatchAll() {
		return true
	}

	switch f.op {
	case OpAnd:
		for _, c := range f.children {
			if !c.Matches(attrs) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.children {
			if c.Matches(attrs) {
				return true
			}
		}
		return false
	case OpNot:
		return !f.children[0].Matches(attrs)
	}

	v, ok := attrs.Get(f.attr)
	if !ok {
		return false
	}
	if f.op == OpPresent {
		return true
	}
	for _, s := range attr.Scalars(v) {
		if f.MatchesScalar(s) {
			return true
		}
	}
	return false
}

// MatchesScalar evaluates a leaf filter against a single scalar value. The
// literal is coerced to the scalar's kind before comparison.
func (f *Filter) MatchesScalar(s attr.Scalar) bool {
	switch f.op {
	case OpPresent:
		return true
	case OpSubstring:
		str, ok := s.(attr.String)
		return ok && matchSubstring(string(str), f.pieces)
	case OpApprox:
		if str, ok := s.(attr.String); ok {
			return strings.EqualFold(stripSpace(string(str)), stripSpace(f.value))
		}
	}

	lit, ok := attr.Coerce(s.Kind(), f.value)
	if !ok {
		return false
	}
	c, ok := attr.Compare(s, lit)
	if !ok {
		return false
	}

	switch f.op {
	case OpEqual, OpApprox:
		return c == 0
	case OpGreaterEqual:
		return c >= 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpLess:
		return c < 0
	default:
		return false
	}
}

func matchSubstring(s string, pieces []string) bool {
	if len(pieces) == 0 {
		return true
	}
	last := len(pieces) - 1
	pos := 0
	for i, piece := range pieces {
		switch {
		case i == 0:
			if !strings.HasPrefix(s, piece) {
				return false
			}
			pos = len(piece)
		case i == last:
			return strings.HasSuffix(s[pos:], piece)
		default:
			idx := strings.Index(s[pos:], piece)
			if idx < 0 {
				return false
			}
			pos += idx + len(piece)
		}
	}
	return pos == len(s)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
