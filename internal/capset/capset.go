// Package capset indexes the capabilities of one namespace for filtered
// lookup.
package capset

import (
	"errors"
	"fmt"
	"slices"

	"github.com/zjrosen/obr/internal/attr"
	"github.com/zjrosen/obr/internal/filter"
	"github.com/zjrosen/obr/internal/metrics"
	"github.com/zjrosen/obr/internal/resource"
)

// ErrNamespaceMismatch is returned by Add for a capability of another
// namespace.
var ErrNamespaceMismatch = errors.New("capability namespace does not match set")

// ObligationFunc decides whether a syntactically matching capability may be
// returned for a filter when the caller asks for obligate matching.
type ObligationFunc func(c *resource.Capability, f *filter.Filter) bool

// Option configures a Set.
type Option func(*Set)

// WithObligation replaces the default mandatory-attribute obligation rule.
func WithObligation(fn ObligationFunc) Option {
	return func(s *Set) {
		if fn != nil {
			s.obligation = fn
		}
	}
}

// Set holds the capabilities of a single namespace. Equality leaves on
// indexed attributes are answered from per-value buckets; every other leaf
// falls back to evaluating the remaining candidates.
//
// Add must not be called concurrently with anything else. Once populated a
// Set is safe for concurrent Match calls.
type Set struct {
	namespace  string
	indexAttrs []string
	indices    map[string]map[attr.Scalar][]int
	caps       []*resource.Capability
	obligation ObligationFunc
}

// New creates an empty set for namespace, bucketing the named attributes.
func New(namespace string, indexAttrs []string, opts ...Option) *Set {
	s := &Set{
		namespace:  namespace,
		indexAttrs: slices.Clone(indexAttrs),
		indices:    make(map[string]map[attr.Scalar][]int, len(indexAttrs)),
		obligation: MandatoryAttributes,
	}
	for _, a := range indexAttrs {
		s.indices[a] = map[attr.Scalar][]int{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Set) Namespace() string { return s.namespace }

// IndexedAttributes returns the bucketed attribute names.
func (s *Set) IndexedAttributes() []string { return slices.Clone(s.indexAttrs) }

func (s *Set) Len() int { return len(s.caps) }

// Capabilities returns every capability in insertion order.
func (s *Set) Capabilities() []*resource.Capability { return slices.Clone(s.caps) }

// Add indexes c. List-valued indexed attributes are bucketed per element.
func (s *Set) Add(c *resource.Capability) error {
	if c.Namespace() != s.namespace {
		return fmt.Errorf("%w: %q into %q", ErrNamespaceMismatch, c.Namespace(), s.namespace)
	}

	id := len(s.caps)
	s.caps = append(s.caps, c)
	for name, index := range s.indices {
		v, ok := c.Attributes().Get(name)
		if !ok {
			continue
		}
		for _, key := range attr.Scalars(v) {
			bucket := index[key]
			if n := len(bucket); n > 0 && bucket[n-1] == id {
				continue
			}
			index[key] = append(bucket, id)
		}
	}
	return nil
}

// Match returns the capabilities whose attributes satisfy f, in insertion
// order. With obligate set, capabilities rejected by the set's obligation
// rule are dropped as well.
func (s *Set) Match(f *filter.Filter, obligate bool) []*resource.Capability {
	if f == nil {
		f = filter.MatchAll()
	}

	matched := s.match(candidates{all: true}, f)

	var out []*resource.Capability
	emit := func(id int) {
		c := s.caps[id]
		if obligate && !s.obligation(c, f) {
			return
		}
		out = append(out, c)
	}
	if matched.all {
		for id := range s.caps {
			emit(id)
		}
	} else {
		for _, id := range matched.ids {
			emit(id)
		}
	}
	return out
}

func (s *Set) match(c candidates, f *filter.Filter) candidates {
	switch f.Op() {
	case filter.OpMatchAll:
		return c
	case filter.OpAnd:
		for _, child := range f.Children() {
			c = s.match(c, child)
			if c.empty() {
				break
			}
		}
		return c
	case filter.OpOr:
		var out candidates
		for _, child := range f.Children() {
			out = union(out, s.match(c, child))
		}
		return out
	case filter.OpNot:
		return s.subtract(c, s.match(c, f.Children()[0]))
	case filter.OpEqual:
		if index, ok := s.indices[f.Attr()]; ok {
			metrics.IndexLookups.WithLabelValues(s.namespace, "index").Inc()
			return intersect(c, lookup(index, f.Value()))
		}
	}

	metrics.IndexLookups.WithLabelValues(s.namespace, "scan").Inc()
	return s.scan(c, f)
}

// lookup returns the bucket ids for the literal coerced to every scalar kind
// it can represent, so a bucket hit agrees with Filter.Matches.
func lookup(index map[attr.Scalar][]int, literal string) []int {
	var out []int
	for _, kind := range attr.Kinds {
		key, ok := attr.Coerce(kind, literal)
		if !ok {
			continue
		}
		if bucket := index[key]; len(bucket) > 0 {
			out = mergeSorted(out, bucket)
		}
	}
	return out
}

func (s *Set) scan(c candidates, f *filter.Filter) candidates {
	var ids []int
	check := func(id int) {
		if f.Matches(s.caps[id].Attributes()) {
			ids = append(ids, id)
		}
	}
	if c.all {
		for id := range s.caps {
			check(id)
		}
	} else {
		for _, id := range c.ids {
			check(id)
		}
	}
	return candidates{ids: ids}
}

func (s *Set) subtract(c, r candidates) candidates {
	if r.all {
		return candidates{}
	}
	if !c.all {
		return candidates{ids: difference(c.ids, r.ids)}
	}
	ids := make([]int, 0, len(s.caps)-len(r.ids))
	j := 0
	for id := range s.caps {
		if j < len(r.ids) && r.ids[j] == id {
			j++
			continue
		}
		ids = append(ids, id)
	}
	return candidates{ids: ids}
}

// MandatoryAttributes is the default obligation rule: every attribute the
// capability carries and names in its mandatory directive must be tested by
// the filter itself or by one of the operands of a top-level conjunction.
// Mandatory names the capability does not carry are ignored.
func MandatoryAttributes(c *resource.Capability, f *filter.Filter) bool {
	mandatory := c.Mandatory()
	if len(mandatory) == 0 {
		return true
	}

	referenced := map[string]bool{}
	switch op := f.Op(); {
	case op == filter.OpAnd:
		for _, child := range f.Children() {
			if !child.Op().IsComposite() && child.Op() != filter.OpMatchAll {
				referenced[child.Attr()] = true
			}
		}
	case !op.IsComposite() && op != filter.OpMatchAll:
		referenced[f.Attr()] = true
	}

	for _, name := range mandatory {
		if _, ok := c.Attributes().Get(name); !ok {
			continue
		}
		if !referenced[name] {
			return false
		}
	}
	return true
}
