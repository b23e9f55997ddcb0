package resource

import (
	"errors"
	"fmt"
	"maps"

	"github.com/zjrosen/obr/internal/attr"
)

// ErrBuilt is returned when a Builder is used after Build.
var ErrBuilt = errors.New("resource already built")

// Builder assembles a Resource. Capabilities and requirements may only be
// appended; Build freezes the result.
type Builder struct {
	res   *Resource
	err   error
	built bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{res: &Resource{}}
}

// Capability appends a capability.
func (b *Builder) Capability(namespace string, directives map[string]string, attrs attr.Attributes) *Builder {
	if !b.usable() {
		return b
	}
	b.res.caps = append(b.res.caps, &Capability{
		resource:   b.res,
		namespace:  namespace,
		directives: maps.Clone(directives),
		attrs:      attrs,
	})
	return b
}

// Requirement appends a requirement. A malformed filter directive is
// reported by Build.
func (b *Builder) Requirement(namespace string, directives map[string]string, attrs attr.Attributes) *Builder {
	if !b.usable() {
		return b
	}
	req, err := newRequirement(b.res, namespace, directives, attrs)
	if err != nil {
		b.err = fmt.Errorf("requirement %d: %w", len(b.res.reqs), err)
		return b
	}
	b.res.reqs = append(b.res.reqs, req)
	return b
}

// Identity appends an osgi.identity capability.
func (b *Builder) Identity(name string, version attr.Version, typ string) *Builder {
	if typ == "" {
		typ = TypeBundle
	}
	return b.Capability(NamespaceIdentity, nil, attr.New(map[string]attr.Value{
		NamespaceIdentity: attr.String(name),
		AttrVersion:       version,
		AttrType:          attr.String(typ),
	}))
}

// Build returns the finished resource or the first error recorded while
// building.
func (b *Builder) Build() (*Resource, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.built {
		return nil, ErrBuilt
	}
	b.built = true
	return b.res, nil
}

func (b *Builder) usable() bool {
	if b.built && b.err == nil {
		b.err = ErrBuilt
	}
	return b.err == nil
}
