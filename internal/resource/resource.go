// Package resource models resources and the capabilities and requirements
// they declare. Values are immutable once built.
package resource

import (
	"fmt"
	"maps"
	"strings"

	"github.com/zjrosen/obr/internal/attr"
	"github.com/zjrosen/obr/internal/filter"
)

// Well-known namespaces.
const (
	NamespaceIdentity = "osgi.identity"
	NamespacePackage  = "osgi.wiring.package"
	NamespaceBundle   = "osgi.wiring.bundle"
	NamespaceHost     = "osgi.wiring.host"
	NamespaceService  = "osgi.service"
	NamespaceExtender = "osgi.extender"
	NamespaceEE       = "osgi.ee"
	NamespaceContent  = "osgi.content"
)

// Well-known directives and attributes.
const (
	DirectiveFilter      = "filter"
	DirectiveMandatory   = "mandatory"
	DirectiveUses        = "uses"
	DirectiveResolution  = "resolution"
	DirectiveCardinality = "cardinality"
	DirectiveEffective   = "effective"

	ResolutionOptional  = "optional"
	CardinalityMultiple = "multiple"
	EffectiveResolve    = "resolve"

	AttrVersion     = "version"
	AttrType        = "type"
	AttrObjectClass = "objectClass"

	TypeBundle = "osgi.bundle"
)

// Resource owns an ordered set of capabilities and requirements. Resources
// are compared by identity.
type Resource struct {
	caps []*Capability
	reqs []*Requirement
}

// Capabilities returns the capabilities in declaration order.
func (r *Resource) Capabilities() []*Capability {
	return append([]*Capability(nil), r.caps...)
}

// Requirements returns the requirements in declaration order.
func (r *Resource) Requirements() []*Requirement {
	return append([]*Requirement(nil), r.reqs...)
}

// CapabilitiesIn returns the capabilities of one namespace.
func (r *Resource) CapabilitiesIn(namespace string) []*Capability {
	var out []*Capability
	for _, c := range r.caps {
		if c.namespace == namespace {
			out = append(out, c)
		}
	}
	return out
}

// RequirementsIn returns the requirements of one namespace.
func (r *Resource) RequirementsIn(namespace string) []*Requirement {
	var out []*Requirement
	for _, q := range r.reqs {
		if q.namespace == namespace {
			out = append(out, q)
		}
	}
	return out
}

// Identity describes a resource by its osgi.identity capability.
type Identity struct {
	Name    string
	Version attr.Version
	Type    string
}

func (id Identity) String() string {
	if id.Name == "" {
		return "<anonymous>"
	}
	return id.Name + "/" + id.Version.String()
}

// Identity returns the identity of r. ok is false when r has no
// osgi.identity capability.
func (r *Resource) Identity() (Identity, bool) {
	for _, c := range r.caps {
		if c.namespace != NamespaceIdentity {
			continue
		}
		var id Identity
		if v, ok := c.attrs.Get(NamespaceIdentity); ok {
			id.Name = v.String()
		}
		if v, ok := c.attrs.Get(AttrVersion); ok {
			if ver, isVer := v.(attr.Version); isVer {
				id.Version = ver
			} else if parsed, err := attr.ParseVersion(v.String()); err == nil {
				id.Version = parsed
			}
		}
		if v, ok := c.attrs.Get(AttrType); ok {
			id.Type = v.String()
		}
		return id, true
	}
	return Identity{}, false
}

func (r *Resource) String() string {
	id, _ := r.Identity()
	return id.String()
}

// Capability is a named, attributed fact offered by a resource.
type Capability struct {
	resource   *Resource
	namespace  string
	directives map[string]string
	attrs      attr.Attributes
}

// Resource returns the owning resource.
func (c *Capability) Resource() *Resource { return c.resource }

func (c *Capability) Namespace() string { return c.namespace }

// Directives returns a copy of the directives.
func (c *Capability) Directives() map[string]string { return maps.Clone(c.directives) }

// Directive returns a single directive value.
func (c *Capability) Directive(name string) (string, bool) {
	v, ok := c.directives[name]
	return v, ok
}

func (c *Capability) Attributes() attr.Attributes { return c.attrs }

// Mandatory returns the attribute names listed in the mandatory directive.
func (c *Capability) Mandatory() []string {
	return splitNames(c.directives[DirectiveMandatory])
}

// Uses returns the package names listed in the uses directive.
func (c *Capability) Uses() []string {
	return splitNames(c.directives[DirectiveUses])
}

// Effective returns the effective directive, defaulting to "resolve".
func (c *Capability) Effective() string {
	return effective(c.directives)
}

func (c *Capability) String() string {
	return fmt.Sprintf("[%s] %s; %s", c.resource, c.namespace, formatAttrs(c.attrs))
}

// Requirement is a filtered need declared by a resource. Free-standing
// requirements built with NewRequirement have no resource.
type Requirement struct {
	resource   *Resource
	namespace  string
	directives map[string]string
	attrs      attr.Attributes
	filter     *filter.Filter
}

// NewRequirement builds a requirement not owned by any resource. The filter
// directive, if present, is parsed immediately.
func NewRequirement(namespace string, directives map[string]string, attrs attr.Attributes) (*Requirement, error) {
	return newRequirement(nil, namespace, directives, attrs)
}

// MustRequirement is NewRequirement that panics on error.
func MustRequirement(namespace, filterStr string) *Requirement {
	dirs := map[string]string{}
	if filterStr != "" {
		dirs[DirectiveFilter] = filterStr
	}
	req, err := NewRequirement(namespace, dirs, attr.Attributes{})
	if err != nil {
		panic(err)
	}
	return req
}

func newRequirement(owner *Resource, namespace string, directives map[string]string, attrs attr.Attributes) (*Requirement, error) {
	f := filter.MatchAll()
	if s, ok := directives[DirectiveFilter]; ok {
		parsed, err := filter.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", namespace, err)
		}
		f = parsed
	}
	return &Requirement{
		resource:   owner,
		namespace:  namespace,
		directives: maps.Clone(directives),
		attrs:      attrs,
		filter:     f,
	}, nil
}

// Resource returns the owning resource, or nil.
func (r *Requirement) Resource() *Resource { return r.resource }

func (r *Requirement) Namespace() string { return r.namespace }

// Directives returns a copy of the directives.
func (r *Requirement) Directives() map[string]string { return maps.Clone(r.directives) }

// Directive returns a single directive value.
func (r *Requirement) Directive(name string) (string, bool) {
	v, ok := r.directives[name]
	return v, ok
}

func (r *Requirement) Attributes() attr.Attributes { return r.attrs }

// Filter returns the parsed filter directive, or filter.MatchAll when the
// requirement has none.
func (r *Requirement) Filter() *filter.Filter { return r.filter }

// Optional reports whether resolution:=optional is set.
func (r *Requirement) Optional() bool {
	return r.directives[DirectiveResolution] == ResolutionOptional
}

// Multiple reports whether cardinality:=multiple is set.
func (r *Requirement) Multiple() bool {
	return r.directives[DirectiveCardinality] == CardinalityMultiple
}

// Effective returns the effective directive, defaulting to "resolve".
func (r *Requirement) Effective() string {
	return effective(r.directives)
}

func (r *Requirement) String() string {
	owner := "<query>"
	if r.resource != nil {
		owner = r.resource.String()
	}
	return fmt.Sprintf("[%s] %s; %s", owner, r.namespace, r.filter)
}

func effective(dirs map[string]string) string {
	if v, ok := dirs[DirectiveEffective]; ok && v != "" {
		return v
	}
	return EffectiveResolve
}

func splitNames(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatAttrs(a attr.Attributes) string {
	names := a.Names()
	parts := make([]string, 0, len(names))
	for _, n := range names {
		v, _ := a.Get(n)
		parts = append(parts, n+"="+v.String())
	}
	return strings.Join(parts, "; ")
}
