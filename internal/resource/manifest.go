package resource

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/zjrosen/obr/internal/attr"
	"github.com/zjrosen/obr/internal/filter"
)

// Manifest header names understood by FromManifest.
const (
	HeaderManifestVersion   = "Bundle-ManifestVersion"
	HeaderSymbolicName      = "Bundle-SymbolicName"
	HeaderVersion           = "Bundle-Version"
	HeaderFragmentHost      = "Fragment-Host"
	HeaderExportPackage     = "Export-Package"
	HeaderImportPackage     = "Import-Package"
	HeaderRequireBundle     = "Require-Bundle"
	HeaderProvideCapability = "Provide-Capability"
	HeaderRequireCapability = "Require-Capability"
	HeaderExportService     = "Export-Service"
	HeaderImportService     = "Import-Service"

	TypeFragment = "osgi.fragment"

	attrBundleSymbolicName = "bundle-symbolic-name"
	attrBundleVersion      = "bundle-version"
	attrContentURL         = "url"
)

// ManifestError reports a manifest that cannot be converted to a resource.
type ManifestError struct {
	Header string
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Header == "" {
		return "invalid manifest: " + e.Err.Error()
	}
	return fmt.Sprintf("invalid manifest header %s: %v", e.Header, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// FromManifest builds a resource from bundle manifest headers. uri, when
// not empty, is recorded as an osgi.content capability.
func FromManifest(uri string, headers map[string]string) (*Resource, error) {
	if v := strings.TrimSpace(headers[HeaderManifestVersion]); v != "2" {
		return nil, &ManifestError{Header: HeaderManifestVersion, Err: fmt.Errorf("unsupported value %q", v)}
	}

	version, err := attr.ParseVersion(headers[HeaderVersion])
	if err != nil {
		return nil, &ManifestError{Header: HeaderVersion, Err: err}
	}

	bsn, err := ParseHeader(headers[HeaderSymbolicName])
	if err != nil {
		return nil, &ManifestError{Header: HeaderSymbolicName, Err: err}
	}
	if len(bsn) != 1 || len(bsn[0].Paths) != 1 {
		return nil, &ManifestError{Header: HeaderSymbolicName, Err: fmt.Errorf("exactly one symbolic name required")}
	}
	name := bsn[0].Paths[0]
	_, fragment := headers[HeaderFragmentHost]

	typ := TypeBundle
	if fragment {
		typ = TypeFragment
	}
	b := NewBuilder().Identity(name, version, typ)
	if uri != "" {
		b.Capability(NamespaceContent, nil, attr.New(map[string]attr.Value{attrContentURL: attr.String(uri)}))
	}
	if !fragment {
		b.Capability(NamespaceBundle, bsn[0].Directives, attr.New(map[string]attr.Value{
			NamespaceBundle:   attr.String(name),
			attrBundleVersion: version,
		}))
		b.Capability(NamespaceHost, bsn[0].Directives, attr.New(map[string]attr.Value{
			NamespaceHost:     attr.String(name),
			attrBundleVersion: version,
		}))
	}

	steps := []struct {
		header string
		apply  func([]Clause) error
	}{
		{HeaderExportPackage, func(cs []Clause) error { return addExports(b, cs, name, version) }},
		{HeaderProvideCapability, func(cs []Clause) error { return addProvided(b, cs) }},
		{HeaderExportService, func(cs []Clause) error { return addServices(b, cs) }},
		{HeaderFragmentHost, func(cs []Clause) error { return addRangeRequirements(b, NamespaceHost, attrBundleVersion, cs) }},
		{HeaderImportPackage, func(cs []Clause) error { return addRangeRequirements(b, NamespacePackage, AttrVersion, cs) }},
		{HeaderRequireBundle, func(cs []Clause) error { return addRangeRequirements(b, NamespaceBundle, attrBundleVersion, cs) }},
		{HeaderRequireCapability, func(cs []Clause) error { return addRequired(b, cs) }},
		{HeaderImportService, func(cs []Clause) error { return addServiceImports(b, cs) }},
	}
	for _, step := range steps {
		clauses, err := ParseHeader(headers[step.header])
		if err != nil {
			return nil, &ManifestError{Header: step.header, Err: err}
		}
		if err := step.apply(clauses); err != nil {
			return nil, &ManifestError{Header: step.header, Err: err}
		}
	}

	res, err := b.Build()
	if err != nil {
		return nil, &ManifestError{Err: err}
	}
	return res, nil
}

func addExports(b *Builder, clauses []Clause, bsn string, bv attr.Version) error {
	for _, c := range clauses {
		attrs, err := typedAttrs(c)
		if err != nil {
			return err
		}
		if raw, ok := c.Attrs[AttrVersion]; ok {
			v, err := attr.ParseVersion(raw)
			if err != nil {
				return err
			}
			attrs[AttrVersion] = v
		} else {
			attrs[AttrVersion] = attr.EmptyVersion
		}
		attrs[attrBundleSymbolicName] = attr.String(bsn)
		attrs[attrBundleVersion] = bv

		for _, pkg := range c.Paths {
			switch {
			case strings.HasPrefix(pkg, "java."):
				return fmt.Errorf("exporting java.* packages is not allowed: %s", pkg)
			case pkg == ".":
				return fmt.Errorf("exporting '.' is invalid")
			}
			pkgAttrs := cloneValues(attrs)
			pkgAttrs[NamespacePackage] = attr.String(pkg)
			b.Capability(NamespacePackage, c.Directives, attr.New(pkgAttrs))
		}
	}
	return nil
}

func addProvided(b *Builder, clauses []Clause) error {
	for _, c := range clauses {
		attrs, err := typedAttrs(c)
		if err != nil {
			return err
		}
		for _, ns := range c.Paths {
			b.Capability(ns, c.Directives, attr.New(attrs))
		}
	}
	return nil
}

func addServices(b *Builder, clauses []Clause) error {
	for _, c := range clauses {
		attrs, err := typedAttrs(c)
		if err != nil {
			return err
		}
		for _, class := range c.Paths {
			svc := cloneValues(attrs)
			svc[AttrObjectClass] = attr.Strings(class)
			b.Capability(NamespaceService, c.Directives, attr.New(svc))
		}
	}
	return nil
}

// addRangeRequirements converts clauses naming packages or bundles into
// requirements whose filter checks the name and the version range
// attribute.
func addRangeRequirements(b *Builder, ns, versionAttr string, clauses []Clause) error {
	for _, c := range clauses {
		for _, path := range c.Paths {
			if ns == NamespacePackage && strings.HasPrefix(path, "java.") {
				return fmt.Errorf("importing java.* packages is not allowed: %s", path)
			}
			fs := []*filter.Filter{filter.Equal(ns, path)}
			for key, raw := range sortedEntries(c.Attrs) {
				if key == versionAttr {
					r, err := attr.ParseVersionRange(raw)
					if err != nil {
						return err
					}
					fs = append(fs, filter.VersionRange(versionAttr, r))
					continue
				}
				fs = append(fs, filter.Equal(key, raw))
			}
			dirs := cloneStrings(c.Directives)
			dirs[DirectiveFilter] = filter.And(fs...).String()
			b.Requirement(ns, dirs, attr.Attributes{})
		}
	}
	return nil
}

func addRequired(b *Builder, clauses []Clause) error {
	for _, c := range clauses {
		attrs, err := typedAttrs(c)
		if err != nil {
			return err
		}
		for _, ns := range c.Paths {
			b.Requirement(ns, c.Directives, attr.New(attrs))
		}
	}
	return nil
}

func addServiceImports(b *Builder, clauses []Clause) error {
	for _, c := range clauses {
		for _, class := range c.Paths {
			f := filter.Equal(AttrObjectClass, class)
			if extra, ok := c.Directives[DirectiveFilter]; ok {
				parsed, err := filter.Parse(extra)
				if err != nil {
					return err
				}
				f = filter.And(f, parsed)
			}
			dirs := cloneStrings(c.Directives)
			dirs[DirectiveFilter] = f.String()
			if _, ok := dirs[DirectiveResolution]; !ok {
				dirs[DirectiveResolution] = ResolutionOptional
			}
			b.Requirement(NamespaceService, dirs, attr.Attributes{})
		}
	}
	return nil
}

// typedAttrs converts clause attributes to values using their declared
// `name:Type` types.
func typedAttrs(c Clause) (map[string]attr.Value, error) {
	out := make(map[string]attr.Value, len(c.Attrs))
	for key, raw := range c.Attrs {
		t, ok := attr.ParseType(c.Types[key])
		if !ok {
			return nil, fmt.Errorf("attribute %s: unknown type %q", key, c.Types[key])
		}
		v, err := attr.Parse(t, raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func cloneValues(m map[string]attr.Value) map[string]attr.Value {
	out := make(map[string]attr.Value, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedEntries(m map[string]string) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}
