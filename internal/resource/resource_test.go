package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/obr/internal/attr"
	"github.com/zjrosen/obr/internal/filter"
)

func TestBuilder_OwnershipAndOrder(t *testing.T) {
	res, err := NewBuilder().
		Identity("com.acme.core", attr.MustParseVersion("1.2.0"), "").
		Capability(NamespacePackage, map[string]string{DirectiveUses: "a, b"}, attr.Of(NamespacePackage, "com.acme")).
		Requirement(NamespacePackage, map[string]string{DirectiveFilter: "(osgi.wiring.package=org.slf4j)"}, attr.Attributes{}).
		Requirement(NamespaceService, nil, attr.Attributes{}).
		Build()
	require.NoError(t, err)

	caps := res.Capabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, NamespaceIdentity, caps[0].Namespace())
	assert.Equal(t, NamespacePackage, caps[1].Namespace())
	for _, c := range caps {
		assert.Same(t, res, c.Resource())
	}
	assert.Equal(t, []string{"a", "b"}, caps[1].Uses())

	reqs := res.Requirements()
	require.Len(t, reqs, 2)
	assert.Same(t, res, reqs[0].Resource())
	assert.Equal(t, "(osgi.wiring.package=org.slf4j)", reqs[0].Filter().String())
	assert.Same(t, filter.MatchAll(), reqs[1].Filter())

	assert.Len(t, res.CapabilitiesIn(NamespacePackage), 1)
	assert.Len(t, res.RequirementsIn(NamespaceService), 1)
	assert.Empty(t, res.CapabilitiesIn(NamespaceService))

	id, ok := res.Identity()
	require.True(t, ok)
	assert.Equal(t, Identity{Name: "com.acme.core", Version: attr.MustParseVersion("1.2.0"), Type: TypeBundle}, id)
	assert.Equal(t, "com.acme.core/1.2.0", res.String())
}

func TestBuilder_MalformedFilter(t *testing.T) {
	_, err := NewBuilder().
		Requirement(NamespacePackage, map[string]string{DirectiveFilter: "(a=b"}, attr.Attributes{}).
		Build()
	require.Error(t, err)

	var pe *filter.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "(a=b", pe.Input)
}

func TestBuilder_FrozenAfterBuild(t *testing.T) {
	b := NewBuilder().Capability("ns", nil, attr.Attributes{})
	res, err := b.Build()
	require.NoError(t, err)

	b.Capability("ns", nil, attr.Attributes{})
	assert.Len(t, res.Capabilities(), 1)

	_, err = b.Build()
	require.ErrorIs(t, err, ErrBuilt)
}

func TestCapability_DirectivesAreCopied(t *testing.T) {
	dirs := map[string]string{DirectiveMandatory: "x"}
	res, err := NewBuilder().Capability("ns", dirs, attr.Attributes{}).Build()
	require.NoError(t, err)

	dirs[DirectiveMandatory] = "changed"
	c := res.Capabilities()[0]
	assert.Equal(t, []string{"x"}, c.Mandatory())

	got := c.Directives()
	got[DirectiveMandatory] = "mutated"
	v, _ := c.Directive(DirectiveMandatory)
	assert.Equal(t, "x", v)
}

func TestRequirement_Directives(t *testing.T) {
	req, err := NewRequirement(NamespaceService, map[string]string{
		DirectiveResolution:  ResolutionOptional,
		DirectiveCardinality: CardinalityMultiple,
	}, attr.Attributes{})
	require.NoError(t, err)
	assert.True(t, req.Optional())
	assert.True(t, req.Multiple())
	assert.Equal(t, EffectiveResolve, req.Effective())
	assert.Nil(t, req.Resource())

	plain := MustRequirement(NamespaceService, "")
	assert.False(t, plain.Optional())
	assert.False(t, plain.Multiple())
	assert.True(t, plain.Filter().IsMatchAll())
}

func TestParseHeader(t *testing.T) {
	clauses, err := ParseHeader(`com.acme.a;com.acme.b;version="1.2";uses:="x,y", org.other;mandatory:=vendor;vendor=acme;size:Long=4`)
	require.NoError(t, err)
	require.Len(t, clauses, 2)

	assert.Equal(t, []string{"com.acme.a", "com.acme.b"}, clauses[0].Paths)
	assert.Equal(t, "1.2", clauses[0].Attrs["version"])
	assert.Equal(t, "x,y", clauses[0].Directives["uses"])

	assert.Equal(t, []string{"org.other"}, clauses[1].Paths)
	assert.Equal(t, "vendor", clauses[1].Directives["mandatory"])
	assert.Equal(t, "4", clauses[1].Attrs["size"])
	assert.Equal(t, "Long", clauses[1].Types["size"])

	_, err = ParseHeader("a;version=1;b")
	require.Error(t, err)
}

func TestFromManifest(t *testing.T) {
	res, err := FromManifest("file:///bundles/acme.jar", map[string]string{
		HeaderManifestVersion:   "2",
		HeaderSymbolicName:      "com.acme.core;singleton:=true",
		HeaderVersion:           "1.4.0.GA",
		HeaderExportPackage:     `com.acme.api;version="1.4";uses:="com.acme.spi"`,
		HeaderImportPackage:     `org.slf4j;version="[1.7,2)",com.acme.spi`,
		HeaderProvideCapability: `osgi.extender;osgi.extender="osgi.component";version:Version="1.3"`,
		HeaderRequireCapability: `osgi.ee;filter:="(&(osgi.ee=JavaSE)(version>=11))"`,
		HeaderExportService:     "com.acme.api.Greeter",
	})
	require.NoError(t, err)

	id, ok := res.Identity()
	require.True(t, ok)
	assert.Equal(t, "com.acme.core", id.Name)
	assert.Equal(t, attr.MustParseVersion("1.4.0.GA"), id.Version)

	exports := res.CapabilitiesIn(NamespacePackage)
	require.Len(t, exports, 1)
	v, _ := exports[0].Attributes().Get(AttrVersion)
	assert.Equal(t, attr.MustParseVersion("1.4"), v)
	assert.Equal(t, []string{"com.acme.spi"}, exports[0].Uses())

	require.Len(t, res.CapabilitiesIn(NamespaceContent), 1)
	require.Len(t, res.CapabilitiesIn(NamespaceBundle), 1)

	ext := res.CapabilitiesIn(NamespaceExtender)
	require.Len(t, ext, 1)
	ev, _ := ext[0].Attributes().Get("version")
	assert.Equal(t, attr.MustParseVersion("1.3"), ev)

	svc := res.CapabilitiesIn(NamespaceService)
	require.Len(t, svc, 1)
	oc, _ := svc[0].Attributes().Get(AttrObjectClass)
	assert.Equal(t, attr.Strings("com.acme.api.Greeter"), oc)

	imports := res.RequirementsIn(NamespacePackage)
	require.Len(t, imports, 2)
	assert.Equal(t, "(&(osgi.wiring.package=org.slf4j)(&(version>=1.7.0)(version<2.0.0)))", imports[0].Filter().String())
	assert.True(t, imports[0].Filter().Matches(attr.Of(NamespacePackage, "org.slf4j", AttrVersion, attr.MustParseVersion("1.7.36"))))
	assert.False(t, imports[0].Filter().Matches(attr.Of(NamespacePackage, "org.slf4j", AttrVersion, attr.MustParseVersion("2.0.9"))))
	assert.Equal(t, "(osgi.wiring.package=com.acme.spi)", imports[1].Filter().String())

	ee := res.RequirementsIn(NamespaceEE)
	require.Len(t, ee, 1)
	assert.Equal(t, "(&(osgi.ee=JavaSE)(version>=11))", ee[0].Filter().String())
}

func TestFromManifest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		header  string
	}{
		{
			name:    "manifest version",
			headers: map[string]string{HeaderSymbolicName: "a"},
			header:  HeaderManifestVersion,
		},
		{
			name:    "missing symbolic name",
			headers: map[string]string{HeaderManifestVersion: "2"},
			header:  HeaderSymbolicName,
		},
		{
			name:    "java export",
			headers: map[string]string{HeaderManifestVersion: "2", HeaderSymbolicName: "a", HeaderExportPackage: "java.lang"},
			header:  HeaderExportPackage,
		},
		{
			name:    "bad range",
			headers: map[string]string{HeaderManifestVersion: "2", HeaderSymbolicName: "a", HeaderImportPackage: `p;version="[1,2"`},
			header:  HeaderImportPackage,
		},
		{
			name:    "unknown attribute type",
			headers: map[string]string{HeaderManifestVersion: "2", HeaderSymbolicName: "a", HeaderProvideCapability: "ns;x:Map=1"},
			header:  HeaderProvideCapability,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromManifest("", tt.headers)
			require.Error(t, err)

			var me *ManifestError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.header, me.Header)
		})
	}
}
