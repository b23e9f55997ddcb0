package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/obr/internal/repoxml"
	"github.com/zjrosen/obr/internal/resource"
)

func TestBuilder_Resources(t *testing.T) {
	res := NewBuilder(t).
		WithBundle("a", "1.0.0", Exports("a.pkg;version=1.1"), Content("file:///a.jar")).
		WithBundle("b", "2.0.0", Imports("a.pkg")).
		Resources()
	require.Len(t, res, 2)

	id, ok := res[0].Identity()
	require.True(t, ok)
	assert.Equal(t, "a", id.Name)

	exports := res[0].CapabilitiesIn(resource.NamespacePackage)
	require.Len(t, exports, 1)
	v, _ := exports[0].Attributes().Get(resource.AttrVersion)
	assert.Equal(t, "1.1.0", v.String())
	assert.Len(t, res[0].CapabilitiesIn(resource.NamespaceContent), 1)

	imports := res[1].RequirementsIn(resource.NamespacePackage)
	require.Len(t, imports, 1)
	assert.Equal(t, "(osgi.wiring.package=a.pkg)", imports[0].Filter().String())
}

func TestBuilder_DocumentAndXML(t *testing.T) {
	b := NewBuilder(t).Named("test").Increment(42).
		WithBundle("a", "1.0.0").
		WithReferral("child.xml", 2)

	doc := b.Document()
	assert.Equal(t, "test", doc.Name)
	assert.Equal(t, int64(42), doc.Increment)
	assert.Equal(t, []repoxml.Referral{{URL: "child.xml", Depth: 2}}, doc.Referrals)
	assert.Len(t, doc.Resources, 1)

	decoded, err := repoxml.NewFactory().DecodeBytes(b.XML())
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.Increment)
	assert.Equal(t, repoxml.Fingerprint(doc), repoxml.Fingerprint(decoded))
}

func TestBuilder_FragmentHasNoBundleCapability(t *testing.T) {
	res := NewBuilder(t).WithBundle("frag", "1.0.0", FragmentOf("host")).Resources()

	assert.Empty(t, res[0].CapabilitiesIn(resource.NamespaceBundle))
	assert.Len(t, res[0].RequirementsIn(resource.NamespaceHost), 1)
}
