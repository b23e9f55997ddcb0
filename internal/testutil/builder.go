package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/obr/internal/repoxml"
	"github.com/zjrosen/obr/internal/resource"
)

// Builder accumulates bundles and referrals and renders them as resources
// or as a repository document.
type Builder struct {
	t         testing.TB
	name      string
	increment int64
	bundles   []bundleData
	referrals []repoxml.Referral
}

// NewBuilder creates an empty builder.
func NewBuilder(t testing.TB) *Builder {
	t.Helper()
	return &Builder{t: t}
}

// Named sets the document name.
func (b *Builder) Named(name string) *Builder {
	b.name = name
	return b
}

// Increment sets the document increment.
func (b *Builder) Increment(n int64) *Builder {
	b.increment = n
	return b
}

// WithBundle adds a bundle described by manifest-style options.
func (b *Builder) WithBundle(symbolicName, version string, opts ...BundleOption) *Builder {
	bundle := defaultBundle(symbolicName, version)
	for _, opt := range opts {
		opt(&bundle)
	}
	b.bundles = append(b.bundles, bundle)
	return b
}

// WithReferral adds a referral to another document.
func (b *Builder) WithReferral(url string, depth int) *Builder {
	b.referrals = append(b.referrals, repoxml.Referral{URL: url, Depth: depth})
	return b
}

// Resources converts every bundle, in order.
func (b *Builder) Resources() []*resource.Resource {
	b.t.Helper()
	out := make([]*resource.Resource, 0, len(b.bundles))
	for _, bundle := range b.bundles {
		res, err := resource.FromManifest(bundle.uri, bundle.manifest())
		require.NoError(b.t, err, "bundle %s", bundle.symbolicName)
		out = append(out, res)
	}
	return out
}

// Document returns the repository document model.
func (b *Builder) Document() *repoxml.Document {
	b.t.Helper()
	return &repoxml.Document{
		Name:      b.name,
		Increment: b.increment,
		Referrals: append([]repoxml.Referral(nil), b.referrals...),
		Resources: b.Resources(),
	}
}

// XML encodes the document.
func (b *Builder) XML() []byte {
	b.t.Helper()
	data, err := repoxml.NewFactory().EncodeBytes(b.Document())
	require.NoError(b.t, err)
	return data
}
