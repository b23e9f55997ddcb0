package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/resource"
)

func TestWithStandardBundles(t *testing.T) {
	resources := NewBuilder(t).WithStandardBundles().Resources()
	require.Len(t, resources, 3)

	names := make([]string, len(resources))
	for i, r := range resources {
		id, ok := r.Identity()
		require.True(t, ok)
		names[i] = id.Name
	}
	assert.Equal(t, []string{BundleAPI, BundleImpl, BundleUtil}, names)
}

func TestWithStandardBundles_ImportIsSatisfied(t *testing.T) {
	resources := NewBuilder(t).WithStandardBundles().Resources()
	repo := repository.NewBase(resources)

	imports := resources[1].RequirementsIn(resource.NamespacePackage)
	require.Len(t, imports, 1)

	got, err := repo.FindProviders(context.Background(), imports)
	require.NoError(t, err)
	require.Len(t, got[imports[0]], 1)
	assert.Same(t, resources[0], got[imports[0]][0].Resource())
}

func TestWithStandardBundles_MandatoryExport(t *testing.T) {
	repo := repository.NewBase(NewBuilder(t).WithStandardBundles().Resources())
	bare := resource.MustRequirement(resource.NamespacePackage, "(osgi.wiring.package=com.acme.impl)")
	vendor := resource.MustRequirement(resource.NamespacePackage, "(&(osgi.wiring.package=com.acme.impl)(vendor=acme))")

	got, err := repo.FindProviders(context.Background(), []*resource.Requirement{bare, vendor})
	require.NoError(t, err)
	assert.Empty(t, got[bare])
	assert.Len(t, got[vendor], 1)
}
