package testutil

import (
	"strings"

	"github.com/zjrosen/obr/internal/resource"
)

// bundleData holds the manifest headers of a bundle to be converted.
type bundleData struct {
	symbolicName string
	version      string
	uri          string
	headers      map[string][]string
}

func defaultBundle(symbolicName, version string) bundleData {
	return bundleData{
		symbolicName: symbolicName,
		version:      version,
		headers:      map[string][]string{},
	}
}

func (b bundleData) manifest() map[string]string {
	m := map[string]string{
		resource.HeaderManifestVersion: "2",
		resource.HeaderSymbolicName:    b.symbolicName,
		resource.HeaderVersion:         b.version,
	}
	for name, clauses := range b.headers {
		m[name] = strings.Join(clauses, ",")
	}
	return m
}

// BundleOption configures a bundle.
type BundleOption func(*bundleData)

func header(name, clause string) BundleOption {
	return func(b *bundleData) { b.headers[name] = append(b.headers[name], clause) }
}

// Exports adds an Export-Package clause, e.g. `com.acme;version=1.0`.
func Exports(clause string) BundleOption { return header(resource.HeaderExportPackage, clause) }

// Imports adds an Import-Package clause.
func Imports(clause string) BundleOption { return header(resource.HeaderImportPackage, clause) }

// Provides adds a Provide-Capability clause.
func Provides(clause string) BundleOption { return header(resource.HeaderProvideCapability, clause) }

// Requires adds a Require-Capability clause.
func Requires(clause string) BundleOption { return header(resource.HeaderRequireCapability, clause) }

func RequiresBundle(clause string) BundleOption { return header(resource.HeaderRequireBundle, clause) }

// Services adds an Export-Service clause.
func Services(clause string) BundleOption { return header(resource.HeaderExportService, clause) }

// FragmentOf makes the bundle a fragment of host.
func FragmentOf(host string) BundleOption { return header(resource.HeaderFragmentHost, host) }

// Content records the bundle's download location.
func Content(uri string) BundleOption {
	return func(b *bundleData) { b.uri = uri }
}
