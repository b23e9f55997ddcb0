package testutil

// Standard bundle names.
const (
	BundleAPI  = "com.acme.api"
	BundleImpl = "com.acme.impl"
	BundleUtil = "org.other.util"
)

// WithStandardBundles adds a small, self-consistent set of bundles: an API,
// an implementation that imports it and exports a mandatory-attribute
// package and a service, and an unrelated utility providing an extender.
func (b *Builder) WithStandardBundles() *Builder {
	return b.
		WithBundle(BundleAPI, "1.0.0",
			Exports(`com.acme.api;version="1.0.0"`),
			Content("https://repo.example.com/com.acme.api-1.0.0.jar")).
		WithBundle(BundleImpl, "1.2.0",
			Imports(`com.acme.api;version="[1.0,2.0)"`),
			Exports(`com.acme.impl;version="1.2.0";vendor=acme;mandatory:=vendor`),
			Services("com.acme.Greeter"),
			Content("https://repo.example.com/com.acme.impl-1.2.0.jar")).
		WithBundle(BundleUtil, "2.0.0",
			Exports(`org.other.util;version="2.0.0"`),
			Provides(`osgi.extender;osgi.extender=osgi.component;version:Version="1.3"`),
			Requires(`osgi.ee;filter:="(&(osgi.ee=JavaSE)(version>=11))"`))
}
