package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/obr/internal/capset"
	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/metrics"
	"github.com/zjrosen/obr/internal/resource"
	"github.com/zjrosen/obr/internal/tracing"
)

// DefaultIndexAttributes returns the attributes bucketed for namespace when
// no override is configured: the namespace's own attribute, plus
// objectClass for services.
func DefaultIndexAttributes(namespace string) []string {
	if namespace == resource.NamespaceService {
		return []string{resource.AttrObjectClass}
	}
	return []string{namespace}
}

// Option configures a Base.
type Option func(*baseConfig)

type baseConfig struct {
	name       string
	increment  int64
	indexAttrs map[string][]string
	obligate   bool
	capsetOpts []capset.Option
}

// WithName labels the repository in logs, traces and metrics.
func WithName(name string) Option {
	return func(c *baseConfig) { c.name = name }
}

// WithIncrement records the document increment the resources came from.
func WithIncrement(increment int64) Option {
	return func(c *baseConfig) { c.increment = increment }
}

// WithIndexAttributes replaces the bucketed attributes for namespace.
func WithIndexAttributes(namespace string, attrs ...string) Option {
	return func(c *baseConfig) { c.indexAttrs[namespace] = slices.Clone(attrs) }
}

// WithObligate controls whether capability obligations, such as the
// mandatory directive, filter query results. Enabled by default.
func WithObligate(obligate bool) Option {
	return func(c *baseConfig) { c.obligate = obligate }
}

// WithCapsetOptions passes options to every capability set, for example a
// custom obligation rule.
func WithCapsetOptions(opts ...capset.Option) Option {
	return func(c *baseConfig) { c.capsetOpts = append(c.capsetOpts, opts...) }
}

// Base is an immutable in-memory repository. Construction indexes every
// capability; afterwards FindProviders is safe for concurrent use without
// locking.
type Base struct {
	name      string
	increment int64
	obligate  bool
	resources []*resource.Resource
	sets      map[string]*capset.Set
	capCount  int
}

// NewBase indexes the capabilities of resources.
func NewBase(resources []*resource.Resource, opts ...Option) *Base {
	cfg := baseConfig{indexAttrs: map[string][]string{}, obligate: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Base{
		name:      cfg.name,
		increment: cfg.increment,
		obligate:  cfg.obligate,
		resources: slices.Clone(resources),
		sets:      map[string]*capset.Set{},
	}

	for _, res := range b.resources {
		for _, c := range res.Capabilities() {
			set, ok := b.sets[c.Namespace()]
			if !ok {
				attrs, configured := cfg.indexAttrs[c.Namespace()]
				if !configured {
					attrs = DefaultIndexAttributes(c.Namespace())
				}
				set = capset.New(c.Namespace(), attrs, cfg.capsetOpts...)
				b.sets[c.Namespace()] = set
			}
			// The set was chosen by namespace.
			if err := set.Add(c); err != nil {
				panic(err)
			}
			b.capCount++
		}
	}

	if b.name != "" {
		metrics.SnapshotCapabilities.WithLabelValues(b.name).Set(float64(b.capCount))
	}
	log.Debug(log.CatIndex, "indexed repository",
		"name", b.name, "resources", len(b.resources), "capabilities", b.capCount, "namespaces", len(b.sets))
	return b
}

func (b *Base) Name() string { return b.name }

// Increment returns the document increment, 0 when unknown.
func (b *Base) Increment() int64 { return b.increment }

// Resources returns the indexed resources in document order.
func (b *Base) Resources() []*resource.Resource { return slices.Clone(b.resources) }

// Namespaces returns the namespaces with at least one capability, sorted.
func (b *Base) Namespaces() []string {
	ns := slices.Collect(maps.Keys(b.sets))
	sort.Strings(ns)
	return ns
}

func (b *Base) CapabilityCount() int { return b.capCount }

// FindProviders matches each requirement against the capability set of its
// namespace. A requirement without a filter matches every capability of the
// namespace. It never returns an error.
func (b *Base) FindProviders(ctx context.Context, reqs []*resource.Requirement) (Providers, error) {
	_, span := tracing.Start(ctx, tracing.SpanFindProviders,
		attribute.String(tracing.AttrRepository, b.name),
		attribute.Int(tracing.AttrRequirements, len(reqs)),
	)
	start := time.Now()

	out := emptyProviders(reqs)
	total := 0
	for _, req := range reqs {
		set, ok := b.sets[req.Namespace()]
		if !ok {
			continue
		}
		if caps := set.Match(req.Filter(), b.obligate); len(caps) > 0 {
			out[req] = caps
			total += len(caps)
		}
	}

	metrics.QueriesTotal.WithLabelValues(b.name).Inc()
	metrics.QueryDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int(tracing.AttrProviders, total))
	tracing.End(span, nil)
	return out, nil
}
