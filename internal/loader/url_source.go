package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/obr/internal/cachemanager"
	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/metrics"
	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/repoxml"
	"github.com/zjrosen/obr/internal/resource"
	"github.com/zjrosen/obr/internal/tracing"
)

// Load outcomes, as reported in metrics and spans.
const (
	OutcomeFetched     = "fetched"
	OutcomeNotModified = "not_modified"
	OutcomeUnchanged   = "unchanged"
	OutcomeFallback    = "fallback"
	OutcomeError       = "error"
)

const defaultHTTPTimeout = 30 * time.Second

// Option configures a URLSource.
type Option func(*URLSource)

// WithName sets the name used in logs, metrics and the snapshot. Defaults
// to the URL.
func WithName(name string) Option {
	return func(s *URLSource) { s.name = name }
}

// WithFactory sets the document factory. Defaults to a strict factory.
func WithFactory(f *repoxml.Factory) Option {
	return func(s *URLSource) { s.factory = f }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *URLSource) { s.client = c }
}

// WithExpiration serves a loaded snapshot for d without contacting the
// source. Zero disables expiration caching.
func WithExpiration(d time.Duration) Option {
	return func(s *URLSource) { s.expiration = d }
}

// WithStore persists fetched documents and uses them when the source is
// unreachable.
func WithStore(store DocumentStore) Option {
	return func(s *URLSource) { s.store = store }
}

// WithReferralDepth follows referrals up to n levels below the document.
func WithReferralDepth(n int) Option {
	return func(s *URLSource) { s.referralDepth = n }
}

// WithRepositoryOptions passes index options to every built snapshot.
func WithRepositoryOptions(opts ...repository.Option) Option {
	return func(s *URLSource) { s.repoOpts = append(s.repoOpts, opts...) }
}

// WithBreakerSettings replaces the circuit breaker settings for http
// fetches.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(s *URLSource) { s.breakerSettings = &st }
}

// URLSource loads a repository document from an http(s) or file URL.
type URLSource struct {
	raw             string
	target          *url.URL
	name            string
	factory         *repoxml.Factory
	client          *http.Client
	breaker         *gobreaker.CircuitBreaker
	breakerSettings *gobreaker.Settings
	store           DocumentStore
	expiration      time.Duration
	referralDepth   int
	repoOpts        []repository.Option
	cache           *cachemanager.ReadThroughCache[*Snapshot, struct{}]

	mu         sync.Mutex
	prev       *Snapshot
	validators validators
	stored     *StoredDocument
	seeded     bool
}

var _ Source = (*URLSource)(nil)

// NewURLSource creates a source for raw, which is an http, https or file
// URL or a bare file path.
func NewURLSource(raw string, opts ...Option) (*URLSource, error) {
	target, err := parseLocation(raw)
	if err != nil {
		return nil, err
	}
	s := &URLSource{raw: raw, target: target, name: raw}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		s.factory = repoxml.NewFactory()
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	settings := gobreaker.Settings{
		Name:        s.name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if s.breakerSettings != nil {
		settings = *s.breakerSettings
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(log.CatLoader, "circuit breaker state changed", "source", name, "from", from.String(), "to", to.String())
	}
	s.breaker = gobreaker.NewCircuitBreaker(settings)

	cleanup := cachemanager.DefaultCleanupInterval
	if s.expiration > 0 && s.expiration < cleanup {
		cleanup = s.expiration
	}
	s.cache = cachemanager.NewReadThroughCache(
		cachemanager.NewInMemoryCacheManager[*Snapshot]("snapshot", s.expiration, cleanup),
		func(ctx context.Context, _ struct{}) (*Snapshot, error) { return s.load(ctx) },
		s.expiration <= 0,
	)
	return s, nil
}

func (s *URLSource) Name() string { return s.name }

// URL returns the resolved location of the document.
func (s *URLSource) URL() string { return s.target.String() }

// Load returns the current snapshot of the source. Within the expiration
// window the last snapshot is returned without I/O.
func (s *URLSource) Load(ctx context.Context) (*Snapshot, error) {
	return s.cache.Get(ctx, s.target.String(), struct{}{}, s.expiration)
}

// Invalidate ends the expiration window so the next Load contacts the
// source.
func (s *URLSource) Invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, s.target.String())
}

func (s *URLSource) load(ctx context.Context) (snap *Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	ctx, span := tracing.Start(ctx, tracing.SpanLoad,
		attribute.String(tracing.AttrRepository, s.name),
		attribute.String(tracing.AttrSourceURL, s.target.String()),
	)

	snap, outcome, err := s.loadLocked(ctx)

	metrics.LoadsTotal.WithLabelValues(s.name, outcome).Inc()
	metrics.LoadDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String(tracing.AttrOutcome, outcome))
	if snap != nil {
		span.SetAttributes(attribute.Int64(tracing.AttrIncrement, snap.Increment))
	}
	tracing.End(span, err)
	return snap, err
}

func (s *URLSource) loadLocked(ctx context.Context) (*Snapshot, string, error) {
	s.seed(ctx)

	f, err := s.fetch(ctx, s.target, s.conditional())
	if err != nil {
		var unavailable *SourceUnavailableError
		if errors.As(err, &unavailable) {
			if snap, ok := s.offline(ctx, err); ok {
				return snap, OutcomeFallback, nil
			}
		}
		return nil, OutcomeError, err
	}

	if f.notModified {
		if s.prev != nil {
			s.validators = f.validators
			log.Debug(log.CatLoader, "repository not modified", "source", s.name)
			return s.prev, OutcomeNotModified, nil
		}
		snap, _, err := s.build(ctx, s.stored.Body, f.validators)
		if err != nil {
			return nil, OutcomeError, err
		}
		return snap, OutcomeNotModified, nil
	}

	snap, unchanged, err := s.build(ctx, f.body, f.validators)
	if err != nil {
		return nil, OutcomeError, err
	}
	s.persist(ctx, f, snap.Increment)
	if unchanged {
		return snap, OutcomeUnchanged, nil
	}
	return snap, OutcomeFetched, nil
}

// seed loads the stored copy once, on the first load.
func (s *URLSource) seed(ctx context.Context) {
	if s.seeded || s.store == nil {
		return
	}
	s.seeded = true
	doc, err := s.store.Get(ctx, s.target.String())
	switch {
	case errors.Is(err, ErrNotStored):
	case err != nil:
		log.Warn(log.CatLoader, "reading stored document failed", "source", s.name, "error", err)
	default:
		s.stored = doc
		log.Debug(log.CatLoader, "seeded from stored document", "source", s.name, "increment", doc.Increment)
	}
}

func (s *URLSource) conditional() *validators {
	switch {
	case s.prev != nil:
		if s.validators == (validators{}) {
			return nil
		}
		v := s.validators
		return &v
	case s.stored != nil && (s.stored.ETag != "" || s.stored.LastModified != ""):
		return &validators{etag: s.stored.ETag, lastModified: s.stored.LastModified}
	default:
		return nil
	}
}

// offline serves the previous snapshot or the stored document when the
// source cannot be reached and a store is configured.
func (s *URLSource) offline(ctx context.Context, cause error) (*Snapshot, bool) {
	if s.store == nil {
		return nil, false
	}
	if s.prev != nil {
		log.Warn(log.CatLoader, "source unavailable, keeping previous snapshot", "source", s.name, "error", cause)
		return s.prev, true
	}
	if s.stored == nil {
		return nil, false
	}
	snap, _, err := s.build(ctx, s.stored.Body, validators{etag: s.stored.ETag, lastModified: s.stored.LastModified})
	if err != nil {
		log.Warn(log.CatLoader, "stored document unusable", "source", s.name, "error", err)
		return nil, false
	}
	log.Warn(log.CatLoader, "source unavailable, using stored document", "source", s.name,
		"fetched_at", s.stored.FetchedAt, "error", cause)
	return snap, true
}

// build decodes body into a snapshot and records it as the previous one.
// When the header increment equals the previous snapshot's, the body is not
// parsed and the previous snapshot is returned with unchanged set.
func (s *URLSource) build(ctx context.Context, body []byte, val validators) (_ *Snapshot, unchanged bool, err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanDecode, attribute.String(tracing.AttrRepository, s.name))
	defer func() { tracing.End(span, err) }()

	dec := s.factory.NewDecoder(bytes.NewReader(body))
	h, err := dec.Header()
	if err != nil {
		return nil, false, fmt.Errorf("repository %s: %w", s.name, err)
	}
	if s.prev != nil && h.Increment != 0 && h.Increment == s.prev.Increment {
		s.validators = val
		log.Debug(log.CatLoader, "repository increment unchanged", "source", s.name, "increment", h.Increment)
		return s.prev, true, nil
	}

	doc, err := dec.Decode()
	if err != nil {
		return nil, false, fmt.Errorf("repository %s: %w", s.name, err)
	}

	resources := doc.Resources
	if s.referralDepth > 0 && len(doc.Referrals) > 0 {
		seen := map[string]bool{s.target.String(): true}
		referred := s.referrals(ctx, s.target, doc.Referrals, s.referralDepth, seen)
		resources = append(append([]*resource.Resource(nil), doc.Resources...), referred...)
	}

	opts := append([]repository.Option{
		repository.WithName(s.name),
		repository.WithIncrement(doc.Increment),
	}, s.repoOpts...)
	snap := &Snapshot{
		ID:        uuid.New(),
		Source:    s.name,
		Name:      doc.Name,
		Increment: doc.Increment,
		Fingerprint: repoxml.Fingerprint(&repoxml.Document{
			Name:      doc.Name,
			Increment: doc.Increment,
			Referrals: doc.Referrals,
			Resources: resources,
		}),
		LoadedAt:   time.Now(),
		Referrals:  doc.Referrals,
		Repository: repository.NewBase(resources, opts...),
	}
	span.SetAttributes(attribute.Int(tracing.AttrResources, len(resources)))

	s.prev = snap
	s.validators = val
	log.Info(log.CatLoader, "loaded repository", "source", s.name, "name", doc.Name,
		"increment", doc.Increment, "resources", len(resources), "capabilities", snap.Repository.CapabilityCount())
	return snap, false, nil
}

// referrals loads referred documents below base, depth levels deep. A
// referral's own depth narrows the remaining depth for its subtree. Failed
// referrals are logged and skipped.
func (s *URLSource) referrals(ctx context.Context, base *url.URL, refs []repoxml.Referral, depth int, seen map[string]bool) []*resource.Resource {
	if depth <= 0 {
		return nil
	}
	var out []*resource.Resource
	for _, ref := range refs {
		d := depth
		if ref.Depth > 0 && ref.Depth < d {
			d = ref.Depth
		}
		u, err := url.Parse(ref.URL)
		if err != nil {
			log.Warn(log.CatLoader, "invalid referral", "source", s.name, "url", ref.URL, "error", err)
			continue
		}
		target := base.ResolveReference(u)
		key := target.String()
		if seen[key] {
			continue
		}
		seen[key] = true

		f, err := s.fetch(ctx, target, nil)
		if err != nil {
			log.Warn(log.CatLoader, "referral unavailable", "source", s.name, "url", key, "error", err)
			continue
		}
		doc, err := s.factory.DecodeBytes(f.body)
		if err != nil {
			log.Warn(log.CatLoader, "referral unreadable", "source", s.name, "url", key, "error", err)
			continue
		}
		out = append(out, doc.Resources...)
		out = append(out, s.referrals(ctx, target, doc.Referrals, d-1, seen)...)
	}
	return out
}

func (s *URLSource) persist(ctx context.Context, f *fetched, increment int64) {
	if s.store == nil {
		return
	}
	doc := &StoredDocument{
		URL:          s.target.String(),
		Body:         f.body,
		ETag:         f.validators.etag,
		LastModified: f.validators.lastModified,
		Increment:    increment,
		FetchedAt:    time.Now(),
	}
	if err := s.store.Put(ctx, doc); err != nil {
		log.Warn(log.CatLoader, "storing document failed", "source", s.name, "error", err)
		return
	}
	s.stored = doc
}
