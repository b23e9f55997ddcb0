package repository

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/metrics"
	"github.com/zjrosen/obr/internal/resource"
	"github.com/zjrosen/obr/internal/tracing"
)

// FailurePolicy decides what an Aggregate does when a source fails.
type FailurePolicy int

const (
	// FailPropagate aborts the query with a *SourceQueryError.
	FailPropagate FailurePolicy = iota
	// FailSkip logs the failure and continues with the other sources.
	FailSkip
)

func (p FailurePolicy) String() string {
	switch p {
	case FailPropagate:
		return "propagate"
	case FailSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy parses "propagate" or "skip".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "propagate":
		return FailPropagate, nil
	case "skip":
		return FailSkip, nil
	}
	return FailPropagate, fmt.Errorf("unknown failure policy %q: want \"propagate\" or \"skip\"", s)
}

// SourceQueryError reports the source that failed an aggregate query.
type SourceQueryError struct {
	Index       int
	Source      string
	Requirement *resource.Requirement
	Err         error
}

func (e *SourceQueryError) Error() string {
	name := e.Source
	if name == "" {
		name = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("repository %s: find providers for %s: %v", name, e.Requirement, e.Err)
}

func (e *SourceQueryError) Unwrap() error { return e.Err }

// AggregateOption configures an Aggregate.
type AggregateOption func(*Aggregate)

// WithFailurePolicy sets the failure policy. The default is FailPropagate.
func WithFailurePolicy(p FailurePolicy) AggregateOption {
	return func(a *Aggregate) { a.policy = p }
}

// WithConcurrency bounds how many sources are queried at once. Values below
// one mean all sources in parallel.
func WithConcurrency(n int) AggregateOption {
	return func(a *Aggregate) { a.limit = n }
}

// WithAggregateName labels the aggregate in logs and traces.
func WithAggregateName(name string) AggregateOption {
	return func(a *Aggregate) { a.name = name }
}

type named interface {
	Name() string
}

// Aggregate presents several repositories as one. Each requirement is
// queried against every source on its own and the results are unioned.
// Capabilities returned by more than one source appear once.
type Aggregate struct {
	name    string
	sources []Repository
	policy  FailurePolicy
	limit   int
}

// NewAggregate combines sources. The slice is copied.
func NewAggregate(sources []Repository, opts ...AggregateOption) *Aggregate {
	a := &Aggregate{sources: append([]Repository(nil), sources...)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregate) Name() string { return a.name }

// Sources returns the aggregated repositories.
func (a *Aggregate) Sources() []Repository { return append([]Repository(nil), a.sources...) }

func (a *Aggregate) Policy() FailurePolicy { return a.policy }

// FindProviders queries every source for every requirement. Under
// FailPropagate the first failure is returned and no partial result is.
// Under FailSkip a failing source contributes nothing to that requirement.
func (a *Aggregate) FindProviders(ctx context.Context, reqs []*resource.Requirement) (_ Providers, err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanAggregate,
		attribute.String(tracing.AttrRepository, a.name),
		attribute.Int(tracing.AttrRequirements, len(reqs)),
		attribute.Int(tracing.AttrSources, len(a.sources)),
	)
	defer func() { tracing.End(span, err) }()

	perSource := make([]Providers, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	for i, src := range a.sources {
		g.Go(func() error {
			found, err := a.query(gctx, i, src, reqs)
			perSource[i] = found
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := emptyProviders(reqs)
	done := make(map[*resource.Requirement]struct{}, len(reqs))
	for _, req := range reqs {
		if _, dup := done[req]; dup {
			continue
		}
		done[req] = struct{}{}
		seen := map[*resource.Capability]struct{}{}
		for _, found := range perSource {
			for _, c := range found[req] {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				out[req] = append(out[req], c)
			}
		}
	}
	return out, nil
}

func (a *Aggregate) query(ctx context.Context, i int, src Repository, reqs []*resource.Requirement) (Providers, error) {
	found := make(Providers, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := src.FindProviders(ctx, []*resource.Requirement{req})
		if err == nil {
			found[req] = res[req]
			continue
		}

		qerr := &SourceQueryError{Index: i, Source: sourceName(src), Requirement: req, Err: err}
		if a.policy == FailPropagate {
			metrics.SourceFailures.WithLabelValues("propagated").Inc()
			return nil, qerr
		}
		metrics.SourceFailures.WithLabelValues("skipped").Inc()
		log.Warn(log.CatRepo, "skipping failed repository", "aggregate", a.name, "source", qerr.Source, "index", i, "requirement", req, "error", err)
	}
	return found, nil
}

func sourceName(r Repository) string {
	if n, ok := r.(named); ok {
		return n.Name()
	}
	return ""
}
