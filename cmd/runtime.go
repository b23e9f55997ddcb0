package cmd

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/obr/internal/config"
	"github.com/zjrosen/obr/internal/infrastructure/sqlite"
	"github.com/zjrosen/obr/internal/loader"
	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/repoxml"
	"github.com/zjrosen/obr/internal/tracing"
)

// runtime holds the shared services built from configuration.
type runtime struct {
	cfg     config.Config
	factory *repoxml.Factory
	db      *sqlite.DB
	tracer  *tracing.Provider
}

func newRuntime(c config.Config) (*runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tp, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	rt := &runtime{
		cfg:     c,
		factory: repoxml.NewFactory(repoxml.WithStrict(c.Document.Strict)),
		tracer:  tp,
	}
	if c.Store.Enabled {
		db, err := sqlite.NewDB(c.Store.Path)
		if err != nil {
			_ = tp.Shutdown(context.Background())
			return nil, fmt.Errorf("opening document store: %w", err)
		}
		rt.db = db
	}
	return rt, nil
}

// source builds the loader for one configured repository.
func (rt *runtime) source(rc config.RepositoryConfig) (loader.Source, error) {
	opts := []loader.Option{
		loader.WithName(rc.Name),
		loader.WithFactory(rt.factory),
		loader.WithExpiration(rc.Expiration),
		loader.WithReferralDepth(rc.ReferralDepth),
		loader.WithRepositoryOptions(rt.cfg.RepositoryOptions()...),
	}
	if rt.db != nil {
		opts = append(opts, loader.WithStore(rt.db.Documents()))
	}
	src, err := loader.NewURLSource(rc.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", rc.Name, err)
	}
	if rc.Tolerant {
		return loader.Tolerant(src), nil
	}
	return src, nil
}

// selected returns the configured repositories named, or all of them.
func (rt *runtime) selected(names []string) ([]config.RepositoryConfig, error) {
	if len(names) == 0 {
		if len(rt.cfg.Repositories) == 0 {
			return nil, errors.New("no repositories configured (see `obr repos add`)")
		}
		return rt.cfg.Repositories, nil
	}
	out := make([]config.RepositoryConfig, 0, len(names))
	for _, name := range names {
		rc, ok := rt.cfg.Repository(name)
		if !ok {
			return nil, fmt.Errorf("repository %q not configured", name)
		}
		out = append(out, rc)
	}
	return out, nil
}

// loadAll loads the named repositories concurrently. Under the skip failure
// policy a repository that cannot be loaded is left out with a warning.
func (rt *runtime) loadAll(ctx context.Context, names []string) ([]*loader.Snapshot, error) {
	repos, err := rt.selected(names)
	if err != nil {
		return nil, err
	}
	sources := make([]loader.Source, len(repos))
	for i, rc := range repos {
		if sources[i], err = rt.source(rc); err != nil {
			return nil, err
		}
	}

	policy, _ := repository.ParseFailurePolicy(rt.cfg.Aggregate.FailurePolicy)
	skip := policy == repository.FailSkip
	snaps := make([]*loader.Snapshot, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	if n := rt.cfg.Aggregate.Concurrency; n > 0 {
		g.SetLimit(n)
	}
	for i, src := range sources {
		g.Go(func() error {
			snap, err := src.Load(gctx)
			if err != nil {
				if skip {
					log.Warn(log.CatLoader, "skipping repository", "source", src.Name(), "error", err)
					return nil
				}
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := snaps[:0]
	for _, s := range snaps {
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	errs = append(errs, rt.tracer.Shutdown(ctx))
	return errors.Join(errs...)
}
