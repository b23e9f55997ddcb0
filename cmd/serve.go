package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/obr/internal/api"
	"github.com/zjrosen/obr/internal/config"
	"github.com/zjrosen/obr/internal/loader"
	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/pubsub"
	"github.com/zjrosen/obr/internal/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve provider queries over HTTP",
	Long: `Keep every configured repository loaded, refreshing it on its
refresh_interval and, for watched files, whenever the file changes, and
answer provider queries over HTTP.

Endpoints:
  GET  /providers?namespace=..&filter=..   one requirement
  GET  /providers?r=ns:filter&r=..         several requirements
  POST /providers                          {"requirements":[{"namespace":..,"filter":..}]}
  GET  /repositories                       published snapshots
  POST /repositories/{name}/reload         bypass the cache and reload
  GET  /events                             snapshot changes (server-sent events)
  GET  /healthz                            ok once every repository loaded
  GET  /metrics                            prometheus metrics

Example:
  obr serve                       # listen on serve.addr (default 127.0.0.1:8420)
  obr serve --addr :0             # let the OS pick a port`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (overrides serve.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	repos, err := rt.selected(nil)
	if err != nil {
		return err
	}

	events := pubsub.NewBroker[loader.SnapshotEvent]()
	defer events.Close()

	refreshers := make([]*loader.Refresher, 0, len(repos))
	lives := make([]repository.Repository, 0, len(repos))
	for _, rc := range repos {
		src, err := rt.source(rc)
		if err != nil {
			return err
		}
		live := repository.NewLive(rc.Name)
		refreshers = append(refreshers, loader.NewRefresher(src, live, refresherOptions(rc, events)...))
		lives = append(lives, live)
	}
	aggOpts := append(cfg.AggregateOptions(), repository.WithAggregateName("serve"))
	agg := repository.NewAggregate(lives, aggOpts...)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Serve.Addr
	}
	server, err := api.NewServer(api.ServerConfig{
		HandlerConfig: api.HandlerConfig{
			Repository: agg,
			Refreshers: refreshers,
			Events:     events,
		},
		Addr: addr,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range refreshers {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "obr serving %d repositories on %s\n", len(repos), server.Addr())
	log.Info(log.CatHTTP, "serving", "addr", server.Addr(), "repositories", len(repos))

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "stopped")
	return nil
}

func refresherOptions(rc config.RepositoryConfig, events *pubsub.Broker[loader.SnapshotEvent]) []loader.RefresherOption {
	opts := []loader.RefresherOption{
		loader.WithInterval(rc.RefreshInterval),
		loader.WithBroker(events),
	}
	if path, ok := rc.FilePath(); ok && rc.Watch {
		opts = append(opts, loader.WithWatchFile(path))
	}
	return opts
}
