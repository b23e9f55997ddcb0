package loader

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/metrics"
	"github.com/zjrosen/obr/internal/pubsub"
	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/tracing"
	"github.com/zjrosen/obr/internal/watcher"
)

// SnapshotEvent describes the result of one refresh.
type SnapshotEvent struct {
	Source   string
	Snapshot *Snapshot
	Previous *Snapshot
	Err      error
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithInterval refreshes every d while Run is active. Zero disables the
// ticker.
func WithInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.interval = d }
}

// WithWatchFile refreshes when the file at path changes.
func WithWatchFile(path string) RefresherOption {
	return func(r *Refresher) { r.watchPath = path }
}

// WithBroker publishes a SnapshotEvent after every refresh.
func WithBroker(b *pubsub.Broker[SnapshotEvent]) RefresherOption {
	return func(r *Refresher) { r.broker = b }
}

// Refresher keeps a live repository in step with a source.
type Refresher struct {
	src       Source
	live      *repository.Live
	interval  time.Duration
	watchPath string
	broker    *pubsub.Broker[SnapshotEvent]

	mu      sync.Mutex
	current *Snapshot
}

func NewRefresher(src Source, live *repository.Live, opts ...RefresherOption) *Refresher {
	r := &Refresher{src: src, live: live}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the snapshot last published to the live repository.
func (r *Refresher) Current() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Live returns the repository kept current.
func (r *Refresher) Live() *repository.Live { return r.live }

func (r *Refresher) Name() string { return r.src.Name() }

// Reload drops any cached snapshot of the source and refreshes.
func (r *Refresher) Reload(ctx context.Context) (*Snapshot, bool, error) {
	if inv, ok := r.src.(invalidator); ok {
		inv.Invalidate(ctx)
	}
	return r.Refresh(ctx)
}

// Refresh loads the source and swaps the live repository when the snapshot
// differs from the published one. On error the published snapshot stays.
func (r *Refresher) Refresh(ctx context.Context) (snap *Snapshot, swapped bool, err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanRefresh, attribute.String(tracing.AttrRepository, r.src.Name()))
	defer func() { tracing.End(span, err) }()

	snap, err = r.src.Load(ctx)

	r.mu.Lock()
	prev := r.current
	switch {
	case err != nil:
		r.mu.Unlock()
		metrics.RefreshesTotal.WithLabelValues(r.src.Name(), "failed").Inc()
		log.ErrorErr(log.CatLoader, "refresh failed", err, "source", r.src.Name())
		r.publish(pubsub.SnapshotFailed, SnapshotEvent{Source: r.src.Name(), Previous: prev, Err: err})
		return prev, false, err
	case prev != nil && (snap == prev || snap.Fingerprint == prev.Fingerprint):
		r.mu.Unlock()
		metrics.RefreshesTotal.WithLabelValues(r.src.Name(), "unchanged").Inc()
		r.publish(pubsub.SnapshotUnchanged, SnapshotEvent{Source: r.src.Name(), Snapshot: prev, Previous: prev})
		return prev, false, nil
	}
	r.current = snap
	r.live.Swap(snap.Repository)
	r.mu.Unlock()

	metrics.RefreshesTotal.WithLabelValues(r.src.Name(), "swapped").Inc()
	metrics.SnapshotCapabilities.WithLabelValues(r.live.Name()).Set(float64(snap.Repository.CapabilityCount()))
	log.Info(log.CatLoader, "published snapshot", "source", r.src.Name(), "id", snap.ID, "increment", snap.Increment)
	r.publish(pubsub.SnapshotSwapped, SnapshotEvent{Source: r.src.Name(), Snapshot: snap, Previous: prev})
	return snap, true, nil
}

// Run refreshes once, then on every tick and file change until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	_, _, _ = r.Refresh(ctx)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var changed <-chan struct{}
	if r.watchPath != "" {
		w, err := watcher.New(watcher.DefaultConfig(r.watchPath))
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
		if changed, err = w.Start(); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			_, _, _ = r.Refresh(ctx)
		case <-changed:
			_, _, _ = r.Reload(ctx)
		}
	}
}

func (r *Refresher) publish(t pubsub.EventType, ev SnapshotEvent) {
	if r.broker != nil {
		r.broker.Publish(t, ev)
	}
}
