package loader

import (
	"context"
	"sync"

	"github.com/zjrosen/obr/internal/log"
)

// Tolerant wraps src so that load failures are logged instead of returned.
// A failed load yields the last good snapshot, or an empty one when there
// has been none.
func Tolerant(src Source) Source {
	return &tolerant{src: src}
}

type tolerant struct {
	src Source

	mu   sync.Mutex
	last *Snapshot
}

func (t *tolerant) Name() string { return t.src.Name() }

func (t *tolerant) Load(ctx context.Context) (*Snapshot, error) {
	snap, err := t.src.Load(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.last = snap
		return snap, nil
	}

	log.Warn(log.CatLoader, "ignoring repository load failure", "source", t.src.Name(), "error", err)
	if t.last == nil {
		t.last = EmptySnapshot(t.src.Name())
	}
	return t.last, nil
}

// Invalidate forwards to the wrapped source.
func (t *tolerant) Invalidate(ctx context.Context) {
	if inv, ok := t.src.(invalidator); ok {
		inv.Invalidate(ctx)
	}
}
