package repository

import (
	"context"
	"sync/atomic"

	"github.com/zjrosen/obr/internal/resource"
)

// Live is a repository whose content can be replaced atomically. Queries
// run against whichever snapshot was current when they started.
type Live struct {
	name    string
	current atomic.Pointer[Base]
}

// NewLive starts with an empty snapshot.
func NewLive(name string) *Live {
	l := &Live{name: name}
	l.current.Store(NewBase(nil, WithName(name)))
	return l
}

func (l *Live) Name() string { return l.name }

// Current returns the published snapshot.
func (l *Live) Current() *Base { return l.current.Load() }

// Swap publishes next and returns the snapshot it replaced. A nil next is
// replaced by an empty repository.
func (l *Live) Swap(next *Base) *Base {
	if next == nil {
		next = NewBase(nil, WithName(l.name))
	}
	return l.current.Swap(next)
}

func (l *Live) FindProviders(ctx context.Context, reqs []*resource.Requirement) (Providers, error) {
	return l.Current().FindProviders(ctx, reqs)
}
