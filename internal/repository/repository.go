// Package repository answers findProviders queries: for each requirement,
// the capabilities that satisfy it. Base indexes a fixed set of resources,
// Aggregate fans out over several repositories and Live publishes
// replaceable snapshots.
package repository

import (
	"context"

	"github.com/zjrosen/obr/internal/resource"
)

// Providers maps each queried requirement to its matching capabilities.
// Every queried requirement is a key; no match is an empty slice.
type Providers map[*resource.Requirement][]*resource.Capability

// Repository finds the capabilities that satisfy requirements.
type Repository interface {
	FindProviders(ctx context.Context, reqs []*resource.Requirement) (Providers, error)
}

// Empty returns a repository without resources.
func Empty() *Base {
	return NewBase(nil)
}

func emptyProviders(reqs []*resource.Requirement) Providers {
	out := make(Providers, len(reqs))
	for _, r := range reqs {
		out[r] = []*resource.Capability{}
	}
	return out
}
