// Package loader turns repository documents at a URL into immutable
// snapshots and keeps a live repository current with them.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/repoxml"
)

// Source produces snapshots of one repository.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Snapshot, error)
}

// invalidator is implemented by sources that cache snapshots and can be
// told their origin changed.
type invalidator interface {
	Invalidate(ctx context.Context)
}

// Snapshot is one loaded state of a source. It is never modified after
// Load returns it; a source that finds nothing new returns the previous
// Snapshot pointer.
type Snapshot struct {
	ID          uuid.UUID
	Source      string
	Name        string
	Increment   int64
	Fingerprint [32]byte
	LoadedAt    time.Time
	Referrals   []repoxml.Referral
	Repository  *repository.Base
}

// EmptySnapshot returns a snapshot of source without resources.
func EmptySnapshot(source string) *Snapshot {
	doc := &repoxml.Document{}
	return &Snapshot{
		ID:          uuid.New(),
		Source:      source,
		Fingerprint: repoxml.Fingerprint(doc),
		LoadedAt:    time.Now(),
		Repository:  repository.NewBase(nil, repository.WithName(source)),
	}
}

// SourceUnavailableError reports that a document could not be fetched.
type SourceUnavailableError struct {
	URL string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("repository %s unavailable: %v", e.URL, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }
