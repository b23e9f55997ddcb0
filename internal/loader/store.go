package loader

import (
	"context"
	"errors"
	"time"
)

// ErrNotStored is returned by a DocumentStore without a copy of the URL.
var ErrNotStored = errors.New("document not stored")

// StoredDocument is the last successfully fetched body of a source together
// with the validators needed for a conditional refetch.
type StoredDocument struct {
	URL          string
	Body         []byte
	ETag         string
	LastModified string
	Increment    int64
	FetchedAt    time.Time
}

// DocumentStore persists fetched documents across restarts.
type DocumentStore interface {
	Get(ctx context.Context, url string) (*StoredDocument, error)
	Put(ctx context.Context, doc *StoredDocument) error
	Delete(ctx context.Context, url string) error
}
