package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/obr/internal/loader"
)

// ErrDigestMismatch is returned when a stored body no longer matches the
// digest recorded when it was written.
var ErrDigestMismatch = errors.New("digest mismatch")

const documentColumns = `url, body, codec, size, digest, etag, last_modified, increment, fetched_at, updated_at`

// DocumentStore implements loader.DocumentStore using SQLite.
type DocumentStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ loader.DocumentStore = (*DocumentStore)(nil)

func newDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db, now: time.Now}
}

func scanDocument(scanner interface{ Scan(...any) error }) (*DocumentModel, error) {
	var m DocumentModel
	err := scanner.Scan(&m.URL, &m.Body, &m.Codec, &m.Size, &m.Digest,
		&m.ETag, &m.LastModified, &m.Increment, &m.FetchedAt, &m.UpdatedAt)
	return &m, err
}

// Get returns the stored document for url, or loader.ErrNotStored.
func (s *DocumentStore) Get(ctx context.Context, url string) (*loader.StoredDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE url = ?`, url)
	m, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loader.ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return m.toDomain()
}

// Put inserts or replaces the stored document for doc.URL.
func (s *DocumentStore) Put(ctx context.Context, doc *loader.StoredDocument) error {
	m, err := toDocumentModel(doc, s.now())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			body = excluded.body, codec = excluded.codec, size = excluded.size, digest = excluded.digest,
			etag = excluded.etag, last_modified = excluded.last_modified, increment = excluded.increment,
			fetched_at = excluded.fetched_at, updated_at = excluded.updated_at`,
		m.URL, m.Body, m.Codec, m.Size, m.Digest, m.ETag, m.LastModified, m.Increment, m.FetchedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

// Delete removes the stored document for url. Deleting a missing URL is not
// an error.
func (s *DocumentStore) Delete(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE url = ?`, url); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// DocumentInfo summarises a stored document without its body.
type DocumentInfo struct {
	URL       string
	Size      int64
	Increment int64
	FetchedAt time.Time
}

// List returns every stored document ordered by URL.
func (s *DocumentStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, size, increment, fetched_at FROM documents ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentInfo
	for rows.Next() {
		var (
			info    DocumentInfo
			fetched int64
		)
		if err := rows.Scan(&info.URL, &info.Size, &info.Increment, &fetched); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		info.FetchedAt = time.UnixMilli(fetched)
		out = append(out, info)
	}
	return out, rows.Err()
}
