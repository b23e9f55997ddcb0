package sqlite

import (
	"fmt"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/zjrosen/obr/internal/loader"
)

const (
	codecLZ4  = "lz4"
	codecNone = "none"
)

// DocumentModel represents a row of the documents table.
type DocumentModel struct {
	URL          string
	Body         []byte
	Codec        string
	Size         int64
	Digest       []byte
	ETag         *string // nullable
	LastModified *string // nullable
	Increment    int64
	FetchedAt    int64 // Unix milliseconds
	UpdatedAt    int64 // Unix milliseconds
}

// toDocumentModel compresses the body and records its BLAKE3 digest.
func toDocumentModel(d *loader.StoredDocument, now time.Time) (*DocumentModel, error) {
	digest := blake3.Sum256(d.Body)
	m := &DocumentModel{
		URL:          d.URL,
		Size:         int64(len(d.Body)),
		Digest:       digest[:],
		ETag:         nullable(d.ETag),
		LastModified: nullable(d.LastModified),
		Increment:    d.Increment,
		FetchedAt:    d.FetchedAt.UnixMilli(),
		UpdatedAt:    now.UnixMilli(),
	}

	body, err := compressLZ4(d.Body)
	switch {
	case err != nil:
		return nil, err
	case body == nil:
		m.Body, m.Codec = d.Body, codecNone
	default:
		m.Body, m.Codec = body, codecLZ4
	}
	return m, nil
}

// toDomain decompresses the body and verifies it against the digest.
func (m *DocumentModel) toDomain() (*loader.StoredDocument, error) {
	var body []byte
	switch m.Codec {
	case codecNone:
		body = m.Body
	case codecLZ4:
		var err error
		body, err = decompressLZ4(m.Body, int(m.Size))
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", m.URL, err)
		}
	default:
		return nil, fmt.Errorf("document %s: unknown codec %q", m.URL, m.Codec)
	}

	if sum := blake3.Sum256(body); string(sum[:]) != string(m.Digest) {
		return nil, fmt.Errorf("stored document %s: %w", m.URL, ErrDigestMismatch)
	}

	d := &loader.StoredDocument{
		URL:       m.URL,
		Body:      body,
		Increment: m.Increment,
		FetchedAt: time.UnixMilli(m.FetchedAt),
	}
	if m.ETag != nil {
		d.ETag = *m.ETag
	}
	if m.LastModified != nil {
		d.LastModified = *m.LastModified
	}
	return d, nil
}

// compressLZ4 returns nil when data does not compress.
func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, nil
	}
	return dst[:n], nil
}

func decompressLZ4(data []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, size)
	}
	return dst, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
