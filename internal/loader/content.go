package loader

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// maxDocumentSize bounds a decoded repository document.
const maxDocumentSize = 256 << 20

// zipEntry is preferred inside zip archives; otherwise the first .xml entry
// is used.
const zipEntry = "repository.xml"

// decodeContent undoes the transfer encoding and then the archive or
// compression format implied by the document name.
func decodeContent(name, contentEncoding string, body []byte) ([]byte, error) {
	var err error
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
	case "gzip", "x-gzip":
		if body, err = gunzip(body); err != nil {
			return nil, err
		}
	case "zstd":
		if body, err = unzstd(body); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".gz", ".gzip":
		return gunzip(body)
	case ".zst", ".zstd":
		return unzstd(body)
	case ".zip", ".jar":
		return unzipDocument(body)
	default:
		return body, nil
	}
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer func() { _ = zr.Close() }()
	return readLimited(zr, "gzip")
}

func unzstd(data []byte) ([]byte, error) {
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer zr.Close()
	return readLimited(zr, "zstd")
}

func unzipDocument(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if path.Base(f.Name) == zipEntry {
			entry = f
			break
		}
		if entry == nil && strings.EqualFold(path.Ext(f.Name), ".xml") {
			entry = f
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("zip: no repository document in archive")
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("zip %s: %w", entry.Name, err)
	}
	defer func() { _ = rc.Close() }()
	return readLimited(rc, "zip "+entry.Name)
}

func readLimited(r io.Reader, what string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%s: document exceeds %d bytes", what, maxDocumentSize)
	}
	return data, nil
}
