package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/obr/internal/tracing"
)

// validators identify the fetched representation for a conditional refetch.
type validators struct {
	etag         string
	lastModified string
}

type fetched struct {
	body        []byte
	notModified bool
	validators  validators
}

// NormalizeLocation returns the canonical URL a source built from raw is
// keyed by, e.g. in a DocumentStore.
func NormalizeLocation(raw string) (string, error) {
	u, err := parseLocation(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// parseLocation accepts http, https and file URLs or a bare file path.
func parseLocation(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			if u.Host == "" {
				return nil, fmt.Errorf("url %q has no host", raw)
			}
			return u, nil
		case "file":
			if u.Path == "" {
				return nil, fmt.Errorf("url %q has no path", raw)
			}
			return u, nil
		case "":
		default:
			// Windows drive letters parse as a one letter scheme.
			if len(u.Scheme) > 1 {
				return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
			}
		}
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", raw, err)
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
}

// fetch retrieves target. With cond set the request is conditional and may
// report notModified.
func (s *URLSource) fetch(ctx context.Context, target *url.URL, cond *validators) (_ *fetched, err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanFetch, attribute.String(tracing.AttrSourceURL, target.String()))
	defer func() { tracing.End(span, err) }()

	if target.Scheme == "file" {
		return s.fetchFile(target, cond)
	}

	res, err := s.breaker.Execute(func() (any, error) {
		return s.fetchHTTP(ctx, target, cond)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &SourceUnavailableError{URL: target.String(), Err: err}
		}
		return nil, err
	}
	f := res.(*fetched)
	if f.notModified {
		span.SetAttributes(attribute.Int(tracing.AttrHTTPStatus, http.StatusNotModified))
	}
	return f, nil
}

func (s *URLSource) fetchHTTP(ctx context.Context, target *url.URL, cond *validators) (*fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &SourceUnavailableError{URL: target.String(), Err: err}
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	if cond != nil {
		if cond.etag != "" {
			req.Header.Set("If-None-Match", cond.etag)
		}
		if cond.lastModified != "" {
			req.Header.Set("If-Modified-Since", cond.lastModified)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SourceUnavailableError{URL: target.String(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified && cond != nil:
		return &fetched{notModified: true, validators: *cond}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &SourceUnavailableError{URL: target.String(), Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	raw, err := readLimited(resp.Body, "response body")
	if err != nil {
		return nil, &SourceUnavailableError{URL: target.String(), Err: err}
	}
	body, err := decodeContent(target.Path, resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", target, err)
	}
	return &fetched{
		body: body,
		validators: validators{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

// fetchFile uses the modification time as the validator.
func (s *URLSource) fetchFile(target *url.URL, cond *validators) (*fetched, error) {
	path := filepath.FromSlash(target.Path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, &SourceUnavailableError{URL: target.String(), Err: err}
	}
	mod := info.ModTime().UTC().Format(time.RFC3339Nano)
	if cond != nil && cond.lastModified == mod {
		return &fetched{notModified: true, validators: *cond}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceUnavailableError{URL: target.String(), Err: err}
	}
	body, err := decodeContent(path, "", raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", target, err)
	}
	return &fetched{body: body, validators: validators{lastModified: mod}}, nil
}
