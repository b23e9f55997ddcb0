package loader_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/obr/internal/loader"
	"github.com/zjrosen/obr/internal/repoxml"
	"github.com/zjrosen/obr/internal/resource"
	"github.com/zjrosen/obr/internal/testutil"
)

// docServer serves repository documents by path and honours If-None-Match
// when etags are enabled.
type docServer struct {
	*httptest.Server

	mu       sync.Mutex
	docs     map[string][]byte
	etags    bool
	status   int
	requests atomic.Int32
	lastINM  string
}

func newDocServer(t *testing.T) *docServer {
	s := &docServer{docs: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *docServer) set(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = body
}

func (s *docServer) fail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *docServer) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastINM = r.Header.Get("If-None-Match")
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	body, ok := s.docs[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.etags {
		etag := `"` + strconv.Itoa(len(body)) + `"`
		if s.lastINM == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	_, _ = w.Write(body)
}

func sampleXML(t *testing.T, increment int64) []byte {
	return testutil.NewBuilder(t).Named("sample").Increment(increment).WithStandardBundles().XML()
}

func TestURLSource_LoadsFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repository.xml")
	require.NoError(t, os.WriteFile(path, sampleXML(t, 3), 0o644))

	src, err := loader.NewURLSource(path, loader.WithName("local"))
	require.NoError(t, err)

	snap, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local", snap.Source)
	assert.Equal(t, "sample", snap.Name)
	assert.Equal(t, int64(3), snap.Increment)
	assert.Len(t, snap.Repository.Resources(), 3)
	assert.Equal(t, "local", snap.Repository.Name())

	again, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, snap, again, "unmodified file should reuse the snapshot")
}

func TestURLSource_ConditionalFetch(t *testing.T) {
	ctx := context.Background()
	srv := newDocServer(t)
	srv.etags = true
	srv.set("/index.xml", sampleXML(t, 0))

	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)

	first, err := src.Load(ctx)
	require.NoError(t, err)
	second, err := src.Load(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(2), srv.requests.Load())
	assert.NotEmpty(t, srv.lastINM)
}

func TestURLSource_UnchangedIncrementFastPath(t *testing.T) {
	ctx := context.Background()
	srv := newDocServer(t)
	srv.set("/index.xml", sampleXML(t, 5))

	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)
	first, err := src.Load(ctx)
	require.NoError(t, err)

	// Same increment, different and even unparsable body: not parsed.
	srv.set("/index.xml", []byte(`<repository increment="5"><garbage`))
	second, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	srv.set("/index.xml", sampleXML(t, 6))
	third, err := src.Load(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int64(6), third.Increment)
}

func TestURLSource_ZeroIncrementAlwaysParses(t *testing.T) {
	ctx := context.Background()
	srv := newDocServer(t)
	srv.set("/index.xml", sampleXML(t, 0))

	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)
	first, err := src.Load(ctx)
	require.NoError(t, err)
	second, err := src.Load(ctx)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestURLSource_Expiration(t *testing.T) {
	ctx := context.Background()
	srv := newDocServer(t)
	srv.set("/index.xml", sampleXML(t, 0))

	src, err := loader.NewURLSource(srv.URL+"/index.xml", loader.WithExpiration(time.Minute))
	require.NoError(t, err)

	first, err := src.Load(ctx)
	require.NoError(t, err)
	second, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), srv.requests.Load())

	src.Invalidate(ctx)
	_, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.requests.Load())
}

func TestURLSource_GzipContentEncoding(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(sampleXML(t, 1))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)
	snap, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Repository.Resources(), 3)
}

func TestURLSource_Unavailable(t *testing.T) {
	srv := newDocServer(t)
	srv.fail(http.StatusInternalServerError)

	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	var unavailable *loader.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, srv.URL+"/index.xml", unavailable.URL)
	assert.ErrorContains(t, err, "500")
}

func TestURLSource_MissingFile(t *testing.T) {
	src, err := loader.NewURLSource(filepath.Join(t.TempDir(), "missing.xml"))
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	var unavailable *loader.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestURLSource_CircuitBreakerOpens(t *testing.T) {
	srv := newDocServer(t)
	srv.fail(http.StatusBadGateway)

	src, err := loader.NewURLSource(srv.URL+"/index.xml", loader.WithBreakerSettings(gobreaker.Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 },
	}))
	require.NoError(t, err)

	for range 2 {
		_, err = src.Load(context.Background())
		require.Error(t, err)
	}
	_, err = src.Load(context.Background())

	var unavailable *loader.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), srv.requests.Load())
}

func TestURLSource_MalformedDocument(t *testing.T) {
	srv := newDocServer(t)
	srv.set("/index.xml", []byte(`<repository><resource><capability/></resource></repository>`))

	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	var structural *repoxml.StructuralError
	require.ErrorAs(t, err, &structural)
	var unavailable *loader.SourceUnavailableError
	assert.False(t, errors.As(err, &unavailable))
}

func TestURLSource_LenientFactory(t *testing.T) {
	srv := newDocServer(t)
	srv.set("/index.xml", []byte(`<repository increment="1"><extension/><resource>
		<capability namespace="osgi.identity"><attribute name="osgi.identity" value="x"/></capability>
	</resource></repository>`))

	src, err := loader.NewURLSource(srv.URL+"/index.xml", loader.WithFactory(repoxml.NewFactory(repoxml.WithStrict(false))))
	require.NoError(t, err)

	snap, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Repository.Resources(), 1)
}

func TestURLSource_OfflineFallbackFromStore(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestDB(t).Documents()
	srv := newDocServer(t)
	srv.set("/index.xml", sampleXML(t, 7))
	url := srv.URL + "/index.xml"

	online, err := loader.NewURLSource(url, loader.WithStore(store))
	require.NoError(t, err)
	first, err := online.Load(ctx)
	require.NoError(t, err)

	stored, err := store.Get(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.Increment)

	srv.fail(http.StatusServiceUnavailable)

	// The same source keeps its previous snapshot.
	kept, err := online.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, first, kept)

	// A fresh source, as after a restart, falls back to the stored body.
	restarted, err := loader.NewURLSource(url, loader.WithStore(store))
	require.NoError(t, err)
	snap, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Increment)
	assert.Equal(t, first.Fingerprint, snap.Fingerprint)
}

func TestURLSource_NoStoreNoFallback(t *testing.T) {
	srv := newDocServer(t)
	srv.set("/index.xml", sampleXML(t, 1))
	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	require.NoError(t, err)

	srv.fail(http.StatusServiceUnavailable)
	_, err = src.Load(context.Background())
	require.Error(t, err)
}

func TestURLSource_SeedsValidatorsFromStore(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestDB(t).Documents()
	srv := newDocServer(t)
	srv.etags = true
	srv.set("/index.xml", sampleXML(t, 2))
	url := srv.URL + "/index.xml"

	first, err := loader.NewURLSource(url, loader.WithStore(store))
	require.NoError(t, err)
	_, err = first.Load(ctx)
	require.NoError(t, err)

	restarted, err := loader.NewURLSource(url, loader.WithStore(store))
	require.NoError(t, err)
	snap, err := restarted.Load(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, srv.lastINM, "cold start should send the stored etag")
	assert.Equal(t, int64(2), snap.Increment)
	assert.Len(t, snap.Repository.Resources(), 3)
}

func TestURLSource_Referrals(t *testing.T) {
	srv := newDocServer(t)
	srv.set("/root.xml", testutil.NewBuilder(t).Named("root").
		WithBundle("root.bundle", "1.0.0").
		WithReferral("child/index.xml", 0).
		XML())
	srv.set("/child/index.xml", testutil.NewBuilder(t).Named("child").
		WithBundle("child.bundle", "1.0.0").
		WithReferral("../root.xml", 0).
		WithReferral("grandchild.xml", 0).
		XML())
	srv.set("/child/grandchild.xml", testutil.NewBuilder(t).
		WithBundle("grandchild.bundle", "1.0.0").
		XML())

	tests := []struct {
		name  string
		depth int
		want  []string
	}{
		{"not followed", 0, []string{"root.bundle"}},
		{"one level", 1, []string{"root.bundle", "child.bundle"}},
		{"two levels, cycle ignored", 5, []string{"root.bundle", "child.bundle", "grandchild.bundle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := loader.NewURLSource(srv.URL+"/root.xml", loader.WithReferralDepth(tt.depth))
			require.NoError(t, err)
			snap, err := src.Load(context.Background())
			require.NoError(t, err)

			var names []string
			for _, r := range snap.Repository.Resources() {
				id, _ := r.Identity()
				names = append(names, id.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Len(t, snap.Referrals, 1)
		})
	}
}

func TestURLSource_ReferralDepthAttributeLimits(t *testing.T) {
	srv := newDocServer(t)
	srv.set("/root.xml", testutil.NewBuilder(t).
		WithBundle("root.bundle", "1.0.0").
		WithReferral("child.xml", 1).
		XML())
	srv.set("/child.xml", testutil.NewBuilder(t).
		WithBundle("child.bundle", "1.0.0").
		WithReferral("grandchild.xml", 0).
		XML())
	srv.set("/grandchild.xml", testutil.NewBuilder(t).WithBundle("grandchild.bundle", "1.0.0").XML())

	src, err := loader.NewURLSource(srv.URL+"/root.xml", loader.WithReferralDepth(5))
	require.NoError(t, err)
	snap, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Repository.Resources(), 2)
}

func TestURLSource_QueryLoadedRepository(t *testing.T) {
	srv := newDocServer(t)
	srv.set("/index.xml", sampleXML(t, 1))
	src, err := loader.NewURLSource(srv.URL + "/index.xml")
	require.NoError(t, err)
	snap, err := src.Load(context.Background())
	require.NoError(t, err)

	req := resource.MustRequirement(resource.NamespaceService, "(objectClass=com.acme.Greeter)")
	got, err := snap.Repository.FindProviders(context.Background(), []*resource.Requirement{req})
	require.NoError(t, err)
	require.Len(t, got[req], 1)
	id, _ := got[req][0].Resource().Identity()
	assert.Equal(t, testutil.BundleImpl, id.Name)
}
