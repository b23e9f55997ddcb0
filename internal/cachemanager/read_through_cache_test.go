package cachemanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loadInput struct {
	URL string
}

func countingLoader(calls *atomic.Int32) func(context.Context, loadInput) (*snapshotStub, error) {
	return func(_ context.Context, in loadInput) (*snapshotStub, error) {
		n := calls.Add(1)
		return &snapshotStub{URL: in.URL, Increment: int64(n)}, nil
	}
}

func TestReadThroughCache_Get(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	rtc := NewReadThroughCache(NewInMemoryCacheManager[*snapshotStub]("test", time.Minute, time.Minute), countingLoader(&calls), false)

	first, err := rtc.Get(ctx, "u", loadInput{URL: "u"}, time.Minute)
	require.NoError(t, err)
	second, err := rtc.Get(ctx, "u", loadInput{URL: "u"}, time.Minute)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadThroughCache_SkipCache(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	rtc := NewReadThroughCache(NewInMemoryCacheManager[*snapshotStub]("test", time.Minute, time.Minute), countingLoader(&calls), true)

	for range 3 {
		_, err := rtc.Get(ctx, "u", loadInput{URL: "u"}, time.Minute)
		require.NoError(t, err)
		_, err = rtc.GetWithRefresh(ctx, "u", loadInput{URL: "u"}, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(6), calls.Load())
}

func TestReadThroughCache_ErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	fail := true
	rtc := NewReadThroughCache(
		NewInMemoryCacheManager[*snapshotStub]("test", time.Minute, time.Minute),
		func(_ context.Context, in loadInput) (*snapshotStub, error) {
			if fail {
				return nil, errors.New("unreachable")
			}
			return &snapshotStub{URL: in.URL}, nil
		},
		false,
	)

	_, err := rtc.Get(ctx, "u", loadInput{URL: "u"}, time.Minute)
	require.EqualError(t, err, "unreachable")

	fail = false
	got, err := rtc.Get(ctx, "u", loadInput{URL: "u"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "u", got.URL)
}

func TestReadThroughCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	rtc := NewReadThroughCache(NewInMemoryCacheManager[*snapshotStub]("test", time.Minute, time.Minute), countingLoader(&calls), false)

	_, err := rtc.GetWithRefresh(ctx, "u", loadInput{URL: "u"}, time.Minute)
	require.NoError(t, err)
	rtc.Invalidate(ctx, "u")
	got, err := rtc.GetWithRefresh(ctx, "u", loadInput{URL: "u"}, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, int64(2), got.Increment)
}

func TestReadThroughCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	rtc := NewReadThroughCache(
		NewInMemoryCacheManager[*snapshotStub]("test", time.Minute, time.Minute),
		func(_ context.Context, in loadInput) (*snapshotStub, error) {
			calls.Add(1)
			<-release
			return &snapshotStub{URL: in.URL}, nil
		},
		false,
	)

	var wg sync.WaitGroup
	results := make([]*snapshotStub, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = rtc.Get(ctx, "u", loadInput{URL: "u"}, time.Minute)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}
