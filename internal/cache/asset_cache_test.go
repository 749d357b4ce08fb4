package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, opts Options) (*AssetCache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	if opts.StoragePath == "" {
		opts.StoragePath = t.TempDir()
	}
	opts.Now = clock.Now
	c := New(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestPutThenGetReturnsSamePayload(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()
	payload := []byte("mind-file-bytes")

	res := c.Put(ctx, "https://cdn.example.com/a.mind", payload, KindTrackingData, "application/octet-stream")
	require.Equal(t, PutStored, res.Outcome)
	require.NoError(t, res.Err)

	lookup := c.Get(ctx, "https://cdn.example.com/a.mind")
	require.True(t, lookup.Hit())
	assert.Equal(t, payload, lookup.Payload)
	assert.Equal(t, KindTrackingData, lookup.Asset.Kind)
	assert.Equal(t, "application/octet-stream", lookup.Asset.ContentType)
	assert.Equal(t, int64(len(payload)), lookup.Asset.SizeBytes)
	assert.True(t, lookup.Asset.StoredAt.Add(DefaultTTL).Equal(lookup.Asset.ExpiresAt))
}

func TestGetUnknownURLIsMiss(t *testing.T) {
	c, _ := newTestCache(t, Options{})

	lookup := c.Get(context.Background(), "https://cdn.example.com/none.png")
	assert.Equal(t, LookupMiss, lookup.Outcome)
	assert.False(t, lookup.Hit())
	assert.Nil(t, lookup.Payload)
}

func TestPutOverwritesSameURL(t *testing.T) {
	c, clock := newTestCache(t, Options{})
	ctx := context.Background()
	url := "https://cdn.example.com/b.mp4"

	require.Equal(t, PutStored, c.Put(ctx, url, []byte("first"), KindVideo, "video/mp4").Outcome)
	clock.Advance(time.Minute)
	require.Equal(t, PutStored, c.Put(ctx, url, []byte("second-version"), KindVideo, "video/mp4").Outcome)

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, int64(len("second-version")), stats.TotalSizeBytes)

	lookup := c.Get(ctx, url)
	require.True(t, lookup.Hit())
	assert.Equal(t, []byte("second-version"), lookup.Payload)
	assert.True(t, clock.Now().Equal(lookup.Asset.StoredAt))
}

func TestExpiredEntryIsMissAndRemoved(t *testing.T) {
	c, clock := newTestCache(t, Options{TTL: time.Hour})
	ctx := context.Background()
	url := "https://cdn.example.com/c.png"

	require.Equal(t, PutStored, c.Put(ctx, url, []byte("image"), KindImage, "image/png").Outcome)

	clock.Advance(59 * time.Minute)
	require.True(t, c.Get(ctx, url).Hit())

	// expiresAt == now 也视为过期
	clock.Advance(time.Minute)
	lookup := c.Get(ctx, url)
	assert.Equal(t, LookupExpired, lookup.Outcome)
	assert.False(t, lookup.Hit())
	assert.Nil(t, lookup.Payload)

	assert.Equal(t, Stats{}, c.Stats(ctx))
	assert.Equal(t, LookupMiss, c.Get(ctx, url).Outcome)
}

func TestStatsCountsEntriesAndBytes(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()

	assert.Equal(t, Stats{}, c.Stats(ctx))
	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("https://cdn.example.com/%d.png", i)
		require.Equal(t, PutStored, c.Put(ctx, url, bytes.Repeat([]byte{'x'}, 100*(i+1)), KindImage, "image/png").Outcome)
	}
	assert.Equal(t, Stats{Count: 3, TotalSizeBytes: 600}, c.Stats(ctx))
}

func TestDeleteRemovesEntry(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()
	url := "https://cdn.example.com/d.png"

	require.Equal(t, PutStored, c.Put(ctx, url, []byte("bytes"), KindImage, "").Outcome)
	require.NoError(t, c.Delete(ctx, url))
	assert.Equal(t, LookupMiss, c.Get(ctx, url).Outcome)
	require.NoError(t, c.Delete(ctx, url), "删除不存在的记录应返回 nil")
}

func TestCapacityEvictionKeepsNewestUnderLowWatermark(t *testing.T) {
	const unit = 6 * 1024
	maxSize := int64(100 * 1024)
	c, clock := newTestCache(t, Options{MaxSizeBytes: maxSize})
	ctx := context.Background()

	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://cdn.example.com/video-%02d.mp4", i)
		res := c.Put(ctx, urls[i], bytes.Repeat([]byte{byte(i)}, unit), KindVideo, "video/mp4")
		require.Equal(t, PutStored, res.Outcome, "第 %d 次写入失败: %v", i, res.Err)
		assert.LessOrEqual(t, c.Stats(ctx).TotalSizeBytes, maxSize)
		clock.Advance(time.Second)
	}

	stats := c.Stats(ctx)
	assert.LessOrEqual(t, stats.TotalSizeBytes, maxSize/2)
	assert.Equal(t, int64(8), stats.Count)

	for i, url := range urls {
		lookup := c.Get(ctx, url)
		if i >= 12 {
			assert.True(t, lookup.Hit(), "最新的条目 %d 应被保留", i)
		} else {
			assert.False(t, lookup.Hit(), "最旧的条目 %d 应被淘汰", i)
		}
	}
}

func TestEvictionReportOnPut(t *testing.T) {
	c, clock := newTestCache(t, Options{MaxSizeBytes: 1000})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		res := c.Put(ctx, fmt.Sprintf("u%d", i), bytes.Repeat([]byte{'a'}, 100), KindImage, "")
		require.Equal(t, PutStored, res.Outcome)
		assert.False(t, res.Eviction.Triggered)
		clock.Advance(time.Second)
	}

	res := c.Put(ctx, "u7", bytes.Repeat([]byte{'a'}, 100), KindImage, "")
	require.Equal(t, PutStored, res.Outcome)
	require.True(t, res.Eviction.Triggered)
	assert.Equal(t, int64(700), res.Eviction.Before)
	assert.Equal(t, 3, res.Eviction.Removed)
	assert.Equal(t, int64(300), res.Eviction.FreedBytes)
	assert.Equal(t, int64(400), res.Eviction.After)
	assert.Equal(t, Stats{Count: 5, TotalSizeBytes: 500}, c.Stats(ctx))
}

func TestMaybeEvictBelowHighWatermarkIsNoop(t *testing.T) {
	c, _ := newTestCache(t, Options{MaxSizeBytes: 1000})
	ctx := context.Background()

	require.Equal(t, PutStored, c.Put(ctx, "u", bytes.Repeat([]byte{'a'}, 700), KindVideo, "").Outcome)
	report := c.MaybeEvict(ctx)
	assert.False(t, report.Triggered)
	assert.Equal(t, int64(1), c.Stats(ctx).Count)
}

func TestMaybeEvictTrimsToLowWatermark(t *testing.T) {
	c, clock := newTestCache(t, Options{MaxSizeBytes: 1000, HighWatermark: 0.95, LowWatermark: 0.5})
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.Equal(t, PutStored, c.Put(ctx, fmt.Sprintf("u%d", i), bytes.Repeat([]byte{'a'}, 100), KindVideo, "").Outcome)
		clock.Advance(time.Second)
	}
	require.Equal(t, int64(900), c.Stats(ctx).TotalSizeBytes)

	// 通过收紧容量让现有总量越过高水位
	c.opts.MaxSizeBytes = 900
	report := c.MaybeEvict(ctx)
	require.True(t, report.Triggered)
	assert.LessOrEqual(t, report.After, int64(450))
	assert.Equal(t, 5, report.Removed)
	assert.False(t, c.Get(ctx, "u0").Hit())
	assert.True(t, c.Get(ctx, "u8").Hit())
}

func TestPayloadLargerThanCacheIsSkipped(t *testing.T) {
	c, _ := newTestCache(t, Options{MaxSizeBytes: 10})
	ctx := context.Background()

	res := c.Put(ctx, "big", bytes.Repeat([]byte{'a'}, 11), KindVideo, "")
	assert.Equal(t, PutSkipped, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrPayloadTooLarge)
	assert.Equal(t, Stats{}, c.Stats(ctx))
}

func TestClearExpiredRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache(t, Options{TTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Equal(t, PutStored, c.Put(ctx, fmt.Sprintf("old-%d", i), []byte("old"), KindImage, "").Outcome)
	}
	clock.Advance(30 * time.Minute)
	require.Equal(t, PutStored, c.Put(ctx, "fresh", []byte("fresh"), KindImage, "").Outcome)
	clock.Advance(31 * time.Minute)

	report := c.ClearExpired(ctx)
	require.NoError(t, report.Err)
	assert.Equal(t, 3, report.Removed)
	assert.Equal(t, int64(9), report.FreedBytes)
	assert.Equal(t, Stats{Count: 1, TotalSizeBytes: 5}, c.Stats(ctx))
	assert.True(t, c.Get(ctx, "fresh").Hit())
}

func TestMissingBlobIsHealedAsMiss(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()
	url := "https://cdn.example.com/lost.png"

	require.Equal(t, PutStored, c.Put(ctx, url, []byte("lost"), KindImage, "").Outcome)
	path, err := c.store.blobs.path(blobKey(url))
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	lookup := c.Get(ctx, url)
	assert.Equal(t, LookupMiss, lookup.Outcome)
	assert.ErrorIs(t, lookup.Err, ErrNotFound)
	assert.Equal(t, Stats{}, c.Stats(ctx))
}

func TestUnavailableStorageDegradesToMiss(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c, _ := newTestCache(t, Options{StoragePath: blocker})
	ctx := context.Background()

	assert.False(t, c.Available())
	lookup := c.Get(ctx, "u")
	assert.Equal(t, LookupUnavailable, lookup.Outcome)
	assert.ErrorIs(t, lookup.Err, ErrCacheUnavailable)

	res := c.Put(ctx, "u", []byte("x"), KindImage, "")
	assert.Equal(t, PutUnavailable, res.Outcome)
	assert.Equal(t, Stats{}, c.Stats(ctx))
	assert.ErrorIs(t, c.Delete(ctx, "u"), ErrCacheUnavailable)
	assert.ErrorIs(t, c.MaybeEvict(ctx).Err, ErrCacheUnavailable)
	assert.ErrorIs(t, c.ClearExpired(ctx).Err, ErrCacheUnavailable)
}

func TestInitFailureIsMemoized(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	calls := 0
	c.open = func() (*backend, error) {
		calls++
		return nil, os.ErrPermission
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "u")
		}()
	}
	wg.Wait()
	c.Get(context.Background(), "u")
	assert.Equal(t, 1, calls)
}

func TestConcurrentPutsOnSameURL(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	ctx := context.Background()
	url := "https://cdn.example.com/race.mp4"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(ctx, url, bytes.Repeat([]byte{byte('a' + i)}, 64), KindVideo, "")
		}(i)
	}
	wg.Wait()

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, int64(64), stats.TotalSizeBytes)

	lookup := c.Get(ctx, url)
	require.True(t, lookup.Hit())
	assert.Equal(t, bytes.Repeat(lookup.Payload[:1], 64), lookup.Payload)
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, _ := newTestCache(t, Options{StoragePath: dir})
	require.Equal(t, PutStored, first.Put(ctx, "persist", []byte("payload"), KindImage, "image/png").Outcome)
	require.NoError(t, first.Close())

	second, _ := newTestCache(t, Options{StoragePath: dir})
	lookup := second.Get(ctx, "persist")
	require.True(t, lookup.Hit())
	assert.Equal(t, []byte("payload"), lookup.Payload)
}

func TestParseAssetKind(t *testing.T) {
	cases := map[string]AssetKind{
		"video":        KindVideo,
		"IMAGE":        KindImage,
		"trackingData": KindTrackingData,
		"mind":         KindTrackingData,
	}
	for raw, want := range cases {
		got, err := ParseAssetKind(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseAssetKind("audio")
	assert.Error(t, err)
}
