package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// AssetCache 是 viewer 使用的资源缓存。实例由组装方显式构造并注入，存储在第一次使用时
// 惰性打开；并发的首批调用者共享同一次初始化结果。打开失败会被记住，之后所有操作
// 退化为“未命中/不缓存”。
type AssetCache struct {
	opts   Options
	logger *logrus.Logger
	client *http.Client
	now    func() time.Time

	open    func() (*backend, error)
	once    sync.Once
	store   *backend
	initErr error

	locks   *keyLocks
	evictMu sync.Mutex
}

type backend struct {
	index *assetIndex
	blobs *blobStore
}

// New 构造 AssetCache，不会触碰磁盘。
func New(opts Options) *AssetCache {
	opts = opts.withDefaults()
	c := &AssetCache{
		opts:   opts,
		logger: opts.Logger,
		client: opts.Client,
		now:    opts.Now,
		locks:  newKeyLocks(),
	}
	c.open = func() (*backend, error) {
		return openBackend(opts.StoragePath)
	}
	return c
}

func openBackend(storagePath string) (*backend, error) {
	blobs, err := newBlobStore(storagePath)
	if err != nil {
		return nil, err
	}
	index, err := openIndex(storagePath)
	if err != nil {
		return nil, err
	}
	return &backend{index: index, blobs: blobs}, nil
}

func (c *AssetCache) backend() (*backend, error) {
	c.once.Do(func() {
		b, err := c.open()
		if err != nil {
			c.initErr = fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
			c.logger.WithError(err).WithFields(logrus.Fields{
				"action":       "cache_init",
				"storage_path": c.opts.StoragePath,
			}).Warn("asset cache unavailable, caching disabled")
			return
		}
		c.store = b
	})
	return c.store, c.initErr
}

// Available 触发惰性初始化并报告缓存是否可用。
func (c *AssetCache) Available() bool {
	_, err := c.backend()
	return err == nil
}

// Options 返回生效后的配置（已填充默认值）。
func (c *AssetCache) Options() Options {
	return c.opts
}

// Close 释放索引句柄；在首次使用前调用会让缓存永久不可用。
func (c *AssetCache) Close() error {
	c.once.Do(func() {
		c.initErr = ErrCacheUnavailable
	})
	if c.store == nil {
		return nil
	}
	return c.store.index.close()
}

// Get 查找 url 对应的正文。过期记录会被顺带删除并按未命中返回；存储错误同样视为未命中。
func (c *AssetCache) Get(ctx context.Context, url string) Lookup {
	lookup := c.get(ctx, url)
	lookupsTotal.WithLabelValues(string(lookup.Outcome)).Inc()
	return lookup
}

func (c *AssetCache) get(ctx context.Context, url string) Lookup {
	b, err := c.backend()
	if err != nil {
		return Lookup{Outcome: LookupUnavailable, Err: err}
	}

	unlock := c.locks.lock(url)
	defer unlock()

	rec, err := b.index.find(ctx, url)
	switch {
	case errors.Is(err, ErrNotFound):
		c.logger.WithFields(logrus.Fields{"action": "cache_get", "url": url}).Debug("cache miss")
		return Lookup{Outcome: LookupMiss}
	case err != nil:
		c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "url": url}).Warn("cache_get_failed")
		return Lookup{Outcome: LookupFailed, Err: err}
	}

	asset := rec.asset()
	if asset.Expired(c.now()) {
		if err := c.removeLocked(ctx, b, *rec, reasonExpired); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "url": url}).Warn("cache_expire_failed")
		}
		return Lookup{Outcome: LookupExpired, Asset: asset}
	}

	payload, err := b.blobs.read(ctx, rec.BlobKey)
	if err == nil && int64(len(payload)) != rec.SizeBytes {
		err = fmt.Errorf("%w: size mismatch %d != %d", ErrNotFound, len(payload), rec.SizeBytes)
	}
	if errors.Is(err, ErrNotFound) {
		// 正文缺失或长度不符，删除记录后按未命中处理。
		if rmErr := c.removeLocked(ctx, b, *rec, reasonStale); rmErr != nil {
			c.logger.WithError(rmErr).WithFields(logrus.Fields{"action": "cache_get", "url": url}).Warn("cache_heal_failed")
		}
		return Lookup{Outcome: LookupMiss, Err: err}
	}
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "url": url}).Warn("cache_read_failed")
		return Lookup{Outcome: LookupFailed, Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"action": "cache_get",
		"url":    url,
		"size":   rec.SizeBytes,
	}).Debug("cache hit")
	return Lookup{Outcome: LookupHit, Asset: asset, Payload: payload}
}

// Put 在写入前执行容量检查，然后以 url 为键覆盖写入。失败只记录日志，不影响调用方。
func (c *AssetCache) Put(ctx context.Context, url string, payload []byte, kind AssetKind, contentType string) PutResult {
	b, err := c.backend()
	if err != nil {
		return PutResult{Outcome: PutUnavailable, Err: err}
	}

	fields := logrus.Fields{"action": "cache_put", "url": url, "kind": string(kind)}
	if url == "" {
		return PutResult{Outcome: PutSkipped, Err: errors.New("asset url required")}
	}

	size := int64(len(payload))
	if size > c.opts.MaxSizeBytes {
		c.logger.WithFields(fields).WithField("size", size).Warn("cache_put_skipped: payload larger than cache")
		return PutResult{Outcome: PutSkipped, Err: ErrPayloadTooLarge}
	}

	report := c.evict(ctx, b, size)

	now := c.now()
	asset := CachedAsset{
		URL:         url,
		Kind:        kind,
		ContentType: contentType,
		SizeBytes:   size,
		StoredAt:    now,
		ExpiresAt:   now.Add(c.opts.TTL),
	}

	unlock := c.locks.lock(url)
	defer unlock()

	rec := recordFor(asset)
	if _, err := b.blobs.write(ctx, rec.BlobKey, payload); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("cache_put_failed")
		return PutResult{Outcome: PutFailed, Eviction: report, Err: err}
	}
	if err := b.index.upsert(ctx, rec); err != nil {
		_ = b.blobs.remove(rec.BlobKey)
		c.logger.WithError(err).WithFields(fields).Warn("cache_put_failed")
		return PutResult{Outcome: PutFailed, Eviction: report, Err: err}
	}

	c.logger.WithFields(fields).WithField("size", size).
		Infof("cache stored (%s)", humanize.IBytes(uint64(size)))
	return PutResult{Outcome: PutStored, Asset: asset, Eviction: report}
}

// Delete 删除单条记录；记录不存在时返回 nil。
func (c *AssetCache) Delete(ctx context.Context, url string) error {
	b, err := c.backend()
	if err != nil {
		return err
	}

	unlock := c.locks.lock(url)
	defer unlock()

	rec, err := b.index.find(ctx, url)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.removeLocked(ctx, b, *rec, "")
}

// Stats 返回条目数与总大小；任何错误都返回零值。
func (c *AssetCache) Stats(ctx context.Context) Stats {
	b, err := c.backend()
	if err != nil {
		return Stats{}
	}
	stats, err := b.index.totals(ctx)
	if err != nil {
		c.logger.WithError(err).WithField("action", "cache_stats").Warn("cache_stats_failed")
		return Stats{}
	}
	cachedBytes.Set(float64(stats.TotalSizeBytes))
	return stats
}

// removeLocked 先删索引再删正文；调用方必须持有 rec.URL 的锁。
func (c *AssetCache) removeLocked(ctx context.Context, b *backend, rec assetRecord, reason string) error {
	if err := b.index.delete(ctx, rec.URL); err != nil {
		return err
	}
	if err := b.blobs.remove(rec.BlobKey); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_remove",
			"url":    rec.URL,
		}).Warn("cache_blob_remove_failed")
	}
	if reason != "" {
		recordRemoval(reason, rec.SizeBytes)
	}
	return nil
}
