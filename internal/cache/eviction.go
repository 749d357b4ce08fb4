package cache

import (
	"context"
	"errors"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// MaybeEvict 在总大小达到高水位时按 stored_at 升序（先进先出，读取不会刷新 stored_at）
// 删除条目，直到总大小降至低水位；低于高水位时不做任何事。
func (c *AssetCache) MaybeEvict(ctx context.Context) EvictionReport {
	b, err := c.backend()
	if err != nil {
		return EvictionReport{Err: err}
	}
	return c.evict(ctx, b, 0)
}

// evict 把即将写入的 incoming 字节计入水位判断，保证写入后仍不超过低水位。
func (c *AssetCache) evict(ctx context.Context, b *backend, incoming int64) EvictionReport {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	fields := logrus.Fields{"action": "cache_evict"}

	stats, err := b.index.totals(ctx)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("cache_evict_failed")
		return EvictionReport{Err: err}
	}

	report := EvictionReport{Before: stats.TotalSizeBytes, After: stats.TotalSizeBytes}
	if stats.TotalSizeBytes+incoming < c.opts.highWaterBytes() {
		return report
	}
	report.Triggered = true

	c.logger.WithFields(fields).WithFields(logrus.Fields{
		"current":  stats.TotalSizeBytes,
		"incoming": incoming,
		"max":      c.opts.MaxSizeBytes,
	}).Infof("cache cleanup needed: %s / %s",
		humanize.IBytes(uint64(stats.TotalSizeBytes)), humanize.IBytes(uint64(c.opts.MaxSizeBytes)))

	recs, err := b.index.oldestFirst(ctx)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("cache_evict_failed")
		report.Err = err
		return report
	}

	target := c.opts.lowWaterBytes() - incoming
	current := stats.TotalSizeBytes
	for _, rec := range recs {
		if current <= target {
			break
		}
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}

		removed, err := c.removeIfUnchanged(ctx, b, rec, reasonCapacity)
		if err != nil {
			report.Err = errors.Join(report.Err, err)
			c.logger.WithError(err).WithFields(fields).WithField("url", rec.URL).Warn("cache_evict_entry_failed")
			continue
		}
		if !removed {
			continue
		}
		current -= rec.SizeBytes
		report.Removed++
		report.FreedBytes += rec.SizeBytes
	}
	report.After = current

	c.logger.WithFields(fields).WithFields(logrus.Fields{
		"removed":     report.Removed,
		"freed_bytes": report.FreedBytes,
	}).Infof("cache cleaned up %s", humanize.IBytes(uint64(report.FreedBytes)))
	return report
}

// ClearExpired 无条件删除所有 expiresAt <= now 的条目，与容量无关。
func (c *AssetCache) ClearExpired(ctx context.Context) SweepReport {
	b, err := c.backend()
	if err != nil {
		return SweepReport{Err: err}
	}

	fields := logrus.Fields{"action": "cache_sweep"}
	now := c.now()
	recs, err := b.index.expiredBy(ctx, now)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("cache_sweep_failed")
		return SweepReport{Err: err}
	}

	var report SweepReport
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}
		removed, err := c.removeIfUnchanged(ctx, b, rec, reasonExpired)
		if err != nil {
			report.Err = errors.Join(report.Err, err)
			continue
		}
		if removed {
			report.Removed++
			report.FreedBytes += rec.SizeBytes
		}
	}

	if report.Removed > 0 {
		c.logger.WithFields(fields).WithField("removed", report.Removed).
			Infof("cleared %d expired items", report.Removed)
	}
	return report
}

// removeIfUnchanged 在持锁后重新读取记录，若期间被重新写入（stored_at 变化）则跳过。
func (c *AssetCache) removeIfUnchanged(ctx context.Context, b *backend, rec assetRecord, reason string) (bool, error) {
	unlock := c.locks.lock(rec.URL)
	defer unlock()

	current, err := b.index.find(ctx, rec.URL)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.StoredAt != rec.StoredAt {
		return false, nil
	}
	if err := c.removeLocked(ctx, b, *current, reason); err != nil {
		return false, err
	}
	return true, nil
}
