package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

const streamChunkSize = 32 * 1024

// FetchWithCache 返回一个可供 viewer 加载的引用：命中时直接返回缓存正文；未命中时下载、
// 写入缓存后返回正文；任何失败都退化为原始 URL。该方法永不返回错误，
// progress 在所有路径上都恰好收到一次 100。
func (c *AssetCache) FetchWithCache(ctx context.Context, url string, kind AssetKind, progress ProgressFunc) FetchResult {
	reporter := newProgressReporter(progress, c.logger)
	result := c.fetch(ctx, url, kind, reporter)
	reporter.done()
	fetchesTotal.WithLabelValues(string(result.Source)).Inc()
	return result
}

func (c *AssetCache) fetch(ctx context.Context, url string, kind AssetKind, reporter *progressReporter) FetchResult {
	fields := logrus.Fields{"action": "cache_fetch", "url": url, "kind": string(kind)}

	lookup := c.Get(ctx, url)
	if lookup.Hit() {
		c.logger.WithFields(fields).WithField("source", SourceCache).Info("loaded from cache")
		return FetchResult{
			Ref:    LocalRef{Payload: lookup.Payload, ContentType: lookup.Asset.ContentType},
			Source: SourceCache,
		}
	}
	if lookup.Outcome == LookupUnavailable {
		return c.fallback(url, fields, lookup.Err)
	}

	payload, contentType, err := c.download(ctx, url, reporter)
	if err != nil {
		return c.fallback(url, fields, err)
	}

	// 写入失败已在 Put 内记录日志，本次请求仍然使用已下载的正文。
	c.Put(ctx, url, payload, kind, contentType)

	c.logger.WithFields(fields).WithField("source", SourceNetwork).Info("downloaded and cached")
	return FetchResult{
		Ref:    LocalRef{Payload: payload, ContentType: contentType},
		Source: SourceNetwork,
	}
}

func (c *AssetCache) fallback(url string, fields logrus.Fields, err error) FetchResult {
	c.logger.WithError(err).WithFields(fields).WithField("source", SourceFallback).
		Warn("fetch with cache failed, falling back to original url")
	return FetchResult{
		Ref:    LocalRef{Remote: url},
		Source: SourceFallback,
		Err:    err,
	}
}

// download 拉取完整正文。存在 Content-Length 时按块读取并上报进度，否则一次读完。
func (c *AssetCache) download(ctx context.Context, url string, reporter *progressReporter) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")

	total := resp.ContentLength
	if total <= 0 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", err
		}
		return body, contentType, nil
	}

	capacity := total
	if capacity > c.opts.MaxSizeBytes {
		capacity = c.opts.MaxSizeBytes
	}
	buf := bytes.NewBuffer(make([]byte, 0, capacity))
	chunk := make([]byte, streamChunkSize)
	var received int64
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			reporter.report(percentOf(received, total))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, "", readErr
		}
	}
	return buf.Bytes(), contentType, nil
}
