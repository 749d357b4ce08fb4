package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AssetKind 标记资源类型，仅作信息展示，不参与淘汰策略。
type AssetKind string

const (
	KindVideo        AssetKind = "video"
	KindImage        AssetKind = "image"
	KindTrackingData AssetKind = "trackingData"
)

// ParseAssetKind 解析查询参数中的资源类型，兼容 mind/tracking 旧写法。
func ParseAssetKind(raw string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "video":
		return KindVideo, nil
	case "image":
		return KindImage, nil
	case "trackingdata", "tracking", "mind":
		return KindTrackingData, nil
	default:
		return "", fmt.Errorf("unsupported asset kind: %q", raw)
	}
}

// CachedAsset 描述一条缓存记录的元数据，正文单独存放于 blob 目录。
type CachedAsset struct {
	URL         string    `json:"url"`
	Kind        AssetKind `json:"kind"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	StoredAt    time.Time `json:"stored_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired 判断记录在 now 时刻是否已失效（expiresAt <= now）。
func (a CachedAsset) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// Stats 汇总条目数与总字节数，用于观测。
type Stats struct {
	Count          int64 `json:"count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// LookupOutcome 描述一次 Get 的结果。
type LookupOutcome string

const (
	LookupHit         LookupOutcome = "hit"
	LookupMiss        LookupOutcome = "miss"
	LookupExpired     LookupOutcome = "expired"
	LookupUnavailable LookupOutcome = "unavailable"
	LookupFailed      LookupOutcome = "failed"
)

// Lookup 是 Get 的返回值；除 hit 外都视为未命中，Err 仅用于日志与测试。
type Lookup struct {
	Outcome LookupOutcome
	Asset   CachedAsset
	Payload []byte
	Err     error
}

// Hit 返回是否命中缓存。
func (l Lookup) Hit() bool {
	return l.Outcome == LookupHit
}

// PutOutcome 描述一次 Put 的结果。
type PutOutcome string

const (
	PutStored      PutOutcome = "stored"
	PutSkipped     PutOutcome = "skipped"
	PutUnavailable PutOutcome = "unavailable"
	PutFailed      PutOutcome = "failed"
)

// PutResult 是 Put 的返回值，包含写入前触发的淘汰报告。
type PutResult struct {
	Outcome  PutOutcome
	Asset    CachedAsset
	Eviction EvictionReport
	Err      error
}

// EvictionReport 记录一次容量淘汰的执行情况。
type EvictionReport struct {
	Triggered  bool
	Removed    int
	FreedBytes int64
	Before     int64
	After      int64
	Err        error
}

// SweepReport 记录一次过期清扫的执行情况。
type SweepReport struct {
	Removed    int
	FreedBytes int64
	Err        error
}

// FetchSource 标记 FetchWithCache 的数据来源。
type FetchSource string

const (
	SourceCache    FetchSource = "cache"
	SourceNetwork  FetchSource = "network"
	SourceFallback FetchSource = "fallback"
)

// LocalRef 是交给 viewer 的“从这里加载”引用：要么是本地字节，要么是原始 URL。
type LocalRef struct {
	Remote      string
	Payload     []byte
	ContentType string
}

// IsRemote 表示调用方需要直接从网络加载 Remote。
func (r LocalRef) IsRemote() bool {
	return r.Remote != ""
}

// FetchResult 是 FetchWithCache 的返回值，Err 记录被吞掉的失败原因。
type FetchResult struct {
	Ref    LocalRef
	Source FetchSource
	Err    error
}

var (
	// ErrCacheUnavailable 表示持久化存储无法打开，本进程内缓存整体禁用。
	ErrCacheUnavailable = errors.New("asset cache unavailable")
	// ErrPayloadTooLarge 表示单个资源超过缓存容量上限，不写入。
	ErrPayloadTooLarge = errors.New("payload exceeds cache capacity")
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
)
