package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lookupsTotal 按结果统计 Get 调用（hit|miss|expired|unavailable|failed）。
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcache_lookups_total",
			Help: "Total number of asset cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// fetchesTotal 按来源统计 FetchWithCache（cache|network|fallback）。
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcache_fetches_total",
			Help: "Total number of fetch-with-cache calls by source",
		},
		[]string{"source"},
	)

	// evictedEntries 按原因统计被删除的条目（capacity|expired|stale）。
	evictedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcache_evicted_entries_total",
			Help: "Total number of cache entries removed by reason",
		},
		[]string{"reason"},
	)

	evictedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcache_evicted_bytes_total",
			Help: "Total bytes reclaimed by reason",
		},
		[]string{"reason"},
	)

	// cachedBytes 在每次 Stats 时刷新。
	cachedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arcache_cached_bytes",
			Help: "Aggregate payload size currently held by the asset cache",
		},
	)
)

const (
	reasonCapacity = "capacity"
	reasonExpired  = "expired"
	reasonStale    = "stale"
)

func recordRemoval(reason string, size int64) {
	evictedEntries.WithLabelValues(reason).Inc()
	evictedBytes.WithLabelValues(reason).Add(float64(size))
}
