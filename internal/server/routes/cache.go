// Package routes 注册 /-/ 下的诊断与工具接口：缓存统计/清理、来源列表、标记生成与指标。
package routes

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/ar-cache/internal/cache"
	"github.com/any-hub/ar-cache/internal/server"
)

// CacheAdmin 是诊断接口需要的缓存能力子集。
type CacheAdmin interface {
	Stats(ctx context.Context) cache.Stats
	ClearExpired(ctx context.Context) cache.SweepReport
	MaybeEvict(ctx context.Context) cache.EvictionReport
	Delete(ctx context.Context, url string) error
	Options() cache.Options
}

type statsPayload struct {
	Count          int64  `json:"count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	HumanSize      string `json:"human_size"`
	MaxSizeBytes   int64  `json:"max_size_bytes"`
}

type evictPayload struct {
	Triggered  bool  `json:"triggered"`
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
	Before     int64 `json:"before_bytes"`
	After      int64 `json:"after_bytes"`
}

type originPayload struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// RegisterCacheRoutes 暴露 /-/cache 系列接口，供运维查看与手动清理缓存。
func RegisterCacheRoutes(app *fiber.App, assets CacheAdmin, logger *logrus.Logger) {
	if app == nil || assets == nil {
		return
	}

	app.Get("/-/cache/stats", func(c fiber.Ctx) error {
		stats := assets.Stats(c.Context())
		return c.JSON(statsPayload{
			Count:          stats.Count,
			TotalSizeBytes: stats.TotalSizeBytes,
			HumanSize:      humanize.IBytes(uint64(stats.TotalSizeBytes)),
			MaxSizeBytes:   assets.Options().MaxSizeBytes,
		})
	})

	app.Post("/-/cache/sweep", func(c fiber.Ctx) error {
		report := assets.ClearExpired(c.Context())
		if report.Err != nil {
			logAdminFailure(logger, "cache_sweep", report.Err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_sweep_failed"})
		}
		return c.JSON(fiber.Map{
			"removed":     report.Removed,
			"freed_bytes": report.FreedBytes,
		})
	})

	app.Post("/-/cache/evict", func(c fiber.Ctx) error {
		report := assets.MaybeEvict(c.Context())
		if report.Err != nil {
			logAdminFailure(logger, "cache_evict", report.Err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_evict_failed"})
		}
		return c.JSON(evictPayload{
			Triggered:  report.Triggered,
			Removed:    report.Removed,
			FreedBytes: report.FreedBytes,
			Before:     report.Before,
			After:      report.After,
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		target := strings.TrimSpace(c.Query("url"))
		if target == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}
		if err := assets.Delete(c.Context(), target); err != nil {
			logAdminFailure(logger, "cache_delete", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_delete_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// RegisterOriginRoutes 暴露 /-/origins，列出允许缓存的来源。
func RegisterOriginRoutes(app *fiber.App, registry *server.OriginRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/origins", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"origins": encodeOrigins(registry.List())})
	})
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originPayload{
			Name:    route.Config.Name,
			BaseURL: route.Config.BaseURL,
		})
	}
	return result
}

func logAdminFailure(logger *logrus.Logger, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithError(err).WithField("action", action).Warn("admin operation failed")
}
