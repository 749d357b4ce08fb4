// Package viewer turns validated asset requests into responses: cached or
// freshly downloaded bytes are served directly, anything else redirects the
// client to the original URL so the scene can still load.
package viewer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/ar-cache/internal/cache"
	"github.com/any-hub/ar-cache/internal/logging"
	"github.com/any-hub/ar-cache/internal/server"
)

const defaultContentType = "application/octet-stream"

// Fetcher 是 Handler 依赖的缓存能力，便于测试注入替身。
type Fetcher interface {
	FetchWithCache(ctx context.Context, url string, kind cache.AssetKind, progress cache.ProgressFunc) cache.FetchResult
}

// Handler 负责“缓存命中 → 下载写缓存 → 回退原始地址”的响应流程。
type Handler struct {
	assets Fetcher
	logger *logrus.Logger
}

// NewHandler constructs a viewer handler sharing the process-wide cache and logger.
func NewHandler(assets Fetcher, logger *logrus.Logger) *Handler {
	return &Handler{assets: assets, logger: logger}
}

// Handle 实现 server.AssetHandler。
func (h *Handler) Handle(c fiber.Ctx, req *server.AssetRequest) (err error) {
	started := time.Now()
	requestID := server.RequestID(c)

	defer func() {
		if r := recover(); r != nil {
			fields := logging.AssetFields(req.URL, string(req.Kind), "")
			fields["action"] = "asset"
			fields["request_id"] = requestID
			fields["panic"] = fmt.Sprint(r)
			h.logger.WithFields(fields).Error("asset_handler_panic")
			err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "asset_handler_panic"})
		}
	}()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := h.assets.FetchWithCache(ctx, req.URL, req.Kind, h.progressLogger(req, requestID))
	h.logResult(req, requestID, result, started)

	if result.Ref.IsRemote() {
		return c.Redirect().Status(fiber.StatusFound).To(result.Ref.Remote)
	}

	contentType := result.Ref.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-AR-Cache-Hit", strconv.FormatBool(result.Source == cache.SourceCache))
	c.Set("X-AR-Source", string(result.Source))
	return c.Send(result.Ref.Payload)
}

// progressLogger 以 debug 级别记录下载进度。
func (h *Handler) progressLogger(req *server.AssetRequest, requestID string) cache.ProgressFunc {
	if !h.logger.IsLevelEnabled(logrus.DebugLevel) {
		return nil
	}
	return func(percent int) {
		fields := logging.AssetFields(req.URL, string(req.Kind), "")
		fields["action"] = "asset_progress"
		fields["percent"] = percent
		if requestID != "" {
			fields["request_id"] = requestID
		}
		h.logger.WithFields(fields).Debug("asset_progress")
	}
}

func (h *Handler) logResult(req *server.AssetRequest, requestID string, result cache.FetchResult, started time.Time) {
	fields := logging.AssetFields(req.URL, string(req.Kind), string(result.Source))
	fields["action"] = "asset"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if req.Origin != nil {
		fields["origin"] = req.Origin.Config.Name
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
		h.logger.WithFields(fields).Warn("asset_fallback")
		return
	}
	h.logger.WithFields(fields).Info("asset_served")
}
