package server

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/ar-cache/internal/cache"
)

// AssetRequest 是经过校验的资源加载请求，交给 AssetHandler 处理。
type AssetRequest struct {
	URL    string
	Kind   cache.AssetKind
	Origin *OriginRoute
}

// AssetHandler describes the component responsible for resolving an asset
// request into bytes or a redirect. It allows injecting fakes during tests.
type AssetHandler interface {
	Handle(fiber.Ctx, *AssetRequest) error
}

// AssetHandlerFunc adapts a function to the AssetHandler interface.
type AssetHandlerFunc func(fiber.Ctx, *AssetRequest) error

// Handle makes AssetHandlerFunc satisfy AssetHandler.
func (f AssetHandlerFunc) Handle(c fiber.Ctx, req *AssetRequest) error {
	return f(c, req)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Origins    *OriginRegistry
	Viewer     AssetHandler
	ListenPort int
}

const contextKeyRequestID = "_arcache_request_id"

// NewApp builds a Fiber application exposing the asset route with request
// IDs, panic recovery and structured error responses.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Origins == nil {
		return nil, errors.New("origin registry is required")
	}
	if opts.Viewer == nil {
		return nil, errors.New("asset handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		// 标记图上传上限为 5MB，这里留出 multipart 开销。
		BodyLimit: 8 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/assets", func(c fiber.Ctx) error {
		return handleAsset(c, opts)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并回写到响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func handleAsset(c fiber.Ctx, opts AppOptions) error {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return renderBadRequest(c, "url_required")
	}
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return renderBadRequest(c, "invalid_url")
	}

	kind, err := resolveKind(c.Query("kind"), target)
	if err != nil {
		return renderBadRequest(c, "invalid_kind")
	}

	origin, ok := opts.Origins.Lookup(target)
	if !ok {
		return renderOriginUnmapped(c, opts.Logger, target)
	}

	return opts.Viewer.Handle(c, &AssetRequest{
		URL:    target.String(),
		Kind:   kind,
		Origin: origin,
	})
}

// resolveKind 优先使用显式 kind 参数，缺省时按扩展名推断。
func resolveKind(raw string, target *url.URL) (cache.AssetKind, error) {
	if strings.TrimSpace(raw) != "" {
		return cache.ParseAssetKind(raw)
	}
	switch strings.ToLower(path.Ext(target.Path)) {
	case ".mind", ".patt":
		return cache.KindTrackingData, nil
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return cache.KindImage, nil
	default:
		return cache.KindVideo, nil
	}
}

func renderBadRequest(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": code,
	})
}

func renderOriginUnmapped(c fiber.Ctx, logger *logrus.Logger, target *url.URL) error {
	logger.WithFields(logrus.Fields{
		"action":     "origin_lookup",
		"host":       target.Host,
		"request_id": RequestID(c),
	}).Warn("origin unmapped")

	c.Set("X-AR-Origin-Host", target.Host)
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error": "origin_unmapped",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
