package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/ar-cache/internal/config"
)

// OriginRoute 将 Origin 配置与解析后的 BaseURL 聚合在一起，避免每次请求重复解析。
type OriginRoute struct {
	// Config 是用户在 config.toml 中声明的 Origin 字段副本。
	Config config.OriginConfig
	// BaseURL 在构造 Registry 时提前解析完成。
	BaseURL *url.URL
	host    string
	port    int
	path    string
}

// OriginRegistry 根据资源 URL 的 scheme/host/路径前缀查找允许缓存的来源。
type OriginRegistry struct {
	ordered []*OriginRoute
}

// NewOriginRegistry 根据配置构建来源表。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{}
	seen := make(map[string]struct{}, len(cfg.Origins))
	for _, origin := range cfg.Origins {
		route, err := buildOriginRoute(origin)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%s://%s:%d%s", route.BaseURL.Scheme, route.host, route.port, route.path)
		if _, exists := seen[key]; exists {
			return nil, fmt.Errorf("duplicate origin mapping detected for %s", origin.BaseURL)
		}
		seen[key] = struct{}{}
		registry.ordered = append(registry.ordered, route)
	}
	return registry, nil
}

func buildOriginRoute(origin config.OriginConfig) (*OriginRoute, error) {
	parsed, err := url.Parse(origin.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url for origin %s: %w", origin.Name, err)
	}
	host, port := normalizeHost(parsed.Host)
	if host == "" {
		return nil, fmt.Errorf("invalid base url for origin %s", origin.Name)
	}
	return &OriginRoute{
		Config:  origin,
		BaseURL: parsed,
		host:    host,
		port:    effectivePort(parsed.Scheme, port),
		path:    strings.TrimRight(parsed.EscapedPath(), "/"),
	}, nil
}

// Lookup 返回与资源 URL 匹配的来源；多个来源同时匹配时取路径前缀最长者。
func (r *OriginRegistry) Lookup(target *url.URL) (*OriginRoute, bool) {
	if r == nil || target == nil {
		return nil, false
	}

	host, port := normalizeHost(target.Host)
	if host == "" {
		return nil, false
	}
	port = effectivePort(target.Scheme, port)
	path := target.EscapedPath()

	var best *OriginRoute
	for _, route := range r.ordered {
		if !strings.EqualFold(route.BaseURL.Scheme, target.Scheme) || route.host != host || route.port != port {
			continue
		}
		if !hasPathPrefix(path, route.path) {
			continue
		}
		if best == nil || len(route.path) > len(best.path) {
			best = route
		}
	}
	return best, best != nil
}

// List 返回当前注册的来源（按配置定义的顺序），用于 /-/origins 输出。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func effectivePort(scheme string, port int) int {
	if port != 0 {
		return port
	}
	switch strings.ToLower(scheme) {
	case "https":
		return 443
	case "http":
		return 80
	default:
		return 0
	}
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
