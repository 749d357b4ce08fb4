package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
		}
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	if g.MaxCacheSizeMB <= 0 {
		return newFieldError("Global.MaxCacheSizeMB", "必须大于 0")
	}
	if g.EvictHighWatermark <= 0 || g.EvictHighWatermark > 1 {
		return newFieldError("Global.EvictHighWatermark", "必须在 (0, 1] 区间")
	}
	if g.EvictLowWatermark <= 0 || g.EvictLowWatermark >= g.EvictHighWatermark {
		return newFieldError("Global.EvictLowWatermark", "必须大于 0 且小于 EvictHighWatermark")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if _, err := cron.ParseStandard(g.SweepSchedule); err != nil {
		return newFieldError("Global.SweepSchedule", fmt.Sprintf("无法解析: %v", err))
	}

	if len(c.Origins) == 0 {
		return errors.New("至少需要配置一个 Origin")
	}

	seenNames := map[string]struct{}{}
	seenBases := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		if origin.Name == "" {
			return newFieldError("Origin[].Name", "不能为空")
		}
		if _, exists := seenNames[origin.Name]; exists {
			return newFieldError(originField(origin.Name, "Name"), "重复")
		}
		seenNames[origin.Name] = struct{}{}

		if err := validateBaseURL(origin.BaseURL); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "BaseURL"), err)
		}
		if _, exists := seenBases[origin.BaseURL]; exists {
			return newFieldError(originField(origin.Name, "BaseURL"), "与其它 Origin 重复")
		}
		seenBases[origin.BaseURL] = struct{}{}
	}

	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("缺少来源地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，来源: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("来源缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("来源不允许包含查询参数或锚点: %s", raw)
	}
	return nil
}
