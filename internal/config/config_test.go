package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CacheTTL.DurationValue() != 7*24*time.Hour {
		t.Fatalf("CacheTTL 默认值应为 168h，实际 %s", cfg.Global.CacheTTL.DurationValue())
	}
	if cfg.Global.ListenPort != 5080 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.MaxCacheSizeBytes() != 200*1024*1024 {
		t.Fatalf("MaxCacheSizeMB 换算错误: %d", cfg.Global.MaxCacheSizeBytes())
	}
	if cfg.Global.EvictHighWatermark != 0.8 || cfg.Global.EvictLowWatermark != 0.5 {
		t.Fatalf("水位默认值错误: %v/%v", cfg.Global.EvictHighWatermark, cfg.Global.EvictLowWatermark)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 应被覆盖为 30s")
	}
	if cfg.Global.SweepSchedule != "@hourly" {
		t.Fatalf("SweepSchedule 默认值错误: %s", cfg.Global.SweepSchedule)
	}
	if cfg.Global.StoragePath == "" || cfg.Global.StoragePath == "./storage" {
		t.Fatalf("StoragePath 应被转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if len(cfg.Origins) != 2 {
		t.Fatalf("应解析两个 Origin，实际 %d", len(cfg.Origins))
	}
	if cfg.Origins[0].BaseURL != "https://res.cloudinary.com/demo" {
		t.Fatalf("BaseURL 末尾斜杠应被去除: %s", cfg.Origins[0].BaseURL)
	}
}

func TestValidateRejectsMissingBaseURL(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateWatermarks(t *testing.T) {
	testCases := []struct {
		name      string
		high, low float64
		shouldErr bool
	}{
		{"defaults", 0.8, 0.5, false},
		{"full high", 1, 0.9, false},
		{"low above high", 0.5, 0.8, true},
		{"equal", 0.6, 0.6, true},
		{"high over one", 1.2, 0.5, true},
		{"zero low", 0.8, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.EvictHighWatermark = tc.high
			cfg.Global.EvictLowWatermark = tc.low
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for %v/%v", tc.high, tc.low)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for %v/%v: %v", tc.high, tc.low, err)
			}
		})
	}
}

func TestValidateSweepSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.Global.SweepSchedule = "*/15 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("标准 cron 表达式应通过: %v", err)
	}

	cfg.Global.SweepSchedule = "every hour"
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.SweepSchedule" {
		t.Fatalf("非法 cron 表达式应返回 SweepSchedule 字段错误, got %v", err)
	}
}

func TestValidateOrigins(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"no origins", func(c *Config) { c.Origins = nil }, true},
		{"empty name", func(c *Config) { c.Origins[0].Name = "" }, true},
		{"ftp scheme", func(c *Config) { c.Origins[0].BaseURL = "ftp://cdn.example.com" }, true},
		{"query string", func(c *Config) { c.Origins[0].BaseURL = "https://cdn.example.com/?a=1" }, true},
		{"duplicate name", func(c *Config) {
			c.Origins = append(c.Origins, OriginConfig{Name: "cdn", BaseURL: "https://other.example.com"})
		}, true},
		{"duplicate base", func(c *Config) {
			c.Origins = append(c.Origins, OriginConfig{Name: "mirror", BaseURL: "https://cdn.example.com"})
		}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Global.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知日志级别应报错")
	}
}

func TestOriginNames(t *testing.T) {
	names := OriginNames([]OriginConfig{{Name: "a"}, {Name: "b"}})
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names: %v", names)
	}
	if OriginNames(nil) != nil {
		t.Fatalf("空列表应返回 nil")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5000,
			LogLevel:           "info",
			StoragePath:        "./data",
			CacheTTL:           Duration(time.Hour),
			MaxCacheSizeMB:     100,
			EvictHighWatermark: 0.8,
			EvictLowWatermark:  0.5,
			UpstreamTimeout:    Duration(time.Second),
			SweepSchedule:      "@hourly",
		},
		Origins: []OriginConfig{
			{
				Name:    "cdn",
				BaseURL: "https://cdn.example.com",
			},
		},
	}
}
