package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"168h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志与资源缓存的容量/时效。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	CacheTTL           Duration `mapstructure:"CacheTTL"`
	MaxCacheSizeMB     int64    `mapstructure:"MaxCacheSizeMB"`
	EvictHighWatermark float64  `mapstructure:"EvictHighWatermark"`
	EvictLowWatermark  float64  `mapstructure:"EvictLowWatermark"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	SweepSchedule      string   `mapstructure:"SweepSchedule"`
}

// MaxCacheSizeBytes 把 MB 配置换算为字节（1MB = 1024*1024）。
func (g GlobalConfig) MaxCacheSizeBytes() int64 {
	return g.MaxCacheSizeMB * 1024 * 1024
}

// OriginConfig 声明一个允许被缓存的资源来源（CDN 或对象存储前缀）。
type OriginConfig struct {
	Name    string `mapstructure:"Name"`
	BaseURL string `mapstructure:"BaseURL"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Origins []OriginConfig `mapstructure:"Origin"`
}

// OriginNames 返回全部来源名称，供启动日志使用。
func OriginNames(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = origin.Name
	}
	return result
}
