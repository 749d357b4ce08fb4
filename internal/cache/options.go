package cache

import (
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTTL 是每条记录的固定存活时间。
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultMaxSizeBytes 对应 100MB 的总容量上限。
	DefaultMaxSizeBytes int64 = 100 * 1024 * 1024
	// DefaultHighWatermark 超过该利用率才触发淘汰。
	DefaultHighWatermark = 0.8
	// DefaultLowWatermark 淘汰会持续到利用率降到该值以下。
	DefaultLowWatermark = 0.5
)

// Options 控制 AssetCache 的存储位置与容量/时效参数，零值字段使用默认值。
type Options struct {
	StoragePath   string
	TTL           time.Duration
	MaxSizeBytes  int64
	HighWatermark float64
	LowWatermark  float64
	Client        *http.Client
	Logger        *logrus.Logger
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxSizeBytes <= 0 {
		o.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if o.HighWatermark <= 0 || o.HighWatermark > 1 {
		o.HighWatermark = DefaultHighWatermark
	}
	if o.LowWatermark <= 0 || o.LowWatermark >= o.HighWatermark {
		o.LowWatermark = DefaultLowWatermark
		if o.LowWatermark >= o.HighWatermark {
			o.LowWatermark = o.HighWatermark / 2
		}
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) highWaterBytes() int64 {
	return int64(float64(o.MaxSizeBytes) * o.HighWatermark)
}

func (o Options) lowWaterBytes() int64 {
	return int64(float64(o.MaxSizeBytes) * o.LowWatermark)
}
