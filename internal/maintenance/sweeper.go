// Package maintenance schedules the periodic cache upkeep: expired entries
// are purged and the capacity watermarks re-checked on a cron schedule.
package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/any-hub/ar-cache/internal/cache"
)

const defaultSchedule = "@hourly"

// Cache 是 Sweeper 需要的缓存维护能力。
type Cache interface {
	ClearExpired(ctx context.Context) cache.SweepReport
	MaybeEvict(ctx context.Context) cache.EvictionReport
}

// Sweeper 按 cron 表达式周期性清理过期条目并执行容量淘汰。
type Sweeper struct {
	assets   Cache
	cron     *cron.Cron
	schedule string
	logger   *logrus.Logger
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule overrides the cron specification, empty keeps @hourly.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// NewSweeper 构造 Sweeper；assets 为 nil 时 Start/RunOnce 均为空操作。
func NewSweeper(assets Cache, logger *logrus.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		assets:   assets,
		schedule: defaultSchedule,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	return s
}

// Start 立即执行一次清理，然后注册定时任务并启动调度器。
func (s *Sweeper) Start(ctx context.Context) error {
	if s.assets == nil {
		return nil
	}
	if err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).WithField("action", "cache_sweep").Warn("initial sweep failed")
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.logger.WithError(err).WithField("action", "cache_sweep").Warn("scheduled sweep failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to complete.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce 依次执行过期清理与容量淘汰，两者的错误合并返回。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.assets == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	sweep := s.assets.ClearExpired(ctx)
	errs = multierr.Append(errs, sweep.Err)

	evict := s.assets.MaybeEvict(ctx)
	errs = multierr.Append(errs, evict.Err)

	s.logger.WithFields(logrus.Fields{
		"action":        "cache_sweep",
		"expired":       sweep.Removed,
		"expired_bytes": sweep.FreedBytes,
		"evicted":       evict.Removed,
		"evicted_bytes": evict.FreedBytes,
		"size_before":   evict.Before,
		"size_after":    evict.After,
	}).Debug("sweep completed")

	return errs
}
