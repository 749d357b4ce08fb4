package cache

import "github.com/sirupsen/logrus"

// ProgressFunc 接收 0..100 的整数进度。
type ProgressFunc func(percent int)

// progressReporter 保证上报值单调不减，下载期间最多到 99，
// 并且在任何结束路径上恰好上报一次 100。回调中的 panic 会被吞掉。
type progressReporter struct {
	sink     ProgressFunc
	logger   *logrus.Logger
	last     int
	finished bool
}

func newProgressReporter(sink ProgressFunc, logger *logrus.Logger) *progressReporter {
	return &progressReporter{sink: sink, logger: logger, last: -1}
}

func (p *progressReporter) report(percent int) {
	if p.sink == nil || p.finished {
		return
	}
	if percent > 99 {
		percent = 99
	}
	if percent < 0 {
		percent = 0
	}
	if percent <= p.last {
		return
	}
	p.last = percent
	p.emit(percent)
}

func (p *progressReporter) done() {
	if p.finished {
		return
	}
	p.finished = true
	p.last = 100
	if p.sink != nil {
		p.emit(100)
	}
}

func (p *progressReporter) emit(percent int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"action":  "cache_progress",
				"percent": percent,
			}).Debugf("progress callback panic: %v", r)
		}
	}()
	p.sink(percent)
}

func percentOf(received, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(received * 100 / total)
}
