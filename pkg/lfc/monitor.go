package lfc

// monitor.go implements the memory-pressure monitor: a background worker
// that checks available system memory and shrinks the cache when free RAM
// drops below the configured watermark.
//
// The first trigger halves the cache, the second quarters it, and so on
// until the cache is empty; the factor resets as soon as memory recovers.
// The monitor never raises the size limit — that remains the autoscaler's
// job — and shrinking does not disable the cache: new admissions keep
// working under the configured limit.
//
// © 2025 pagecache authors. MIT License.

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

const (
	maxMonitorInterval  = time.Second
	maxMemWriteRateMBps = 10000
	maxShrinkingFactor  = 31
)

// MemAvailableFunc reports available system memory in bytes.
type MemAvailableFunc func() (uint64, error)

// Monitor shrinks the cache under memory pressure. Run it in its own
// goroutine; the host restarts it with a fixed backoff if it fails.
type Monitor struct {
	cache       *Cache
	limitMB     int
	watermarkMB int
	interval    time.Duration

	available MemAvailableFunc
	factor    int
	log       *zap.Logger
}

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithMemAvailable overrides how available memory is read. Tests use it; the
// default reads MemAvailable from /proc/meminfo.
func WithMemAvailable(fn MemAvailableFunc) MonitorOption {
	return func(m *Monitor) {
		if fn != nil {
			m.available = fn
		}
	}
}

// WithMonitorLogger plugs an external zap.Logger.
func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMonitor builds a monitor for cache using the watermarks in cfg.
//
// The polling interval is the minimal time in which the free-space watermark
// could be consumed at the maximal write rate, capped at one second.
func NewMonitor(cache *Cache, cfg Config, opts ...MonitorOption) *Monitor {
	interval := maxMonitorInterval
	if cfg.FreeSpaceWatermarkMB > 0 {
		d := time.Duration(cfg.FreeSpaceWatermarkMB) * time.Second / maxMemWriteRateMBps
		if d > 0 && d < interval {
			interval = d
		}
	}
	m := &Monitor{
		cache:       cache,
		limitMB:     cfg.FileCacheSizeLimitMB,
		watermarkMB: cfg.FreeMemoryWatermarkMB,
		interval:    interval,
		available:   procMemAvailable,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Interval returns the polling interval.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick performs one pressure check.
func (m *Monitor) tick() {
	if m.watermarkMB <= 0 || m.cache.SizeLimitMB() == 0 {
		return
	}
	avail, err := m.available()
	if err != nil {
		m.log.Warn("lfc monitor: cannot read available memory", zap.Error(err))
		return
	}
	if avail < uint64(m.watermarkMB)<<20 {
		if m.factor < maxShrinkingFactor {
			m.factor++
		}
		target := m.limitMB >> m.factor
		m.log.Info("lfc monitor: low memory, shrinking cache",
			zap.Uint64("available_bytes", avail),
			zap.Int("target_mb", target))
		m.cache.ShrinkTo(target)
	} else {
		m.factor = 0
	}
}

// procMemAvailable reads MemAvailable from /proc/meminfo (values are in kB).
func procMemAvailable() (uint64, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, err
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, err
	}
	if mi.MemAvailable == nil {
		return 0, errNoMemAvailable
	}
	return *mi.MemAvailable * 1024, nil
}

var errNoMemAvailable = errors.New("meminfo has no MemAvailable field")
