package lfc

// config.go defines the cache configuration and the functional options passed
// to New.  The knob names follow the compute-node configuration surface
// (sizes in MB); defaults match the values the supervising process would
// install on a fresh node.
//
// Design notes
// ------------
// • MaxFileCacheSizeMB is fixed at construction: it sizes the mapped region.
// • FileCacheSizeLimitMB is the reloadable soft target; SetSizeLimit changes
//   it at runtime and shrinks the cache when reduced.
// • Options capture pointers to external objects (logger, registry, hooks)
//   and never allocate.
//
// © 2025 pagecache authors. MIT License.

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/pagecache/pkg/buftag"
)

// Config bundles the cache sizing knobs. All sizes are in MB; one chunk is
// 1 MiB, so MB values double as chunk counts.
type Config struct {
	// MaxFileCacheSizeMB is the absolute capacity of the slab. 0 disables the
	// cache entirely: no memory is mapped and every operation short-circuits.
	MaxFileCacheSizeMB int

	// MaxInmemCacheSizeMB caps both MaxFileCacheSizeMB and
	// FileCacheSizeLimitMB. Defaults to 128.
	MaxInmemCacheSizeMB int

	// FileCacheSizeLimitMB is the current soft admission target. Reloadable
	// through SetSizeLimit; must not exceed MaxFileCacheSizeMB.
	FileCacheSizeLimitMB int

	// FreeMemoryWatermarkMB makes the pressure monitor shrink the cache when
	// available memory falls below it. 0 disables the monitor's action.
	FreeMemoryWatermarkMB int

	// FreeSpaceWatermarkMB sizes the monitor polling interval the way the
	// free-space budget does: the interval is the minimal time the watermark
	// could be consumed at full write rate, capped at one second.
	FreeSpaceWatermarkMB int
}

// EvictReason tells an eviction callback why a chunk left the cache.
type EvictReason uint8

const (
	// ReasonCapacity: the chunk's slot was stolen to admit a new chunk.
	ReasonCapacity EvictReason = iota + 1
	// ReasonShrink: the chunk was discarded by a size-limit reduction or by
	// the pressure monitor.
	ReasonShrink
)

// EvictionCallback is invoked after a whole chunk has been evicted. It runs
// outside the cache lock, in the goroutine that triggered the eviction, and
// must not block. The key is the chunk-aligned tag.
type EvictionCallback func(key buftag.Tag, reason EvictReason)

// Option is a functional option for New.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	evictCb  EvictionCallback
}

// WithLogger plugs an external zap.Logger. The cache never logs on the hot
// path; only rare events (self-disable after a failed hole punch, a dropped
// admission) are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection for the cache instance.
// Passing nil disables metrics (default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithEvictionCallback registers a function invoked whenever a whole chunk is
// evicted, either by admission displacement or by shrink.
func WithEvictionCallback(cb EvictionCallback) Option {
	return func(o *options) { o.evictCb = cb }
}

func defaultOptions() *options {
	return &options{logger: zap.NewNop()}
}

var errLimitAboveMax = errors.New("file_cache_size_limit can not be larger than max_file_cache_size")

// normalize applies defaults and the max_inmem clamp, and validates the
// limit/max relation.
func (c Config) normalize() (Config, error) {
	if c.MaxInmemCacheSizeMB == 0 {
		c.MaxInmemCacheSizeMB = 128
	}
	if c.MaxFileCacheSizeMB < 0 || c.FileCacheSizeLimitMB < 0 {
		return c, fmt.Errorf("lfc: negative cache size")
	}
	if c.MaxFileCacheSizeMB > c.MaxInmemCacheSizeMB {
		c.MaxFileCacheSizeMB = c.MaxInmemCacheSizeMB
	}
	if c.FileCacheSizeLimitMB > c.MaxInmemCacheSizeMB {
		c.FileCacheSizeLimitMB = c.MaxInmemCacheSizeMB
	}
	if c.FileCacheSizeLimitMB > c.MaxFileCacheSizeMB {
		return c, errLimitAboveMax
	}
	return c, nil
}
