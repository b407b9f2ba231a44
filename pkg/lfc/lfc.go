// Package lfc implements the local file cache: a bounded, chunked block
// cache that keeps recently used database pages in a single mapped region so
// reads can be served without a round trip to the page store.
//
// All blocks of all relations live in one slab and are addressed through a
// shared hash map keyed by the chunk-aligned buffer tag.  Replacement is LRU
// over whole chunks.  Manipulating the LRU requires a global critical
// section, so the cache uses one exclusive lock even for reads; the lock is
// released around the page-sized memory copies by pinning the entry
// (accessCount > 0), which detaches it from the LRU and protects its slot
// from being stolen.
//
// The cache is advisory: it is rebuilt empty at every startup, and any
// internal failure disables it rather than surfacing an error, because the
// page store remains authoritative.
//
// © 2025 pagecache authors. MIT License.
package lfc

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Voskan/pagecache/internal/lrulist"
	"github.com/Voskan/pagecache/internal/slab"
	"github.com/Voskan/pagecache/pkg/buftag"
)

// Re-exported slab geometry.
const (
	PageSize       = slab.PageSize
	BlocksPerChunk = slab.BlocksPerChunk
	ChunkSize      = slab.ChunkSize
)

// Cache is the local file cache. Construct with New; a Cache built from a
// zero MaxFileCacheSizeMB is valid and permanently disabled.
type Cache struct {
	mu   sync.RWMutex
	slab *slab.Slab
	idx  *index
	lru  lrulist.List[*entry]

	size uint32 // chunks ever allocated in the slab; monotonic
	used uint32 // live entries

	// sizeLimitMB is the soft admission target. 0 means disabled; every
	// operation checks it without the lock as a fast exit.
	sizeLimitMB atomic.Int32
	maxSizeMB   int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	log     *zap.Logger
	metrics metricsSink
	evictCb EvictionCallback
}

// New builds a cache for the given configuration. With MaxFileCacheSizeMB of
// zero the cache maps no memory and every operation is a no-op.
func New(cfg Config, opts ...Option) (*Cache, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	sl, err := slab.New(uint32(cfg.MaxFileCacheSizeMB))
	if err != nil {
		return nil, err
	}
	c := &Cache{
		slab:      sl,
		idx:       newIndex(uint32(cfg.MaxFileCacheSizeMB) + 1),
		maxSizeMB: cfg.MaxFileCacheSizeMB,
		log:       o.logger,
		metrics:   newMetricsSink(o.registry),
		evictCb:   o.evictCb,
	}
	c.lru.Init()
	if cfg.MaxFileCacheSizeMB > 0 {
		c.sizeLimitMB.Store(int32(cfg.FileCacheSizeLimitMB))
	}
	c.metrics.setSizeChunks(0)
	c.metrics.setUsedChunks(0)
	return c, nil
}

// alignTag splits a block identity into the chunk-aligned key and the page
// position within the chunk.
func alignTag(tag buftag.Tag) (buftag.Tag, int) {
	offs := int(tag.BlockNum & (BlocksPerChunk - 1))
	tag.BlockNum &^= BlocksPerChunk - 1
	return tag, offs
}

func bitIsSet(e *entry, offs int) bool {
	return e.bitmap[offs>>5]&(1<<(offs&31)) != 0
}

// Contains reports whether the page is present in the cache. It does not
// touch the LRU and therefore only needs shared access.
func (c *Cache) Contains(tag buftag.Tag) bool {
	if c.sizeLimitMB.Load() == 0 {
		return false
	}
	key, offs := alignTag(tag)
	h := hashOf(key)

	c.mu.RLock()
	e := c.idx.find(key, h)
	found := e != nil && bitIsSet(e, offs)
	c.mu.RUnlock()
	return found
}

// Read copies the page into buf (one page long) if it is cached.  The entry
// is pinned for the duration of the copy so the lock is not held across it.
func (c *Cache) Read(tag buftag.Tag, buf []byte) bool {
	if c.sizeLimitMB.Load() == 0 {
		return false
	}
	key, offs := alignTag(tag)
	h := hashOf(key)

	c.mu.Lock()
	e := c.idx.find(key, h)
	if e == nil || !bitIsSet(e, offs) {
		c.mu.Unlock()
		c.misses.Add(1)
		c.metrics.incMiss()
		return false
	}
	// Unlink from LRU to pin the entry for the duration of the copy.
	if e.accessCount == 0 {
		c.lru.Remove(&e.lruNode)
	}
	e.accessCount++
	c.mu.Unlock()

	copy(buf, c.slab.Page(e.offset, offs))

	c.mu.Lock()
	e.accessCount--
	if e.accessCount == 0 {
		c.lru.PushTail(&e.lruNode)
	}
	c.mu.Unlock()

	c.hits.Add(1)
	c.metrics.incHit()
	return true
}

// Write puts the page into the cache, admitting its chunk if necessary.  If
// the cache is at its soft limit the least recently used chunk is displaced;
// if every chunk is pinned the cache grows past the limit instead of
// blocking, because the pin holders may themselves be waiting for storage.
func (c *Cache) Write(tag buftag.Tag, buf []byte) {
	if c.sizeLimitMB.Load() == 0 {
		return
	}
	key, offs := alignTag(tag)
	h := hashOf(key)

	var victimKey buftag.Tag
	victimEvicted := false

	c.mu.Lock()
	if c.sizeLimitMB.Load() == 0 {
		c.mu.Unlock()
		return
	}
	e, isNew := c.idx.enter(key, h)
	if !isNew {
		if e.accessCount == 0 {
			c.lru.Remove(&e.lruNode)
		}
		e.accessCount++
	} else {
		limitChunks := uint32(c.sizeLimitMB.Load())
		full := c.used >= limitChunks
		switch {
		case full && !c.lru.Empty():
			// Cache overflow: displace the least recently used chunk and
			// grab its slot.
			victim := c.lru.PopHead()
			if victim.accessCount != 0 {
				panic("lfc: pinned entry on LRU list")
			}
			e.offset = victim.offset
			victimKey = victim.key
			victimEvicted = true
			c.idx.remove(victim.key, victim.hash)
			c.evictions.Add(1)
			c.metrics.incEvict()
		case c.size < c.slab.Capacity():
			// Allocate a fresh slot at the end of the region. When every
			// resident chunk is pinned this intentionally exceeds the soft
			// limit rather than waiting for an unpin.
			c.used++
			e.offset = c.size
			c.size++
			c.metrics.setSizeChunks(c.size)
			c.metrics.setUsedChunks(c.used)
		case c.used < c.size:
			// Shrink left slots that no live entry owns; reuse the lowest.
			owned := make([]bool, c.size+1)
			e.offset = c.size // the new entry owns no slot yet
			c.idx.forEach(func(o *entry) { owned[o.offset] = true })
			for e.offset = 0; owned[e.offset]; e.offset++ {
			}
			c.used++
			c.metrics.setUsedChunks(c.used)
		default:
			// Every slot of the region belongs to a pinned chunk. Skip
			// caching this page; the page store stays authoritative.
			c.idx.remove(key, h)
			c.mu.Unlock()
			c.log.Debug("lfc: dropping write, all chunks pinned and region exhausted",
				zap.Stringer("tag", tag))
			return
		}
		e.accessCount = 1
		e.bitmap = [bitmapWords]uint32{}
	}
	c.mu.Unlock()

	copy(c.slab.Page(e.offset, offs), buf)

	c.mu.Lock()
	e.accessCount--
	if e.accessCount == 0 {
		c.lru.PushTail(&e.lruNode)
	}
	// The bit becomes visible to readers only after the page data is in
	// place, and only if the cache was not disabled meanwhile.
	if c.sizeLimitMB.Load() != 0 {
		e.bitmap[offs>>5] |= 1 << (offs & 31)
	}
	c.mu.Unlock()

	if victimEvicted && c.evictCb != nil {
		c.evictCb(victimKey, ReasonCapacity)
	}
}

// Evict drops a single page from the cache.  A chunk whose last page is
// evicted is moved to the reclaim-first end of the LRU; a still-populated
// chunk keeps its position because eviction is not usage.
func (c *Cache) Evict(tag buftag.Tag) {
	if c.sizeLimitMB.Load() == 0 {
		return
	}
	key, offs := alignTag(tag)
	h := hashOf(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.idx.find(key, h)
	if e == nil {
		return
	}
	e.bitmap[offs>>5] &^= 1 << (offs & 31)

	if e.bitmap[offs>>5] == 0 {
		empty := true
		for _, w := range e.bitmap {
			if w != 0 {
				empty = false
				break
			}
		}
		// A fully empty chunk goes to the position that is reclaimed first.
		// A pinned entry is not on the list; it will be re-linked at unpin.
		if empty && e.accessCount == 0 {
			c.lru.Remove(&e.lruNode)
			c.lru.PushHead(&e.lruNode)
		}
	}
}

// SetSizeLimit installs a new soft target. Reducing it below the current
// usage discards least recently used chunks until the target is met or only
// pinned chunks remain. The limit must not exceed the fixed maximum.
func (c *Cache) SetSizeLimit(limitMB int) error {
	if limitMB > c.maxSizeMB {
		return errLimitAboveMax
	}
	if limitMB < 0 {
		limitMB = 0
	}
	c.mu.Lock()
	c.sizeLimitMB.Store(int32(limitMB))
	victims := c.shrinkLocked(uint32(limitMB))
	c.mu.Unlock()
	c.runEvictCallbacks(victims)
	return nil
}

// ShrinkTo discards chunks down to targetMB without changing the admission
// limit. The pressure monitor uses it so that admissions keep working while
// memory is reclaimed.
func (c *Cache) ShrinkTo(targetMB int) {
	if c.sizeLimitMB.Load() == 0 {
		return
	}
	if targetMB < 0 {
		targetMB = 0
	}
	c.mu.Lock()
	victims := c.shrinkLocked(uint32(targetMB))
	c.mu.Unlock()
	c.runEvictCallbacks(victims)
}

// shrinkLocked pops LRU victims until used fits targetChunks, hole-punching
// each victim's slab range. Pinned chunks are never touched. Caller holds the
// exclusive lock.
func (c *Cache) shrinkLocked(targetChunks uint32) []buftag.Tag {
	var victims []buftag.Tag
	for c.used > targetChunks && !c.lru.Empty() {
		victim := c.lru.PopHead()
		if victim.accessCount != 0 {
			panic("lfc: pinned entry on LRU list")
		}
		if err := c.slab.Punch(victim.offset); err != nil {
			// The slab backing is failing; the cache is advisory, so give it
			// up rather than risk serving bad data or failing callers.
			c.log.Error("lfc: hole punch failed, disabling cache", zap.Error(err))
			c.sizeLimitMB.Store(0)
			c.idx.remove(victim.key, victim.hash)
			c.used--
			break
		}
		c.idx.remove(victim.key, victim.hash)
		c.used--
		victims = append(victims, victim.key)
		c.evictions.Add(1)
		c.metrics.incEvict()
	}
	c.metrics.setUsedChunks(c.used)
	return victims
}

func (c *Cache) runEvictCallbacks(victims []buftag.Tag) {
	if c.evictCb == nil {
		return
	}
	for _, key := range victims {
		c.evictCb(key, ReasonShrink)
	}
}

// SizeLimitMB returns the current soft limit; zero means the cache is
// disabled.
func (c *Cache) SizeLimitMB() int { return int(c.sizeLimitMB.Load()) }

// MaxSizeMB returns the fixed slab capacity.
func (c *Cache) MaxSizeMB() int { return c.maxSizeMB }

// Used returns the number of live chunks.
func (c *Cache) Used() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.used
}

// Size returns the number of chunk slots ever allocated in the slab.
func (c *Cache) Size() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits        uint64 `json:"hits_total"`
	Misses      uint64 `json:"misses_total"`
	Evictions   uint64 `json:"evictions_total"`
	UsedChunks  uint32 `json:"used_chunks"`
	SizeChunks  uint32 `json:"size_chunks"`
	SizeLimitMB int    `json:"size_limit_mb"`
}

// Snapshot returns the current counters.
func (c *Cache) Snapshot() Stats {
	c.mu.RLock()
	used, size := c.used, c.size
	c.mu.RUnlock()
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		UsedChunks:  used,
		SizeChunks:  size,
		SizeLimitMB: int(c.sizeLimitMB.Load()),
	}
}

// Close disables the cache and unmaps the slab. Concurrent operations must
// have drained before Close is called.
func (c *Cache) Close() error {
	c.sizeLimitMB.Store(0)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slab.Close()
}
