package lfc

// index.go implements the fixed-capacity tag→entry hash.  Entries live in a
// preallocated pool and chain through pool indices, so an entry's address is
// stable for its whole lifetime — the intrusive LRU hooks point at it.
// Capacity is the chunk capacity plus one: the extra slot lets Write insert
// the new entry before evicting the victim.
//
// The index has no locking of its own; the cache lock serialises access.
//
// © 2025 pagecache authors. MIT License.

import (
	"github.com/cespare/xxhash/v2"

	"github.com/Voskan/pagecache/internal/lrulist"
	"github.com/Voskan/pagecache/internal/slab"
	"github.com/Voskan/pagecache/pkg/buftag"
)

const bitmapWords = slab.BlocksPerChunk / 32

// entry describes one resident chunk.
type entry struct {
	key    buftag.Tag // chunk-aligned tag
	hash   uint64
	offset uint32 // chunk index within the slab

	// accessCount is the pin count: >0 means an I/O is in flight against the
	// chunk and the entry is detached from the LRU list.
	accessCount uint32

	// bitmap has one bit per page in the chunk; bit set means the page is
	// resident and valid.
	bitmap [bitmapWords]uint32

	lruNode lrulist.Node[*entry]

	next int32 // bucket chain, pool index, -1 terminates
	live bool
}

const nilIdx = int32(-1)

// index is an open-chained hash over a fixed entry pool.
type index struct {
	buckets []int32
	pool    []entry
	free    int32 // freelist head, chained through entry.next
	mask    uint64
	count   uint32
}

func newIndex(capacity uint32) *index {
	nbuckets := uint32(1)
	for nbuckets < capacity {
		nbuckets <<= 1
	}
	ix := &index{
		buckets: make([]int32, nbuckets),
		pool:    make([]entry, capacity),
		mask:    uint64(nbuckets - 1),
	}
	for i := range ix.buckets {
		ix.buckets[i] = nilIdx
	}
	for i := range ix.pool {
		ix.pool[i].next = int32(i) + 1
		ix.pool[i].lruNode.Value = &ix.pool[i]
	}
	ix.pool[len(ix.pool)-1].next = nilIdx
	ix.free = 0
	return ix
}

// hashOf hashes the stable encoding of a chunk-aligned tag.
func hashOf(tag buftag.Tag) uint64 {
	var b [buftag.EncodedLen]byte
	tag.Encode(b[:])
	return xxhash.Sum64(b[:])
}

// find returns the entry for tag, or nil.
func (ix *index) find(tag buftag.Tag, hash uint64) *entry {
	for i := ix.buckets[hash&ix.mask]; i != nilIdx; i = ix.pool[i].next {
		e := &ix.pool[i]
		if e.hash == hash && e.key == tag {
			return e
		}
	}
	return nil
}

// enter returns the entry for tag, allocating one from the pool if absent.
// The pool is sized so that allocation cannot fail while the cache respects
// its capacity-plus-one discipline.
func (ix *index) enter(tag buftag.Tag, hash uint64) (e *entry, isNew bool) {
	if e = ix.find(tag, hash); e != nil {
		return e, false
	}
	i := ix.free
	if i == nilIdx {
		panic("lfc: entry pool exhausted")
	}
	e = &ix.pool[i]
	ix.free = e.next

	b := hash & ix.mask
	e.key = tag
	e.hash = hash
	e.live = true
	e.next = ix.buckets[b]
	ix.buckets[b] = i
	ix.count++
	return e, true
}

// remove unlinks the entry for tag and returns it to the freelist.
func (ix *index) remove(tag buftag.Tag, hash uint64) {
	b := hash & ix.mask
	prev := nilIdx
	for i := ix.buckets[b]; i != nilIdx; i = ix.pool[i].next {
		e := &ix.pool[i]
		if e.hash == hash && e.key == tag {
			if prev == nilIdx {
				ix.buckets[b] = e.next
			} else {
				ix.pool[prev].next = e.next
			}
			e.live = false
			e.next = ix.free
			ix.free = i
			ix.count--
			return
		}
		prev = i
	}
}

// forEach visits every live entry. Iteration order is unspecified.
func (ix *index) forEach(fn func(*entry)) {
	for i := range ix.pool {
		if ix.pool[i].live {
			fn(&ix.pool[i])
		}
	}
}

func (ix *index) len() uint32 { return ix.count }
