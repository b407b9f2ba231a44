package lfc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voskan/pagecache/pkg/buftag"
)

// newTestCache builds an instance-scoped cache with equal max and limit.
func newTestCache(t *testing.T, maxMB, limitMB int, opts ...Option) *Cache {
	t.Helper()
	c, err := New(Config{
		MaxFileCacheSizeMB:   maxMB,
		MaxInmemCacheSizeMB:  maxMB,
		FileCacheSizeLimitMB: limitMB,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// tagFor addresses block blk of a per-test relation rel; distinct rel values
// land in distinct chunks.
func tagFor(rel, blk uint32) buftag.Tag {
	return buftag.Tag{
		Rnode:    buftag.RelFileNode{SpcNode: 1663, DbNode: 1, RelNode: rel},
		ForkNum:  buftag.MainFork,
		BlockNum: blk,
	}
}

// pageFill returns a page with a recognizable byte pattern.
func pageFill(b byte) []byte {
	return bytes.Repeat([]byte{b}, PageSize)
}

func TestDisabledCache(t *testing.T) {
	c, err := New(Config{MaxFileCacheSizeMB: 0})
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, PageSize)
	assert.False(t, c.Contains(tagFor(1, 0)))
	assert.False(t, c.Read(tagFor(1, 0), buf))
	c.Write(tagFor(1, 0), pageFill(0xaa)) // no-op
	c.Evict(tagFor(1, 0))                 // no-op
	assert.False(t, c.Contains(tagFor(1, 0)))
	assert.Nil(t, c.Pages())
	assert.Equal(t, uint32(0), c.Used())
}

func TestWriteReadRoundTrip(t *testing.T) {
	c := newTestCache(t, 2, 2)

	want := pageFill(0x5a)
	c.Write(tagFor(1, 3), want)

	got := make([]byte, PageSize)
	require.True(t, c.Read(tagFor(1, 3), got))
	assert.Equal(t, want, got)
}

func TestContainsTracksWrites(t *testing.T) {
	c := newTestCache(t, 2, 2)

	assert.False(t, c.Contains(tagFor(1, 0)))
	c.Write(tagFor(1, 0), pageFill(1))
	assert.True(t, c.Contains(tagFor(1, 0)))
	// A sibling page in the same chunk is not resident.
	assert.False(t, c.Contains(tagFor(1, 1)))
}

func TestEvictSinglePagePreservesSiblings(t *testing.T) {
	c := newTestCache(t, 2, 2)

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(1, 1), pageFill(2))

	c.Evict(tagFor(1, 0))
	assert.False(t, c.Contains(tagFor(1, 0)))
	assert.True(t, c.Contains(tagFor(1, 1)))

	// Evicting an absent page is a no-op.
	c.Evict(tagFor(9, 0))
	assert.Empty(t, c.checkInvariants())
}

func TestAdmitEvictAdmit(t *testing.T) {
	c := newTestCache(t, 2, 2)

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(2, 0), pageFill(2))
	c.Write(tagFor(3, 0), pageFill(3))

	assert.False(t, c.Contains(tagFor(1, 0)), "oldest chunk displaced")
	assert.True(t, c.Contains(tagFor(2, 0)))
	assert.True(t, c.Contains(tagFor(3, 0)))
	assert.Equal(t, uint32(2), c.Used())
	assert.Empty(t, c.checkInvariants())
}

func TestLRUPromotionOnRead(t *testing.T) {
	c := newTestCache(t, 2, 2)

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(2, 0), pageFill(2))

	buf := make([]byte, PageSize)
	require.True(t, c.Read(tagFor(1, 0), buf))

	c.Write(tagFor(3, 0), pageFill(3))

	assert.True(t, c.Contains(tagFor(1, 0)), "recently read chunk survives")
	assert.False(t, c.Contains(tagFor(2, 0)), "least recently used chunk displaced")
	assert.True(t, c.Contains(tagFor(3, 0)))
}

func TestEmptyChunkDemotedToVictim(t *testing.T) {
	c := newTestCache(t, 3, 2)

	c.Write(tagFor(2, 0), pageFill(3))
	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(1, 1), pageFill(2))
	c.Evict(tagFor(1, 0))
	c.Evict(tagFor(1, 1))
	require.True(t, c.chunkResident(tagFor(1, 0)), "empty chunk keeps its slot")

	// The cache is at its limit; the emptied chunk sits at the reclaim-first
	// end even though chunk 2 is older.
	c.Write(tagFor(3, 0), pageFill(4))

	assert.False(t, c.chunkResident(tagFor(1, 0)), "emptied chunk reclaimed first")
	assert.True(t, c.Contains(tagFor(2, 0)))
	assert.True(t, c.Contains(tagFor(3, 0)))
	assert.Empty(t, c.checkInvariants())
}

func TestEvictKeepsPopulatedChunkPosition(t *testing.T) {
	c := newTestCache(t, 2, 2)

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(1, 1), pageFill(2))
	c.Write(tagFor(2, 0), pageFill(3))

	// Chunk 1 still holds page 1; evicting page 0 must not promote or demote
	// it, so chunk 1 (older) is displaced by the next admission.
	c.Evict(tagFor(1, 0))
	c.Write(tagFor(3, 0), pageFill(4))

	assert.False(t, c.Contains(tagFor(1, 1)), "eviction is not usage")
	assert.True(t, c.Contains(tagFor(2, 0)))
}

func TestSoftLimitOverflowWhenAllPinned(t *testing.T) {
	c := newTestCache(t, 4, 2)

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(2, 0), pageFill(2))
	require.True(t, c.pinChunk(tagFor(1, 0)))
	require.True(t, c.pinChunk(tagFor(2, 0)))
	require.Equal(t, 0, c.lruLen())

	// Admission with an empty LRU must not block or displace: it grows past
	// the soft limit instead.
	c.Write(tagFor(3, 0), pageFill(3))
	assert.True(t, c.Contains(tagFor(3, 0)))
	assert.Equal(t, uint32(3), c.Used())
	assert.Equal(t, uint32(3), c.Size())

	c.unpinChunk(tagFor(1, 0))
	c.unpinChunk(tagFor(2, 0))
	assert.Empty(t, c.checkInvariants())
}

func TestSetSizeLimitShrinks(t *testing.T) {
	c := newTestCache(t, 4, 4)
	for rel := uint32(1); rel <= 4; rel++ {
		c.Write(tagFor(rel, 0), pageFill(byte(rel)))
	}
	require.Equal(t, uint32(4), c.Used())

	require.NoError(t, c.SetSizeLimit(2))
	assert.LessOrEqual(t, c.Used(), uint32(2))
	assert.Equal(t, 2, c.SizeLimitMB())
	assert.Empty(t, c.checkInvariants())

	// The limit cannot exceed the fixed maximum.
	assert.Error(t, c.SetSizeLimit(5))
}

func TestShrinkNeverTouchesPinned(t *testing.T) {
	c := newTestCache(t, 4, 4)
	for rel := uint32(1); rel <= 3; rel++ {
		c.Write(tagFor(rel, 0), pageFill(byte(rel)))
	}
	require.True(t, c.pinChunk(tagFor(2, 0)))

	require.NoError(t, c.SetSizeLimit(1))
	// Only the pinned chunk can remain above the target.
	assert.Equal(t, uint32(1), c.Used())
	assert.True(t, c.chunkResident(tagFor(2, 0)))

	c.unpinChunk(tagFor(2, 0))
	assert.Empty(t, c.checkInvariants())
}

func TestEvictionCallback(t *testing.T) {
	type evicted struct {
		key    buftag.Tag
		reason EvictReason
	}
	var got []evicted
	c := newTestCache(t, 2, 1, WithEvictionCallback(func(key buftag.Tag, reason EvictReason) {
		got = append(got, evicted{key, reason})
	}))

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(2, 0), pageFill(2)) // displaces chunk 1
	require.Len(t, got, 1)
	assert.Equal(t, uint32(1), got[0].key.Rnode.RelNode)
	assert.Equal(t, ReasonCapacity, got[0].reason)

	require.NoError(t, c.SetSizeLimit(0)) // shrinks chunk 2 away
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[1].key.Rnode.RelNode)
	assert.Equal(t, ReasonShrink, got[1].reason)
}

func TestPagesEnumeration(t *testing.T) {
	c := newTestCache(t, 2, 2)

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(1, 5), pageFill(2))
	c.Write(tagFor(2, BlocksPerChunk+7), pageFill(3))

	pages := c.Pages()
	require.Len(t, pages, 3)

	byBlock := map[uint32]PageInfo{}
	for _, p := range pages {
		byBlock[p.BlockNum] = p
	}
	require.Contains(t, byBlock, uint32(0))
	require.Contains(t, byBlock, uint32(5))
	require.Contains(t, byBlock, uint32(BlocksPerChunk+7))

	p := byBlock[uint32(BlocksPerChunk+7)]
	assert.Equal(t, uint32(2), p.RelNode)
	assert.Equal(t, uint32(1663), p.SpcNode)
	assert.Equal(t, uint32(1), p.DbNode)
	assert.Equal(t, uint32(0), p.AccessCount)
}

func TestRewriteSamePage(t *testing.T) {
	c := newTestCache(t, 2, 2)

	c.Write(tagFor(1, 0), pageFill(1))
	c.Write(tagFor(1, 0), pageFill(9))

	got := make([]byte, PageSize)
	require.True(t, c.Read(tagFor(1, 0), got))
	assert.Equal(t, pageFill(9), got)
	assert.Equal(t, uint32(1), c.Used())
}

func TestLimitAboveMaxRejected(t *testing.T) {
	_, err := New(Config{
		MaxFileCacheSizeMB:   2,
		MaxInmemCacheSizeMB:  16,
		FileCacheSizeLimitMB: 4,
	})
	assert.Error(t, err)
}

func TestMaxInmemClampsMax(t *testing.T) {
	c, err := New(Config{
		MaxFileCacheSizeMB:   256,
		MaxInmemCacheSizeMB:  8,
		FileCacheSizeLimitMB: 8,
	})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 8, c.MaxSizeMB())
}

func TestInvariantsUnderMixedWorkload(t *testing.T) {
	c := newTestCache(t, 4, 3)
	buf := make([]byte, PageSize)

	for i := 0; i < 500; i++ {
		rel := uint32(i%7 + 1)
		blk := uint32(i % (2 * BlocksPerChunk))
		switch i % 4 {
		case 0, 1:
			c.Write(tagFor(rel, blk), pageFill(byte(i)))
		case 2:
			c.Read(tagFor(rel, blk), buf)
		case 3:
			c.Evict(tagFor(rel, blk))
		}
	}
	assert.Empty(t, c.checkInvariants())
	assert.LessOrEqual(t, c.Used(), c.Size())
	assert.LessOrEqual(t, c.Size(), uint32(4))
}
