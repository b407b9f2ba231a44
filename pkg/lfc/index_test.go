package lfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voskan/pagecache/pkg/buftag"
)

func idxTag(rel uint32) buftag.Tag {
	return buftag.Tag{
		Rnode:    buftag.RelFileNode{SpcNode: 1, DbNode: 2, RelNode: rel},
		ForkNum:  buftag.MainFork,
		BlockNum: 0,
	}
}

func TestIndexEnterFindRemove(t *testing.T) {
	ix := newIndex(8)

	tag := idxTag(1)
	h := hashOf(tag)
	require.Nil(t, ix.find(tag, h))

	e, isNew := ix.enter(tag, h)
	require.True(t, isNew)
	require.NotNil(t, e)
	assert.Equal(t, tag, e.key)

	e2, isNew := ix.enter(tag, h)
	assert.False(t, isNew)
	assert.Same(t, e, e2)
	assert.Equal(t, uint32(1), ix.len())

	ix.remove(tag, h)
	assert.Nil(t, ix.find(tag, h))
	assert.Equal(t, uint32(0), ix.len())
}

// TestIndexStableAddresses fills the pool, frees part of it, refills, and
// checks that surviving entries never move: the LRU hooks depend on it.
func TestIndexStableAddresses(t *testing.T) {
	const capacity = 16
	ix := newIndex(capacity)

	ptrs := make(map[uint32]*entry)
	for rel := uint32(0); rel < capacity; rel++ {
		e, isNew := ix.enter(idxTag(rel), hashOf(idxTag(rel)))
		require.True(t, isNew)
		e.offset = rel
		ptrs[rel] = e
	}

	for rel := uint32(0); rel < capacity; rel += 2 {
		ix.remove(idxTag(rel), hashOf(idxTag(rel)))
	}
	for rel := uint32(100); rel < 100+capacity/2; rel++ {
		_, isNew := ix.enter(idxTag(rel), hashOf(idxTag(rel)))
		require.True(t, isNew)
	}

	for rel := uint32(1); rel < capacity; rel += 2 {
		e := ix.find(idxTag(rel), hashOf(idxTag(rel)))
		require.NotNil(t, e)
		assert.Same(t, ptrs[rel], e, "surviving entry moved")
		assert.Equal(t, rel, e.offset)
	}
}

func TestIndexForEachVisitsLiveOnly(t *testing.T) {
	ix := newIndex(8)
	for rel := uint32(0); rel < 4; rel++ {
		ix.enter(idxTag(rel), hashOf(idxTag(rel)))
	}
	ix.remove(idxTag(2), hashOf(idxTag(2)))

	seen := map[uint32]bool{}
	ix.forEach(func(e *entry) { seen[e.key.Rnode.RelNode] = true })
	assert.Equal(t, map[uint32]bool{0: true, 1: true, 3: true}, seen)
}
