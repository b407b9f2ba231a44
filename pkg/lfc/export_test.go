package lfc

// Test-only hooks. Pinning normally happens inside Read/Write for the
// duration of a copy; tests need to hold pins across operations to exercise
// the soft-admission and shrink rules.

import "github.com/Voskan/pagecache/pkg/buftag"

// pinChunk pins the chunk owning tag and reports whether it was resident.
func (c *Cache) pinChunk(tag buftag.Tag) bool {
	key, _ := alignTag(tag)
	h := hashOf(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.idx.find(key, h)
	if e == nil {
		return false
	}
	if e.accessCount == 0 {
		c.lru.Remove(&e.lruNode)
	}
	e.accessCount++
	return true
}

// unpinChunk releases a pin taken with pinChunk.
func (c *Cache) unpinChunk(tag buftag.Tag) {
	key, _ := alignTag(tag)
	h := hashOf(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.idx.find(key, h)
	if e == nil {
		return
	}
	e.accessCount--
	if e.accessCount == 0 {
		c.lru.PushTail(&e.lruNode)
	}
}

// chunkResident reports whether an entry exists for tag's chunk, regardless
// of bitmap state.
func (c *Cache) chunkResident(tag buftag.Tag) bool {
	key, _ := alignTag(tag)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idx.find(key, hashOf(key)) != nil
}

// lruLen returns the number of unpinned resident chunks.
func (c *Cache) lruLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// checkInvariants verifies the structural invariants: offsets are a
// bijection into [0, size), used matches the index population, and LRU
// membership mirrors the pin count.
func (c *Cache) checkInvariants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	offsets := make(map[uint32]bool)
	linked := 0
	c.idx.forEach(func(e *entry) {
		if e.offset >= c.size {
			problems = append(problems, "entry offset beyond allocated size")
		}
		if offsets[e.offset] {
			problems = append(problems, "duplicate chunk offset")
		}
		offsets[e.offset] = true
		if (e.accessCount == 0) != e.lruNode.Linked() {
			problems = append(problems, "LRU membership does not match pin count")
		}
		if e.lruNode.Linked() {
			linked++
		}
	})
	if c.idx.len() != c.used {
		problems = append(problems, "used does not match index population")
	}
	if linked != c.lru.Len() {
		problems = append(problems, "LRU length does not match linked entries")
	}
	return problems
}
