package lfc

// pages.go implements the read-only enumeration of resident pages, the
// backing for the debug/diagnostics surface: one record per cached page with
// its slab position, relation identity and pin count.
//
// © 2025 pagecache authors. MIT License.

import (
	"github.com/Voskan/pagecache/pkg/buftag"
)

// PageInfo describes one resident page.
type PageInfo struct {
	PageOffset  uint32            `json:"page_offset"`
	RelNode     uint32            `json:"relfilenode"`
	SpcNode     uint32            `json:"reltablespace"`
	DbNode      uint32            `json:"reldatabase"`
	ForkNum     buftag.ForkNumber `json:"forknum"`
	BlockNum    uint32            `json:"blocknum"`
	AccessCount uint32            `json:"access_count"`
}

// Pages materialises one record per resident page.  It takes a full scan
// under shared access; the result is a point-in-time snapshot, not a
// consistent cut of concurrent activity.
func (c *Cache) Pages() []PageInfo {
	if c.sizeLimitMB.Load() == 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	c.idx.forEach(func(e *entry) {
		for i := 0; i < BlocksPerChunk; i++ {
			if bitIsSet(e, i) {
				n++
			}
		}
	})
	out := make([]PageInfo, 0, n)
	c.idx.forEach(func(e *entry) {
		for i := 0; i < BlocksPerChunk; i++ {
			if !bitIsSet(e, i) {
				continue
			}
			out = append(out, PageInfo{
				PageOffset:  e.offset*BlocksPerChunk + uint32(i),
				RelNode:     e.key.Rnode.RelNode,
				SpcNode:     e.key.Rnode.SpcNode,
				DbNode:      e.key.Rnode.DbNode,
				ForkNum:     e.key.ForkNum,
				BlockNum:    e.key.BlockNum + uint32(i),
				AccessCount: e.accessCount,
			})
		}
	})
	return out
}
