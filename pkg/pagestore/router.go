package pagestore

// router.go maps a block identity to the shard that owns it.  Blocks are
// striped across shards: the relation identity and the block's stripe number
// are hashed independently and combined, so a resharding only moves whole
// stripes.
//
// © 2025 pagecache authors. MIT License.

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/Voskan/pagecache/pkg/buftag"
)

// hash32 applies the stable 32-bit mix to a little-endian uint32.
func hash32(v uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return murmur3.Sum32(b[:])
}

// hashCombine folds b into a, boost-style.
func hashCombine(a, b uint32) uint32 {
	return a ^ (b + 0x9e3779b9 + (a << 6) + (a >> 2))
}

// shardIndex computes the owning shard for a tag given the shard count and
// stripe size. Deterministic across runs and processes.
func shardIndex(tag buftag.Tag, numShards int, stripeSize uint32) int {
	h := hash32(tag.Rnode.RelNode)
	h = hashCombine(h, hash32(tag.BlockNum/stripeSize))
	return int(h % uint32(numShards))
}
