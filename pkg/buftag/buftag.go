// Package buftag defines the block identity shared by the local file cache
// and the page-store client: which relation a page belongs to, which fork of
// that relation, and the block number within the fork.
//
// The tag is a plain value type so it can be used as a hash key, copied into
// wire messages and compared with ==.
//
// © 2025 pagecache authors. MIT License.
package buftag

import (
	"encoding/binary"
	"fmt"
)

// ForkNumber identifies a fork of a relation.
type ForkNumber uint8

const (
	MainFork ForkNumber = iota
	FSMFork
	VisibilityMapFork
	InitFork
)

// RelFileNode identifies a relation on disk.
type RelFileNode struct {
	SpcNode uint32 // tablespace
	DbNode  uint32 // database
	RelNode uint32 // relation
}

// Tag is the full identity of one database block.
type Tag struct {
	Rnode    RelFileNode
	ForkNum  ForkNumber
	BlockNum uint32
}

// EncodedLen is the size of a tag in its wire encoding.
const EncodedLen = 17

// Encode writes the tag in a fixed little-endian layout into b, which must be
// at least EncodedLen bytes long. The layout is stable: it is used both as a
// wire format and as hash input.
func (t Tag) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], t.Rnode.SpcNode)
	binary.LittleEndian.PutUint32(b[4:], t.Rnode.DbNode)
	binary.LittleEndian.PutUint32(b[8:], t.Rnode.RelNode)
	b[12] = byte(t.ForkNum)
	binary.LittleEndian.PutUint32(b[13:], t.BlockNum)
}

// DecodeTag is the inverse of Encode.
func DecodeTag(b []byte) Tag {
	return Tag{
		Rnode: RelFileNode{
			SpcNode: binary.LittleEndian.Uint32(b[0:]),
			DbNode:  binary.LittleEndian.Uint32(b[4:]),
			RelNode: binary.LittleEndian.Uint32(b[8:]),
		},
		ForkNum:  ForkNumber(b[12]),
		BlockNum: binary.LittleEndian.Uint32(b[13:]),
	}
}

func (t Tag) String() string {
	return fmt.Sprintf("%d/%d/%d.%d blk %d",
		t.Rnode.SpcNode, t.Rnode.DbNode, t.Rnode.RelNode, t.ForkNum, t.BlockNum)
}
