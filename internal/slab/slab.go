// Package slab owns the contiguous mapped region that backs the local file
// cache.  The region is carved into fixed 1 MiB chunks of 128 database pages
// each; the cache core hands out chunk slots and the slab resolves
// (chunk, page) pairs to byte slices over the mapping.
//
// Releasing a chunk is a hole punch: the OS is told to drop the physical
// backing for exactly that chunk range while the mapping itself stays intact.
// The whole region is punched once at bring-up so an idle cache commits no
// memory.
//
// The slab itself is not synchronised.  Callers access chunk bytes without
// holding the cache lock, which is safe only while the owning entry is
// pinned; that discipline lives in pkg/lfc.
//
// © 2025 pagecache authors. MIT License.
package slab

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// PageSize is the size of one database block.
	PageSize = 8192

	// BlocksPerChunk is the number of pages per allocation chunk. Power of
	// two, not less than 32: large chunks keep the entry index small and give
	// sequential scans locality.
	BlocksPerChunk = 128

	// ChunkSize is the byte size of one chunk (1 MiB).
	ChunkSize = BlocksPerChunk * PageSize
)

// Slab is the mapped region.  A zero-capacity slab is valid and maps nothing,
// matching a disabled cache.
type Slab struct {
	mem      []byte
	capacity uint32 // in chunks
}

// New maps a region of capacityChunks chunks and punches it empty.
func New(capacityChunks uint32) (*Slab, error) {
	if capacityChunks == 0 {
		return &Slab{}, nil
	}
	mem, err := unix.Mmap(-1, 0, int(capacityChunks)*ChunkSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("slab: mmap %d chunks: %w", capacityChunks, err)
	}
	s := &Slab{mem: mem, capacity: capacityChunks}
	if err := s.PunchAll(); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	return s, nil
}

// Capacity returns the slab size in chunks.
func (s *Slab) Capacity() uint32 { return s.capacity }

// Page returns the one-page slice for page pageno of chunk chunk.  The slice
// aliases the mapping; the caller must hold a pin on the owning entry for as
// long as it reads or writes through it.
func (s *Slab) Page(chunk uint32, pageno int) []byte {
	off := int(chunk)*ChunkSize + pageno*PageSize
	return s.mem[off : off+PageSize : off+PageSize]
}

// Punch drops the physical backing of one chunk.
func (s *Slab) Punch(chunk uint32) error {
	off := int(chunk) * ChunkSize
	return punch(s.mem[off : off+ChunkSize])
}

// PunchAll drops the backing of the entire region.
func (s *Slab) PunchAll() error {
	if s.capacity == 0 {
		return nil
	}
	return punch(s.mem)
}

// Close unmaps the region. The slab must not be used afterwards.
func (s *Slab) Close() error {
	if s.mem == nil {
		return nil
	}
	mem := s.mem
	s.mem = nil
	return unix.Munmap(mem)
}
