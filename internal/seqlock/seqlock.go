// Package seqlock implements the paired-counter read protocol used for the
// shard map: one writer that can never take the readers' locks, any number of
// lock-free readers.
//
// The writer brackets each update with Begin/End, bumping one counter before
// mutating and the other after.  A reader snapshots both counters, copies out
// the fields it needs, and retries if the counters were unequal or moved
// during the copy.  Retries are unbounded in theory but bounded in practice
// by writer frequency (reconfiguration is rare).
//
// All counter accesses go through sync/atomic, which gives the required
// acquire/release ordering without explicit fences.
//
// © 2025 pagecache authors. MIT License.
package seqlock

import "sync/atomic"

// Seq is the counter pair. The zero value is ready to use.
type Seq struct {
	begin atomic.Uint64
	end   atomic.Uint64
}

// BeginWrite marks the start of an update. Only the single writer may call it.
func (s *Seq) BeginWrite() { s.begin.Add(1) }

// EndWrite marks the end of an update.
func (s *Seq) EndWrite() { s.end.Add(1) }

// Read runs copy until it observes a quiescent counter pair, then returns the
// generation token of the observed state.  copy must only read the protected
// fields into caller-local storage; it may run over a torn state and must not
// act on what it copied until Read returns.
func (s *Seq) Read(copy func()) uint64 {
	for {
		b := s.begin.Load()
		e := s.end.Load()
		copy()
		if b == e && b == s.begin.Load() && e == s.end.Load() {
			return e
		}
	}
}

// Generation returns the current end counter without reading protected state.
func (s *Seq) Generation() uint64 { return s.end.Load() }
