package pagestore

// shardmap.go keeps the per-shard connection strings in a form that one
// privileged writer (the supervising process) can update and any number of
// readers can copy without taking a lock.  The supervisor cannot take the
// readers' locks, so the map is protected by a seqlock: readers retry their
// copy until they observe a quiescent counter pair.
//
// A reader-side client remembers the generation it last observed; when the
// generation moves, every open shard connection is closed because the old
// addresses are no longer authoritative (client.go).
//
// © 2025 pagecache authors. MIT License.

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Voskan/pagecache/internal/seqlock"
)

const (
	// MaxShards bounds the shard map and the per-client connection table.
	MaxShards = 128

	// MaxConnstringLen bounds one connection string, including its
	// terminator slot in the fixed array.
	MaxConnstringLen = 256
)

// ShardMap is the shared map from shard number to connection string.
// Construct with NewShardMap; share one instance between the supervisor and
// all clients of a node.
type ShardMap struct {
	seq        seqlock.Seq
	numShards  uint32
	connstring [MaxShards][MaxConnstringLen]byte
}

// NewShardMap returns an empty map (zero shards).
func NewShardMap() *ShardMap { return &ShardMap{} }

// ParseConnstring splits a comma-separated connection-string list and
// validates it against the map bounds. A trailing comma is ignored.
func ParseConnstring(s string) ([]string, error) {
	var out []string
	parts := strings.Split(s, ",")
	for i, part := range parts {
		if part == "" && i == len(parts)-1 {
			break // trailing comma
		}
		if len(out) >= MaxShards {
			return nil, fmt.Errorf("pagestore: too many shards")
		}
		if len(part) >= MaxConnstringLen {
			return nil, fmt.Errorf("pagestore: connection string too long")
		}
		out = append(out, part)
	}
	return out, nil
}

// Assign parses connstr and installs it as the new map.  Only the supervisor
// may call it.  Installing a value equal to the current one is a no-op, so
// readers are not forced to reconnect on spurious reloads.
func (m *ShardMap) Assign(connstr string) error {
	shards, err := ParseConnstring(connstr)
	if err != nil {
		return err
	}
	var next [MaxShards][MaxConnstringLen]byte
	for i, s := range shards {
		copy(next[i][:], s)
	}
	if uint32(len(shards)) == m.numShards {
		same := true
		for i := range next {
			if !bytes.Equal(next[i][:], m.connstring[i][:]) {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}

	m.seq.BeginWrite()
	m.numShards = uint32(len(shards))
	m.connstring = next
	m.seq.EndWrite()
	return nil
}

// read copies out the shard count and, for a valid shard index, its
// connection string, retrying until the copy is consistent. It returns the
// generation token of the observed state.
func (m *ShardMap) read(shard int) (num int, connstr string, gen uint64) {
	var n uint32
	var raw [MaxConnstringLen]byte
	gen = m.seq.Read(func() {
		n = m.numShards
		if shard >= 0 && shard < MaxShards {
			raw = m.connstring[shard]
		}
	})
	if i := bytes.IndexByte(raw[:], 0); i >= 0 {
		connstr = string(raw[:i])
	} else {
		connstr = string(raw[:])
	}
	return int(n), connstr, gen
}

// NumShards returns the current shard count.
func (m *ShardMap) NumShards() int {
	n, _, _ := m.read(-1)
	return n
}

// Generation returns the current map generation without copying the map.
func (m *ShardMap) Generation() uint64 { return m.seq.Generation() }
