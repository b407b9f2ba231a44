package pagestore

// Error values surfaced by the shard client.  Connection-level failures are
// retried internally during connect; everything else is cleaned up (the shard
// is disconnected) before the error propagates.
//
// © 2025 pagecache authors. MIT License.

import "errors"

var (
	// ErrShardOutOfRange: the caller asked for a shard index not present in
	// the current shard map.
	ErrShardOutOfRange = errors.New("pagestore: shard index out of range")

	// ErrConnClosed: the stream was lost (peer closed or I/O error) or no
	// stream exists. The shard has already been disconnected.
	ErrConnClosed = errors.New("pagestore: connection closed")

	// ErrProtocol: the stream delivered something the framing or codec could
	// not make sense of. Fatal; the shard has been disconnected.
	ErrProtocol = errors.New("pagestore: protocol error")

	// ErrReconnectBudget: consecutive connect failures exceeded
	// max_reconnect_attempts.
	ErrReconnectBudget = errors.New("pagestore: too many reconnect attempts")
)
