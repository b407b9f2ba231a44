// Package pagestore implements the client side of the page-store protocol:
// one streaming connection per shard, a lock-free shared shard map, and
// send/receive/flush over framed messages with reconnect and backoff.
//
// A Client belongs to a single worker: the protocol is a pipelined stream
// with a single consumer, so requests on one shard are FIFO and nothing
// multiplexes concurrent requesters onto one connection.  Use one Client per
// worker; they can all share one ShardMap.
//
// © 2025 pagecache authors. MIT License.
package pagestore

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/pagecache/pkg/buftag"
)

// AuthTokenEnv is the environment variable holding the out-of-band
// connection password.
const AuthTokenEnv = "NEON_AUTH_TOKEN"

// Reconnect backoff bounds.
const (
	minReconnectInterval = time.Millisecond
	maxReconnectInterval = time.Second
)

// Config carries the client knobs. Names mirror the node configuration
// surface.
type Config struct {
	// TenantID and TimelineID identify the served timeline; 16-byte hex
	// strings, sent in the stream handshake.
	TenantID   string
	TimelineID string

	// StripeSize is the number of blocks per shard-router stripe.
	// Default 32768.
	StripeSize uint32

	// MaxReconnectAttempts is the number of consecutive connect failures
	// tolerated before the failure is surfaced to the caller. Default 60.
	MaxReconnectAttempts int

	// FlushOutputAfter forces a flush after this many unflushed requests.
	// Default 8. Like ReadaheadBufferSize it is carried for the prefetch
	// subsystem, which is the only producer of unflushed request bursts.
	FlushOutputAfter int

	// ReadaheadBufferSize is the size of the external prefetch ring,
	// 16..1024. Default 128. Carried for the prefetch subsystem; the client
	// itself only validates it.
	ReadaheadBufferSize int

	// AuthToken is the connection password. When empty it is taken from the
	// NEON_AUTH_TOKEN environment variable.
	AuthToken string
}

func (c Config) normalize() (Config, error) {
	if err := checkHexID("tenant_id", c.TenantID); err != nil {
		return c, err
	}
	if err := checkHexID("timeline_id", c.TimelineID); err != nil {
		return c, err
	}
	if c.StripeSize == 0 {
		c.StripeSize = 32768
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 60
	}
	if c.FlushOutputAfter == 0 {
		c.FlushOutputAfter = 8
	}
	if c.ReadaheadBufferSize == 0 {
		c.ReadaheadBufferSize = 128
	}
	if c.ReadaheadBufferSize < 16 || c.ReadaheadBufferSize > 1024 {
		return c, fmt.Errorf("pagestore: readahead_buffer_size %d out of range 16..1024", c.ReadaheadBufferSize)
	}
	if c.AuthToken == "" {
		c.AuthToken = os.Getenv(AuthTokenEnv)
	}
	return c, nil
}

// checkHexID validates a 16-byte hex identifier; empty is allowed.
func checkHexID(name, v string) error {
	if v == "" {
		return nil
	}
	b, err := hex.DecodeString(v)
	if err != nil || len(b) != 16 {
		return fmt.Errorf("pagestore: %s is not a 16-byte hex string", name)
	}
	return nil
}

// DialFunc opens a stream to a shard address.
type DialFunc func(ctx context.Context, connstr string) (net.Conn, error)

// PrefetchResetFunc drops all outstanding prefetch requests across all
// shards. It runs on every shard disconnect because request/response
// alignment is lost once any one stream resets.
type PrefetchResetFunc func()

// ClientOption is a functional option for New.
type ClientOption func(*Client)

// WithLogger plugs an external zap.Logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDialer overrides how shard streams are opened. The default dials TCP
// with the connection string as the address.
func WithDialer(d DialFunc) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithCodec substitutes the wire codec.
func WithCodec(codec Codec) ClientOption {
	return func(c *Client) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithPrefetchReset registers the prefetch-queue invalidation hook.
func WithPrefetchReset(fn PrefetchResetFunc) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.prefetchReset = fn
		}
	}
}

// WithMetrics enables Prometheus metrics collection for the client.
func WithMetrics(reg *prometheus.Registry) ClientOption {
	return func(c *Client) { c.metrics = newClientMetrics(reg) }
}

// WithBackoff overrides the reconnect backoff bounds; tests shrink them.
func WithBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// Client is a per-worker page-store client.
type Client struct {
	cfg      Config
	shardMap *ShardMap

	// lastGen is the shard-map generation this client last acted on. A
	// different observed generation means the map changed and every open
	// connection must be dropped.
	lastGen uint64

	conns [MaxShards]*shardConn

	codec         Codec
	dial          DialFunc
	prefetchReset PrefetchResetFunc

	// latch is the local wakeup: Wakeup makes any in-progress network wait
	// re-check its conditions.
	latch chan struct{}

	// connect backoff and budget state.
	nReconnect  int
	lastConnect time.Time
	delay       time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration

	log     *zap.Logger
	metrics clientMetricsSink
}

// New builds a client over the given shard map.
func New(shardMap *ShardMap, cfg Config, opts ...ClientOption) (*Client, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:           cfg,
		shardMap:      shardMap,
		lastGen:       shardMap.Generation(),
		codec:         BinaryCodec{},
		dial:          dialTCP,
		prefetchReset: func() {},
		latch:         make(chan struct{}, 1),
		minBackoff:    minReconnectInterval,
		maxBackoff:    maxReconnectInterval,
		log:           zap.NewNop(),
		metrics:       noopClientMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func dialTCP(ctx context.Context, connstr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", connstr)
}

// Config returns the normalized configuration.
func (c *Client) Config() Config { return c.cfg }

// Wakeup interrupts a blocked network wait so it re-checks its conditions.
// Safe to call from any goroutine.
func (c *Client) Wakeup() {
	select {
	case c.latch <- struct{}{}:
	default:
	}
}

// loadShardMap copies the needed fields out of the shared map.  If the map
// generation moved since this client last looked, all open shard connections
// are closed as a side effect: the old addresses are no longer trusted.
func (c *Client) loadShardMap(shard int, needConnstr bool) (connstr string, numShards int, err error) {
	numShards, connstr, gen := c.shardMap.read(shard)

	if gen != c.lastGen {
		c.log.Info("pagestore: shard map changed, dropping all connections")
		for i := range c.conns {
			if c.conns[i] != nil {
				c.DisconnectShard(i)
			}
		}
		c.lastGen = gen
	}

	if needConnstr && (shard < 0 || shard >= numShards) {
		return "", numShards, fmt.Errorf("%w: shard %d of %d", ErrShardOutOfRange, shard, numShards)
	}
	return connstr, numShards, nil
}

// ShardOf returns the shard owning the given block.
func (c *Client) ShardOf(tag buftag.Tag) (int, error) {
	_, numShards, err := c.loadShardMap(0, false)
	if err != nil {
		return 0, err
	}
	if numShards == 0 {
		return 0, fmt.Errorf("%w: shard map is empty", ErrShardOutOfRange)
	}
	return shardIndex(tag, numShards, c.cfg.StripeSize), nil
}

// NumShards returns the current shard count, applying the same
// change-detection side effect as any other map access.
func (c *Client) NumShards() int {
	_, n, _ := c.loadShardMap(0, false)
	return n
}

// DisconnectShard resets the prefetch queue and frees the shard's stream and
// wait-set.  The prefetch queue is dropped even when no stream is open:
// prefetch requests may be registered before the connection is established,
// and outstanding prefetches on other shards lose their alignment too.
func (c *Client) DisconnectShard(shard int) {
	c.prefetchReset()
	sc := c.conns[shard]
	if sc == nil {
		return
	}
	c.log.Info("pagestore: dropping connection to page server",
		zap.Int("shard", shard))
	sc.close()
	c.conns[shard] = nil
	c.metrics.incDisconnect()
}

// Close drops every open connection.
func (c *Client) Close() {
	for i := range c.conns {
		if c.conns[i] != nil {
			c.DisconnectShard(i)
		}
	}
}
