// Package reader is the storage-manager-facing facade: it serves page reads
// from the local file cache when possible and fetches from the owning shard
// otherwise, filling the cache on the way back.
//
// Concurrent requests for the same missing page are de-duplicated with
// singleflight so only one fetch hits the wire — the same thundering-herd
// guard the cache's ancestors use for their loaders.  The page-store client
// itself is single-consumer, so all wire activity is serialised behind one
// mutex.
//
// © 2025 pagecache authors. MIT License.
package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Voskan/pagecache/pkg/buftag"
	"github.com/Voskan/pagecache/pkg/lfc"
	"github.com/Voskan/pagecache/pkg/pagestore"
)

// Reader serves pages cache-first.
type Reader struct {
	cache  *lfc.Cache
	client *pagestore.Client

	group singleflight.Group

	// clientMu serialises wire access: the stream protocol is pipelined but
	// single-consumer.
	clientMu sync.Mutex

	log *zap.Logger
}

// Option is a functional option for New.
type Option func(*Reader)

// WithLogger plugs an external zap.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}

// New builds a reader over the cache and client.
func New(cache *lfc.Cache, client *pagestore.Client, opts ...Option) *Reader {
	r := &Reader{
		cache:  cache,
		client: client,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func tagKey(tag buftag.Tag) string {
	var b [buftag.EncodedLen]byte
	tag.Encode(b[:])
	return string(b[:])
}

// ReadPage copies the page identified by tag into buf (one page long). It
// returns nil on success whether the page came from the cache or the wire.
func (r *Reader) ReadPage(ctx context.Context, tag buftag.Tag, buf []byte) error {
	if len(buf) < lfc.PageSize {
		return fmt.Errorf("reader: buffer of %d bytes is smaller than a page", len(buf))
	}
	if r.cache.Read(tag, buf) {
		return nil
	}

	v, err, _ := r.group.Do(tagKey(tag), func() (any, error) {
		page, err := r.fetch(ctx, tag)
		if err != nil {
			return nil, err
		}
		r.cache.Write(tag, page)
		return page, nil
	})
	if err != nil {
		return err
	}
	copy(buf, v.([]byte))
	return nil
}

// fetch performs one request/response round trip, retrying once when the
// stream was found dead under us (the send path reconnects).
func (r *Reader) fetch(ctx context.Context, tag buftag.Tag) ([]byte, error) {
	r.clientMu.Lock()
	defer r.clientMu.Unlock()

	shard, err := r.client.ShardOf(tag)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if err := r.client.Send(ctx, shard, &pagestore.GetPageRequest{Tag: tag}); err != nil {
			if errors.Is(err, pagestore.ErrConnClosed) && attempt == 0 {
				continue
			}
			return nil, err
		}
		// A synchronous read needs the response now, so every round trip
		// flushes. The flush_output_after batching threshold only applies
		// to pipelined prefetch traffic, which lives outside this module.
		if err := r.client.Flush(shard); err != nil {
			if attempt == 0 {
				continue
			}
			return nil, err
		}

		resp, err := r.client.Receive(ctx, shard)
		if err != nil {
			if errors.Is(err, pagestore.ErrConnClosed) && attempt == 0 {
				r.log.Warn("reader: connection lost mid-request, retrying",
					zap.Int("shard", shard))
				continue
			}
			return nil, err
		}
		switch m := resp.(type) {
		case *pagestore.PageResponse:
			return m.Page, nil
		case *pagestore.ErrorResponse:
			return nil, fmt.Errorf("reader: pageserver error: %s", m.Message)
		default:
			r.client.DisconnectShard(shard)
			return nil, fmt.Errorf("%w: unexpected response %T", pagestore.ErrProtocol, resp)
		}
	}
}
