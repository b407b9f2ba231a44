package pagestore

// io.go moves framed messages over a shard stream.  Framing is a 4-byte
// big-endian length followed by the payload, one framed blob per message;
// the codec owns what is inside.
//
// Receive is structured as a non-blocking read retried through the wait-set:
// a short read deadline bounds each individual wait, and cancellation and
// the local wakeup latch are serviced between waits.  Any stream error
// disconnects the shard before the error (or the lost-connection sentinel)
// reaches the caller.
//
// © 2025 pagecache authors. MIT License.

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// maxFrameLen bounds a single message; anything larger is a protocol error.
const maxFrameLen = 16 << 20

func writeFrame(w *bufio.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// recvFrame reads one frame, waiting as long as it takes unless ctx is
// cancelled. io.EOF and connection errors come back unwrapped for the caller
// to map onto disconnect; a bad header is ErrProtocol.
func (sc *shardConn) recvFrame(ctx context.Context) ([]byte, error) {
	var hdr [4]byte
	if err := sc.readFull(ctx, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrProtocol, n)
	}
	payload := make([]byte, n)
	if err := sc.readFull(ctx, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// readFull fills buf, re-checking interrupts after every deadline expiry.
func (sc *shardConn) readFull(ctx context.Context, buf []byte) error {
	got := 0
	for got < len(buf) {
		if err := sc.ws.checkInterrupts(ctx); err != nil {
			return err
		}
		_ = sc.conn.SetReadDeadline(time.Now().Add(waitDeadline))
		n, err := sc.br.Read(buf[got:])
		got += n
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if got > 0 && errors.Is(err, io.EOF) && got < len(buf) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// Send packs and writes one request to the shard's stream, connecting first
// if necessary.  A write failure disconnects the shard and returns
// ErrConnClosed so the caller can decide to retry; running out of reconnect
// attempts or a codec failure is returned as is.
func (c *Client) Send(ctx context.Context, shard int, req Request) error {
	if shard < 0 || shard >= MaxShards {
		return fmt.Errorf("%w: shard %d", ErrShardOutOfRange, shard)
	}

	buf, err := c.codec.PackRequest(req)
	if err != nil {
		return err
	}

	if err := c.ensureConnected(ctx, shard); err != nil {
		return err
	}

	sc := c.conns[shard]
	if err := writeFrame(sc.bw, buf); err != nil {
		c.log.Warn("pagestore: send failed", zap.Int("shard", shard), zap.Error(err))
		c.DisconnectShard(shard)
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	c.metrics.incRequest()
	c.log.Debug("pagestore: sent request", zap.Int("shard", shard), zap.Any("request", req))
	return nil
}

// Receive reads and decodes the next response from the shard.
//
// A lost stream (or no stream at all) yields ErrConnClosed after the shard
// has been disconnected; garbage on the stream yields ErrProtocol, also
// after disconnecting; cancellation disconnects and then propagates.
func (c *Client) Receive(ctx context.Context, shard int) (Response, error) {
	sc := c.conns[shard]
	if sc == nil {
		return nil, ErrConnClosed
	}

	payload, err := sc.recvFrame(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			c.log.Info("pagestore: receive cancelled", zap.Int("shard", shard))
			c.DisconnectShard(shard)
			return nil, err
		case errors.Is(err, ErrProtocol):
			c.DisconnectShard(shard)
			return nil, err
		default:
			c.log.Warn("pagestore: receive failed", zap.Int("shard", shard), zap.Error(err))
			c.DisconnectShard(shard)
			return nil, fmt.Errorf("%w: %v", ErrConnClosed, err)
		}
	}

	resp, err := c.codec.UnpackResponse(payload)
	if err != nil {
		c.DisconnectShard(shard)
		return nil, err
	}
	c.log.Debug("pagestore: got response", zap.Int("shard", shard), zap.Any("response", resp))
	return resp, nil
}

// Flush pushes buffered request bytes to the wire. Any error disconnects the
// shard.
func (c *Client) Flush(shard int) error {
	sc := c.conns[shard]
	if sc == nil {
		c.log.Warn("pagestore: tried to flush while disconnected", zap.Int("shard", shard))
		return nil
	}
	if err := sc.bw.Flush(); err != nil {
		c.log.Warn("pagestore: flush failed", zap.Int("shard", shard), zap.Error(err))
		c.DisconnectShard(shard)
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return nil
}
