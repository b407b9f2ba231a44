package pagestore

// conn.go owns the per-shard connection lifecycle: backoff, dial, the
// pagestream handshake, and the wait-set the connection is paired with.  A
// connection and its wait-set are created and destroyed together.
//
// Connect protocol: enforce the backoff, open the stream, send the
// "pagestream <tenant> <timeline>" command, then wait for the server to
// accept it, honoring cancellation between waits.  Failures below the
// reconnect budget are logged and retried by the caller; at the budget the
// failure is fatal.
//
// © 2025 pagecache authors. MIT License.

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
)

// waitDeadline is the slice of time a blocked read waits before re-checking
// the latch and the cancellation state. The wait as a whole is unbounded.
const waitDeadline = 50 * time.Millisecond

// waitSet couples a stream with the client's local wakeup latch.  Waits
// return when the stream may be readable, the latch fired, or ctx is done;
// callers re-check their condition after every return, the same way a
// poll-loop re-checks after a wakeup.
type waitSet struct {
	conn  net.Conn
	latch chan struct{}
}

// checkInterrupts services cancellation and drains a pending latch wakeup.
func (w *waitSet) checkInterrupts(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.latch:
		return nil
	default:
		return nil
	}
}

// shardConn is one established shard connection plus its wait-set.  A
// connection in a bad state never lingers: every I/O error disconnects the
// shard on the spot, so a non-nil shardConn is always worth writing to.
type shardConn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	ws   *waitSet
}

func (sc *shardConn) close() {
	_ = sc.conn.Close()
	sc.ws = nil
}

// handshakeAck is the frame the server answers a pagestream command with.
const handshakeAck = "ok"

// connectShard performs a single connect attempt and installs the connection
// on success.
func (c *Client) connectShard(ctx context.Context, shard int) error {
	// Enforce the backoff: rapid successive attempts sleep an exponentially
	// growing delay; a quiet period resets it.
	now := time.Now()
	if now.Sub(c.lastConnect) < c.maxBackoff {
		if err := sleepCtx(ctx, c.delay); err != nil {
			return err
		}
		c.delay *= 2
		if c.delay > c.maxBackoff {
			c.delay = c.maxBackoff
		}
	} else {
		c.delay = c.minBackoff
	}

	connstr, _, err := c.loadShardMap(shard, true)
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx, connstr)
	c.lastConnect = time.Now()
	if err != nil {
		return fmt.Errorf("shard %d: could not establish connection to pageserver: %w", shard, err)
	}

	sc := &shardConn{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
		ws:   &waitSet{conn: conn, latch: c.latch},
	}

	// The handshake command, with the out-of-band password on a second line
	// when one is configured.
	cmd := fmt.Sprintf("pagestream %s %s", c.cfg.TenantID, c.cfg.TimelineID)
	if c.cfg.AuthToken != "" {
		cmd += "\n" + c.cfg.AuthToken
	}
	err = writeFrame(sc.bw, []byte(cmd))
	if err == nil {
		err = sc.bw.Flush()
	}
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("shard %d: could not send pagestream command: %w", shard, err)
	}

	// Wait for the server to accept the stream.
	ack, err := sc.recvFrame(ctx)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("shard %d: could not complete handshake: %w", shard, err)
	}
	if string(ack) != handshakeAck {
		_ = conn.Close()
		return fmt.Errorf("%w: shard %d: unexpected handshake reply %q", ErrProtocol, shard, ack)
	}

	c.log.Info("pagestore: connected", zap.Int("shard", shard), zap.String("addr", connstr))
	c.conns[shard] = sc
	c.metrics.incConnect()
	return nil
}

// ensureConnected dials the shard if needed, retrying with backoff up to the
// reconnect budget. A success resets the budget.
func (c *Client) ensureConnected(ctx context.Context, shard int) error {
	for c.conns[shard] == nil {
		err := c.connectShard(ctx, shard)
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrShardOutOfRange) || errors.Is(err, ErrProtocol) {
			return err
		}
		c.nReconnect++
		if c.nReconnect > c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("%w: shard %d: %v", ErrReconnectBudget, shard, err)
		}
		c.log.Warn("pagestore: connect failed, will retry",
			zap.Int("shard", shard),
			zap.Int("attempt", c.nReconnect),
			zap.Error(err))
	}
	c.nReconnect = 0
	return nil
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isTimeout reports whether err is a read-deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout() || errors.Is(err, os.ErrDeadlineExceeded)
}
