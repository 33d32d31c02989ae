package server

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"manifold/src/bus"
	"manifold/src/cache"
	"manifold/src/concurrency"
	"manifold/src/logging"
	"manifold/src/metrics"
	"manifold/src/shard"
	"manifold/src/utils"
	"manifold/src/wire"
)

var sendLatency utils.LatencyRing

// MessageP99 returns the p99 of recent frame send durations.
func MessageP99() time.Duration {
	return sendLatency.P99()
}

const (
	// Clients only ever send small control payloads (heartbeats, identify).
	maxInboundFrame = 1 << 16

	// Inbound payload frames per client: sustained 2/s, bursts of 5.
	// Heartbeats arrive roughly every 41 seconds, so anything hitting this
	// is misbehaving.
	inboundRate  = 2
	inboundBurst = 5
)

// heartbeatAck is the op 11 frame answered to client heartbeats.
var heartbeatAck = []byte(`{"t":null,"s":null,"op":11,"d":null}`)

// client is one downstream session. All frame writes go through writeFrame
// so the replay goroutine and the read loop never interleave output.
type client struct {
	shard *shard.Shard
	conn  net.Conn
	br    *bufio.Reader

	writeMu  sync.Mutex
	compress bool
	zw       *zlib.Writer
	zbuf     bytes.Buffer

	limiter *rate.Limiter
	log     *logrus.Entry
}

func newClient(sh *shard.Shard, conn net.Conn, br *bufio.Reader, compress bool, remote string) *client {
	c := &client{
		shard:    sh,
		conn:     conn,
		br:       br,
		compress: compress,
		limiter:  rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		log: logging.Log.WithFields(logrus.Fields{
			"shard":  sh.ID,
			"remote": remote,
		}),
	}
	if compress {
		c.zw = zlib.NewWriter(&c.zbuf)
	}
	return c
}

// run serves the session: wait for the shard to be ready, replay the cached
// world as synthetic READY plus guild frames, then follow the live stream
// with per-client sequence numbers. Returns when the peer disconnects, the
// shard shuts down, or the client falls too far behind.
func (c *client) run() {
	label := strconv.Itoa(c.shard.ID)
	metrics.ClientsConnected.WithLabelValues(label).Inc()
	defer metrics.ClientsConnected.WithLabelValues(label).Dec()
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	concurrency.GoSafe("client-read", func() {
		defer cancel()
		c.readLoop()
	})

	if err := c.shard.Ready.Wait(ctx); err != nil {
		return
	}

	// Subscribe before replaying so events landing mid-replay queue up
	// instead of being missed.
	sub := c.shard.Bus.Subscribe()
	defer sub.Close()

	var seq int64
	ready := c.shard.Cache.BuildReady(c.shard.Ready.Template(), &seq)
	if err := c.sendPayload(ready); err != nil {
		return
	}
	for p := range c.shard.Cache.GuildPayloads(&seq) {
		if err := c.sendPayload(p); err != nil {
			return
		}
	}
	c.log.WithField("events", seq).Debug("replay complete")

	for {
		m, err := sub.Recv(ctx)
		if err != nil {
			var lagged *bus.LaggedError
			switch {
			case errors.As(err, &lagged):
				metrics.ClientsLagged.WithLabelValues(label).Inc()
				c.log.WithField("missed", lagged.Missed).Warn("client lagged, disconnecting")
				c.sendClose(1011, "event stream lagged")
			case errors.Is(err, bus.ErrClosed):
				c.sendClose(1001, "shard shutting down")
			}
			return
		}
		seq++
		frame := rewriteSequence(m.Frame, m.Sequence, seq)
		if err := c.sendFrame(frame); err != nil {
			return
		}
	}
}

// readLoop drains inbound frames: control frames are answered here, payload
// frames carry client opcodes. A malformed or abusive peer ends the session.
func (c *client) readLoop() {
	r := &wsutil.Reader{Source: c.br, State: ws.StateServerSide}
	for {
		hdr, err := r.NextFrame()
		if err != nil {
			return
		}

		if hdr.OpCode.IsControl() {
			if hdr.Length > ws.MaxControlFramePayloadSize {
				return
			}
			payload := make([]byte, hdr.Length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
			switch hdr.OpCode {
			case ws.OpPing:
				if err := c.writeFrame(ws.NewPongFrame(payload)); err != nil {
					return
				}
			case ws.OpClose:
				return
			}
			continue
		}

		if hdr.Length > maxInboundFrame {
			c.sendClose(1009, "frame too large")
			return
		}
		payload, err := io.ReadAll(r)
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.sendClose(1008, "rate limited")
			return
		}
		c.handlePayload(payload)
	}
}

func (c *client) handlePayload(payload []byte) {
	f, err := wire.Scan(payload)
	if err != nil {
		c.log.WithError(err).Debug("unscannable client frame")
		return
	}
	switch f.Op {
	case 1:
		// Heartbeats are answered locally; the real session heartbeats on
		// its own schedule.
		if err := c.sendFrame(heartbeatAck); err != nil {
			c.log.WithError(err).Debug("heartbeat ack failed")
		}
	case 2, 6:
		// The upstream identity is shared; identify and resume are
		// accepted and ignored.
		c.log.WithField("op", f.Op).Debug("client session opcode ignored")
	default:
		c.log.WithField("op", f.Op).Debug("unhandled client opcode")
	}
}

func (c *client) sendPayload(p cache.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.sendFrame(b)
}

// sendFrame writes one logical message, zlib-stream compressed when the
// client asked for it.
func (c *client) sendFrame(b []byte) error {
	start := time.Now()
	defer func() { sendLatency.Record(time.Since(start)) }()

	if !c.compress {
		return c.writeFrame(ws.NewTextFrame(b))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.zw.Write(b); err != nil {
		return err
	}
	// The flush emits the 00 00 ff ff sync marker clients use to delimit
	// messages in the shared stream.
	if err := c.zw.Flush(); err != nil {
		return err
	}
	frame := ws.NewBinaryFrame(c.zbuf.Bytes())
	err := ws.WriteFrame(c.conn, frame)
	c.zbuf.Reset()
	return err
}

func (c *client) writeFrame(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.conn, f)
}

func (c *client) sendClose(code ws.StatusCode, reason string) {
	f := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
	if err := c.writeFrame(f); err == nil {
		// Give the close frame a moment to drain before the TCP teardown.
		_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	}
}

// rewriteSequence splices the client-local sequence number into the frame at
// the span reported by the scanner. Frames without a sequence pass through.
func rewriteSequence(frame []byte, info *wire.SequenceInfo, seq int64) []byte {
	if info == nil {
		return frame
	}
	out := make([]byte, 0, len(frame)+8)
	out = append(out, frame[:info.Start]...)
	out = strconv.AppendInt(out, seq, 10)
	out = append(out, frame[info.End:]...)
	return out
}
