package extchannel

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

type client struct {
	hub  *Hub
	id   string
	conn *websocket.Conn
	log  *zap.Logger

	send     chan []byte
	lastSeen atomic.Int64
}

func newClient(h *Hub, id string, conn *websocket.Conn) *client {
	c := &client{
		hub:  h,
		id:   id,
		conn: conn,
		log:  h.log.With(zap.String("client", id)),
		send: make(chan []byte, h.opts.SendQueue),
	}
	c.touch()
	return c
}

func (c *client) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *client) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// enqueue never blocks; a full queue drops the frame.
func (c *client) enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		c.log.Warn("outbound queue full, dropping frame")
		return false
	}
}

// run serves the connection until it fails, times out or parent is done.
func (c *client) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.conn.CloseNow()

	go c.writeLoop(ctx, cancel)
	go c.heartbeat(ctx, cancel)
	c.readLoop(ctx)
}

func (c *client) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				c.log.Debug("read ended", zap.Error(err))
			}
			return
		}
		c.touch()
		if typ != websocket.MessageText {
			c.log.Warn("dropping binary frame", zap.Int("bytes", len(data)))
			continue
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	m, err := parseMessage(data)
	if err != nil {
		c.log.Warn("dropping frame", zap.Error(err))
		return
	}
	switch m.Type {
	case TypePing:
		c.enqueue([]byte(`{"type":"pong"}`))
	case TypePong:
	case TypeResponse:
		c.hub.resolve(m)
	case TypeEvent:
		c.log.Debug("extension event", zap.String("event", m.Name))
	case TypeRequest:
		c.log.Debug("ignoring extension request", zap.String("method", m.Method), zap.String("id", m.ID))
	}
}

func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, b)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.log.Warn("write failed", zap.Error(err))
				}
				cancel()
				return
			}
		}
	}
}

// heartbeat pings on every tick and drops the connection once nothing has
// been heard from the peer for longer than the client timeout.
func (c *client) heartbeat(ctx context.Context, cancel context.CancelFunc) {
	interval := c.hub.opts.HeartbeatInterval
	timeout := c.hub.opts.ClientTimeout
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if idle := c.idle(); idle > timeout {
			c.log.Info("heartbeat timeout", zap.Duration("idle", idle))
			cancel()
			c.conn.CloseNow()
			return
		}
		pctx, pcancel := context.WithTimeout(ctx, interval)
		err := c.conn.Ping(pctx)
		pcancel()
		if err == nil {
			c.touch()
		}
	}
}
