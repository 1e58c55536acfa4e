// Package extchannel keeps persistent WebSocket connections to editor
// extensions and pushes remote calls and events to them.
package extchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// ErrNoConnections is returned by Call when no extension is connected.
var ErrNoConnections = errors.New("no extension connected")

// ReplyError is an error reported by the extension in its reply.
type ReplyError struct {
	Method  string
	Message string
}

func (e *ReplyError) Error() string { return e.Method + ": " + e.Message }

// Default heartbeat settings.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultClientTimeout     = 10 * time.Second
)

const (
	defaultSendQueue = 64
	writeTimeout     = 5 * time.Second
	readLimit        = 1 << 20
)

// Options tunes a Hub. Zero values take defaults.
type Options struct {
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	SendQueue         int
	OriginPatterns    []string
}

// Reply is an extension's answer to a Call.
type Reply struct {
	Result json.RawMessage
	Error  string
}

// Hub is the registry of live extension connections.
type Hub struct {
	log  *zap.Logger
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	pendMu  sync.Mutex
	pending map[string]chan Reply
}

// NewHub constructs a hub. Call Close on shutdown.
func NewHub(log *zap.Logger, opts Options) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = DefaultClientTimeout
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = defaultSendQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:     log,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*client),
		pending: make(map[string]chan Reply),
	}
}

// ServeHTTP upgrades the request and serves the connection until it ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.log.Warn("websocket accept failed", zap.Error(err), zap.String("peer", r.RemoteAddr))
		return
	}
	conn.SetReadLimit(readLimit)

	c := newClient(h, uuid.Must(uuid.NewV4()).String(), conn)
	if !h.register(c) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.wg.Done()
	defer h.unregister(c.id)

	c.run(h.ctx)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.wg.Add(1)
	h.log.Info("extension connected", zap.String("client", c.id), zap.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; !ok {
		return
	}
	delete(h.clients, id)
	h.log.Info("extension disconnected", zap.String("client", id), zap.Int("clients", len(h.clients)))
}

// HasConnections reports whether any extension is connected.
func (h *Hub) HasConnections() bool { return h.Count() > 0 }

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues one frame to every connection and returns how many accepted it.
func (h *Hub) broadcast(m Message) (int, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.enqueue(b) {
			n++
		}
	}
	return n, nil
}

// Notify sends a request with a fresh id to every extension without waiting
// for replies. It returns the number of connections the request was queued on.
func (h *Hub) Notify(method string, params any) int {
	n, _, err := h.sendRequest(method, params)
	if err != nil {
		h.log.Error("notify failed", zap.String("method", method), zap.Error(err))
		return 0
	}
	h.log.Info("notified extensions", zap.String("method", method), zap.Int("clients", n))
	return n
}

// BroadcastEvent sends a one-way event to every extension.
func (h *Hub) BroadcastEvent(name string, data any) int {
	raw, err := rawJSON(data, "null")
	if err != nil {
		h.log.Error("event encode failed", zap.String("event", name), zap.Error(err))
		return 0
	}
	n, err := h.broadcast(Message{Type: TypeEvent, Name: name, Data: raw})
	if err != nil {
		h.log.Error("event broadcast failed", zap.String("event", name), zap.Error(err))
		return 0
	}
	return n
}

// Call sends a request to every extension and waits for the first reply
// carrying its id, bounded by ctx.
func (h *Hub) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.Must(uuid.NewV4()).String()
	ch := make(chan Reply, 1)
	h.pendMu.Lock()
	h.pending[id] = ch
	h.pendMu.Unlock()
	defer func() {
		h.pendMu.Lock()
		delete(h.pending, id)
		h.pendMu.Unlock()
	}()

	n, err := h.sendRequestWithID(id, method, params)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoConnections
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rep := <-ch:
		if rep.Error != "" {
			return nil, &ReplyError{Method: method, Message: rep.Error}
		}
		return rep.Result, nil
	}
}

func (h *Hub) sendRequest(method string, params any) (int, string, error) {
	id := uuid.Must(uuid.NewV4()).String()
	n, err := h.sendRequestWithID(id, method, params)
	return n, id, err
}

func (h *Hub) sendRequestWithID(id, method string, params any) (int, error) {
	raw, err := rawJSON(params, "{}")
	if err != nil {
		return 0, fmt.Errorf("encode params: %w", err)
	}
	return h.broadcast(Message{Type: TypeRequest, ID: id, Method: method, Params: raw})
}

// resolve hands a response to a waiting Call. Responses nobody waits for are
// only logged.
func (h *Hub) resolve(m Message) {
	rep := Reply{Result: m.Result}
	if m.Error != nil {
		rep.Error = *m.Error
	}
	h.pendMu.Lock()
	ch, ok := h.pending[m.ID]
	if ok {
		delete(h.pending, m.ID)
	}
	h.pendMu.Unlock()
	if !ok {
		h.log.Debug("uncorrelated rpc response", zap.String("id", m.ID), zap.String("error", rep.Error))
		return
	}
	ch <- rep
}

// Close disconnects every extension and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}
