package api

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-kg/internal/kg"
)

// Event stream message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every event channel.
	WSChannelAll = "*"

	// wsSendBufferSize is how many events may wait for one client before
	// further events to it are dropped.
	wsSendBufferSize = 256
)

// eventChannels are the channels a client may subscribe to: the engine's
// device lifecycle events and the wildcard.
var eventChannels = map[string]struct{}{
	kg.EventDeviceCreated:    {},
	kg.EventDeviceIntegrated: {},
	kg.EventDeviceRetired:    {},
	WSChannelAll:             {},
}

// WSMessage is one frame of the event stream, in either direction.
//
// Events carry Seq, which increases by one per broadcast across all
// channels. A gap tells a client it was too slow and missed events.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans engine events out to event stream clients. It implements
// kg.EventBroadcaster and never blocks the engine.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// WSClient is one connected event stream consumer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

// Origins are enforced by the CORS middleware in front of the route.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := slices.Collect(maps.Keys(h.clients))
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
	if len(clients) > 0 {
		h.logger.Debug("event stream closed", "clients", len(clients))
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event stream client joined", "clients", n)
}

// Unregister removes a client and closes its send channel. Calling it
// again, or after Run has returned, is a no-op.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	close(c.send)
	h.logger.Debug("event stream client left", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many event deliveries were skipped because a
// client's send buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Broadcast sends an event to every client subscribed to channel. A
// client whose buffer is full misses the event. The hub lock is released
// before client locks are taken.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := slices.Collect(maps.Keys(h.clients))
	h.mu.RUnlock()

	sent, dropped := 0, 0
	for _, c := range clients {
		switch {
		case !c.isSubscribed(channel):
		case c.trySend(data):
			sent++
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.dropped.Add(uint64(dropped))
		h.logger.Warn("event dropped for slow websocket clients", "channel", channel, "seq", msg.Seq, "clients", dropped)
	}
	if sent > 0 {
		h.logger.Debug("event broadcast", "channel", channel, "seq", msg.Seq, "recipients", sent)
	}
}

// handleWebSocket upgrades GET /ws to an event stream. A client receives
// nothing until it subscribes to at least one channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeUnavailable(w, "event stream not started")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	keepalive := wsKeepaliveFrom(s.wsCfg)
	go c.transmit(keepalive)
	go c.receive(keepalive, int64(s.wsCfg.MaxMessageSize))
}

// wsKeepalive holds the ping cadence of a connection. A peer that stays
// silent for ping+pong is dropped.
type wsKeepalive struct {
	ping time.Duration
	pong time.Duration
}

func wsKeepaliveFrom(cfg config.WebSocketConfig) wsKeepalive {
	return wsKeepalive{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		pong: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

func (k wsKeepalive) readDeadline() time.Time  { return time.Now().Add(k.ping + k.pong) }
func (k wsKeepalive) writeDeadline() time.Time { return time.Now().Add(k.pong) }

// receive reads requests until the connection fails. Any frame, pong or
// request, extends the read deadline.
func (c *WSClient) receive(k wsKeepalive, limit int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	_ = c.conn.SetReadDeadline(k.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(k.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(k.readDeadline())
		c.handleMessage(data)
	}
}

// transmit writes queued frames and keepalive pings until the send
// channel is closed or a write fails.
func (c *WSClient) transmit(k wsKeepalive) {
	ticker := time.NewTicker(k.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind = websocket.PingMessage
			data []byte
		)
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, data = websocket.TextMessage, frame
		case <-ticker.C:
		}

		_ = c.conn.SetWriteDeadline(k.writeDeadline())
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// handleMessage dispatches one client request.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscription applies a subscribe or unsubscribe request. A request
// naming any unknown channel is rejected whole and changes nothing.
// The reply lists the channels the client holds afterwards.
func (c *WSClient) handleSubscription(msg WSMessage) {
	channels, err := decodeChannels(msg.Payload)
	if err != nil {
		c.replyError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}
	if len(channels) == 0 {
		c.replyError(msg.ID, "no channels given")
		return
	}
	for _, ch := range channels {
		if _, ok := eventChannels[ch]; !ok {
			c.replyError(msg.ID, "unknown channel: "+ch)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		if msg.Type == WSTypeSubscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	active := slices.Sorted(maps.Keys(c.subscriptions))
	c.mu.Unlock()

	c.hub.logger.Debug("websocket subscriptions changed", "request", msg.Type, "channels", channels, "active", active)

	c.reply(msg.ID, WSTypeResponse, map[string]any{
		msg.Type + "d": channels,
		"active":       active,
	})
}

// decodeChannels extracts the channel list of a subscription payload,
// which arrives as a generic JSON value.
func decodeChannels(payload any) ([]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	return sub.Channels, nil
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, all := c.subscriptions[WSChannelAll]
	_, one := c.subscriptions[channel]
	return all || one
}

// trySend queues data for the client without blocking. It reports false
// when the buffer is full or the client has already been unregistered.
func (c *WSClient) trySend(data []byte) (queued bool) {
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
