// Package hub is the server end of the realtime channel. It upgrades HTTP
// requests to websockets, tracks channel subscriptions per client and fans
// inventory events out to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stockline/backend/internal/events"
	"stockline/backend/internal/metrics"
	"stockline/backend/internal/realtime"
	"stockline/backend/internal/xid"
)

const (
	InventoryChannel  = "inventory"
	StockCountChannel = "stock-counts"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 256
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("realtime hub closed")

type outbound struct {
	channel string
	data    []byte
}

type client struct {
	id   string
	user string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.Mutex
	subscriptions map[string]bool
}

func (c *client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[channel]
}

type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients    map[string]*client
	closed     bool
	broadcast  chan outbound
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

// New builds a hub. checkOrigin may be nil to accept same-host requests
// only, which is gorilla's default.
func New(logger *zap.Logger, checkOrigin func(*http.Request) bool) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger.Named("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients:    make(map[string]*client),
		broadcast:  make(chan outbound, sendBufferSize),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run fans out broadcasts and evicts clients until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			metrics.RealtimeClients.Set(0)
			return

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.RealtimeClients.Set(float64(total))
			h.logger.Info("realtime client disconnected", zap.String("client_id", c.id), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				if msg.channel != "" && !c.subscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					close(c.send)
					delete(h.clients, id)
					metrics.RealtimeDroppedClientsTotal.Inc()
					h.logger.Warn("dropping slow realtime client", zap.String("client_id", id))
				}
			}
			metrics.RealtimeClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request. user is recorded for logging only; the HTTP
// layer authenticates before calling it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:            xid.New("ws"),
		user:          user,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		hub:           h,
		subscriptions: make(map[string]bool),
	}
	// The client is registered before its read loop starts so replies to its
	// first message are never dropped.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()
	metrics.RealtimeClients.Set(float64(total))
	h.logger.Info("realtime client connected", zap.String("client_id", c.id), zap.String("user", user), zap.Int("total", total))

	go c.writePump()
	go c.readPump()
}

// Publish sends payload as "channel:<name>" to clients subscribed to name.
func (h *Hub) Publish(channel string, payload any) error {
	return h.enqueue(channel, realtime.ChannelType(channel), payload)
}

// Broadcast sends msgType to every client regardless of subscriptions.
func (h *Hub) Broadcast(msgType string, payload any) error {
	return h.enqueue("", msgType, payload)
}

func (h *Hub) enqueue(channel, msgType string, payload any) error {
	msg, err := realtime.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- outbound{channel: channel, data: data}:
		metrics.RealtimeMessagesTotal.WithLabelValues("out", msgType).Inc()
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// Notify maps ledger events onto the wire: transactions go to the inventory
// channel, low stock becomes a notification and count results an update.
func (h *Hub) Notify(_ context.Context, evt events.Event) error {
	switch evt.Type {
	case events.TransactionRecorded, events.TransactionStatus:
		return h.Publish(InventoryChannel, evt)
	case events.LowStock:
		return h.Broadcast(realtime.TypeNotify, evt)
	case events.StockCountCompleted, events.StockCountCancelled:
		if err := h.Publish(StockCountChannel, evt); err != nil {
			return err
		}
		return h.Broadcast(realtime.TypeUpdate, evt)
	case events.PurchaseOrderReceive:
		return h.Broadcast(realtime.TypeUpdate, evt)
	default:
		return nil
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("realtime read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg realtime.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(realtime.TypeError, "", map[string]string{"error": "invalid message format"})
			continue
		}
		metrics.RealtimeMessagesTotal.WithLabelValues("in", msg.Type).Inc()
		c.handle(msg)
	}
}

func (c *client) handle(msg realtime.Message) {
	switch msg.Type {
	case realtime.TypePing:
		c.reply(realtime.TypePong, msg.ID, nil)
	case realtime.TypePong:
	case realtime.TypeSubscribe, realtime.TypeUnsubscribe:
		var body realtime.ChannelPayload
		if err := msg.Decode(&body); err != nil || body.Channel == "" {
			c.reply(realtime.TypeError, msg.ID, map[string]string{"error": "channel is required"})
			return
		}
		c.mu.Lock()
		if msg.Type == realtime.TypeSubscribe {
			c.subscriptions[body.Channel] = true
		} else {
			delete(c.subscriptions, body.Channel)
		}
		c.mu.Unlock()
	default:
		c.reply(realtime.TypeError, msg.ID, map[string]string{"error": "unsupported message type " + msg.Type})
	}
}

// reply queues a direct answer. A full buffer drops the answer; the
// broadcast path is responsible for evicting slow clients.
func (c *client) reply(msgType, id string, payload any) {
	msg, err := realtime.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	if id != "" {
		msg.ID = id
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
		metrics.RealtimeMessagesTotal.WithLabelValues("out", msgType).Inc()
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
