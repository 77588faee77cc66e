package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/events"
	"stockline/backend/internal/realtime"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil, func(*http.Request) bool { return true })
	go h.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "tester")
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (h *Hub) subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.subscribed(channel) {
			n++
		}
	}
	return n
}

func testConfig() realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.AutoReconnect = false
	cfg.PingTimeout = time.Second
	return cfg
}

func TestPingRoundTripThroughHub(t *testing.T) {
	h, url := startHub(t)
	conn := realtime.NewConnection(url, testConfig())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	_, err := conn.Ping(context.Background())
	require.NoError(t, err)
}

func TestLedgerEventsReachSubscribers(t *testing.T) {
	h, url := startHub(t)
	got := make(chan realtime.Message, 4)
	conn := realtime.NewConnection(url, testConfig())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	conn.Subscribe(InventoryChannel, func(msg realtime.Message) { got <- msg })
	require.Eventually(t, func() bool { return h.subscribers(InventoryChannel) == 1 }, time.Second, 5*time.Millisecond)

	tx := domain.InventoryTransaction{ID: "itx-1", StoreID: "main-store", SKU: "SKU-A", Type: domain.TransactionIn, Quantity: 4, Delta: 4, NewStock: 4}
	require.NoError(t, h.Notify(context.Background(), events.ForTransaction(events.TransactionRecorded, tx)))

	select {
	case msg := <-got:
		assert.Equal(t, realtime.ChannelType(InventoryChannel), msg.Type)
		var evt events.Event
		require.NoError(t, msg.Decode(&evt))
		assert.Equal(t, events.TransactionRecorded, evt.Type)
		require.NotNil(t, evt.Transaction)
		assert.Equal(t, 4, evt.Transaction.NewStock)
	case <-time.After(2 * time.Second):
		t.Fatal("inventory event not delivered")
	}
}

func TestUnsubscribedClientsSkipChannelMessages(t *testing.T) {
	h, url := startHub(t)
	notes := make(chan realtime.Message, 4)
	var fallback []string
	conn := realtime.NewConnection(url, testConfig(),
		realtime.WithHandler(realtime.KindNotification, realtime.HandlerFunc(func(msg realtime.Message) { notes <- msg })),
		realtime.WithFallback(realtime.HandlerFunc(func(msg realtime.Message) { fallback = append(fallback, msg.Type) })),
	)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(InventoryChannel, map[string]string{"sku": "SKU-A"}))
	alert := events.NewEvent(events.LowStock, "main-store")
	alert.LowStock = &events.LowStockAlert{StoreID: "main-store", SKU: "SKU-A", Current: 2, ReorderPoint: 5}
	require.NoError(t, h.Notify(context.Background(), alert))

	select {
	case msg := <-notes:
		assert.Equal(t, realtime.TypeNotify, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("low stock notification not delivered")
	}
	// Both messages travel the same socket in order, so the channel message
	// would have reached the fallback first.
	assert.Empty(t, fallback)
}

func TestUnknownTypeGetsErrorReply(t *testing.T) {
	_, url := startHub(t)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	msg, err := realtime.NewMessage("bogus", nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(msg))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply realtime.Message
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, realtime.TypeError, reply.Type)
	assert.Equal(t, msg.ID, reply.ID)

	var body map[string]string
	require.NoError(t, json.Unmarshal(reply.Payload, &body))
	assert.Contains(t, body["error"], "bogus")
}

func TestImmediatePingAfterHandshakeGetsPong(t *testing.T) {
	_, url := startHub(t)
	for i := 0; i < 20; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)

		ping, err := realtime.NewMessage(realtime.TypePing, nil)
		require.NoError(t, err)
		require.NoError(t, ws.WriteJSON(ping))

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var reply realtime.Message
		require.NoError(t, ws.ReadJSON(&reply), "connection %d", i)
		assert.Equal(t, realtime.TypePong, reply.Type)
		assert.Equal(t, ping.ID, reply.ID)
		_ = ws.Close()
	}
}

func TestServeWSRefusesAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil, func(*http.Request) bool { return true })
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "tester")
	}))
	defer srv.Close()

	cancel()
	<-stopped

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, h.ClientCount())
}
