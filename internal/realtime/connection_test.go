package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	answerPings bool

	mu       sync.Mutex
	received []Message
	conns    []*websocket.Conn
}

func newTestServer(t *testing.T, answerPings bool) *testServer {
	t.Helper()
	ts := &testServer{answerPings: answerPings}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ts.mu.Lock()
			ts.received = append(ts.received, msg)
			ts.mu.Unlock()
			if msg.Type == TypePing && ts.answerPings {
				_ = ts.write(conn, Message{Type: TypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) write(conn *websocket.Conn, msg Message) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return conn.WriteJSON(msg)
}

func (ts *testServer) broadcast(t *testing.T, msg Message) {
	t.Helper()
	ts.mu.Lock()
	conns := append([]*websocket.Conn(nil), ts.conns...)
	ts.mu.Unlock()
	require.NotEmpty(t, conns)
	for _, conn := range conns {
		require.NoError(t, ts.write(conn, msg))
	}
}

func (ts *testServer) typesReceived() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, 0, len(ts.received))
	for _, msg := range ts.received {
		out = append(out, msg.Type)
	}
	return out
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) has(typ EventType) bool {
	for _, evt := range l.snapshot() {
		if evt.Type == typ {
			return true
		}
	}
	return false
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	cfg.PingTimeout = 200 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.DialTimeout = time.Second
	return cfg
}

func TestReconnectBacksOffExponentiallyThenGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	log := &eventLog{}
	conn := NewConnection(url, fastConfig(), WithEventHandler(log.record))

	err := conn.Connect(context.Background())
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)

	require.Eventually(t, func() bool { return conn.State() == StateGivenUp }, 2*time.Second, 5*time.Millisecond)

	var delays []time.Duration
	for _, evt := range log.snapshot() {
		if evt.Type == EventReconnecting {
			delays = append(delays, evt.Delay)
		}
	}
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}, delays)
	assert.True(t, log.has(EventGivenUp))
	assert.Equal(t, 3, conn.Stats().ReconnectAttempts)
	assert.False(t, conn.Stats().IsConnected)
}

func TestConnectRejectsInvalidURLWithoutRetry(t *testing.T) {
	log := &eventLog{}
	conn := NewConnection("http://example.invalid/ws", fastConfig(), WithEventHandler(log.record))

	err := conn.Connect(context.Background())
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, StateDisconnected, conn.State())

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, log.snapshot())
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	cfg := fastConfig()
	cfg.AutoReconnect = false
	conn := NewConnection(url, cfg)

	require.Error(t, conn.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestSendWhileDisconnectedReturnsFalse(t *testing.T) {
	conn := NewConnection("ws://127.0.0.1:1/ws", fastConfig())
	assert.False(t, conn.Send(TypeNotify, map[string]string{"hello": "world"}))

	_, err := conn.Ping(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestPingMeasuresLatency(t *testing.T) {
	srv := newTestServer(t, true)
	conn := NewConnection(srv.wsURL(), fastConfig())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	latency, err := conn.Ping(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, time.Duration(0))

	stats := conn.Stats()
	assert.True(t, stats.IsConnected)
	assert.Equal(t, StateConnected, stats.State)
	assert.False(t, stats.LastPing.IsZero())
}

func TestPingTimesOutWithoutPong(t *testing.T) {
	srv := newTestServer(t, false)
	cfg := fastConfig()
	cfg.PingTimeout = 30 * time.Millisecond
	conn := NewConnection(srv.wsURL(), cfg)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	_, err := conn.Ping(context.Background())
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 30*time.Millisecond, timeout.After)
}

func TestDisconnectIsCleanAndStopsRetries(t *testing.T) {
	srv := newTestServer(t, true)
	log := &eventLog{}
	conn := NewConnection(srv.wsURL(), fastConfig(), WithEventHandler(log.record))
	require.NoError(t, conn.Connect(context.Background()))

	conn.Disconnect()
	assert.Equal(t, StateDisconnected, conn.State())
	assert.False(t, conn.Send(TypeNotify, nil))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, log.has(EventReconnecting))
	assert.True(t, log.has(EventDisconnected))
}

func TestHeartbeatTimeoutDropsTransportAndReconnects(t *testing.T) {
	srv := newTestServer(t, false)
	cfg := fastConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.PingTimeout = 20 * time.Millisecond
	log := &eventLog{}
	conn := NewConnection(srv.wsURL(), cfg, WithEventHandler(log.record))
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	require.Eventually(t, func() bool { return log.has(EventReconnecting) }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, srv.typesReceived(), TypePing)

	var sawError bool
	for _, evt := range log.snapshot() {
		if evt.Type == EventError {
			sawError = true
		}
		if evt.Type == EventReconnecting {
			assert.Equal(t, cfg.ReconnectDelay, evt.Delay)
			break
		}
	}
	assert.True(t, sawError)
}

func TestDisconnectFailsInFlightPing(t *testing.T) {
	srv := newTestServer(t, false)
	cfg := fastConfig()
	cfg.PingTimeout = 5 * time.Second
	conn := NewConnection(srv.wsURL(), cfg)
	require.NoError(t, conn.Connect(context.Background()))

	result := make(chan error, 1)
	go func() {
		_, err := conn.Ping(context.Background())
		result <- err
	}()
	require.Eventually(t, func() bool {
		for _, typ := range srv.typesReceived() {
			if typ == TypePing {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	started := time.Now()
	conn.Disconnect()
	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrConnectionClosed)
		assert.Less(t, time.Since(started), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("ping still waiting after disconnect")
	}
}

func TestServerDropTriggersReconnect(t *testing.T) {
	srv := newTestServer(t, true)
	log := &eventLog{}
	conn := NewConnection(srv.wsURL(), fastConfig(), WithEventHandler(log.record))
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	srv.mu.Lock()
	first := srv.conns[0]
	srv.mu.Unlock()
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool { return log.has(EventReconnecting) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return conn.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, conn.Stats().ReconnectAttempts)
}

func TestChannelDispatchAndUnsubscribe(t *testing.T) {
	srv := newTestServer(t, true)
	var fallback []string
	var fbMu sync.Mutex
	conn := NewConnection(srv.wsURL(), fastConfig(), WithFallback(HandlerFunc(func(msg Message) {
		fbMu.Lock()
		fallback = append(fallback, msg.Type)
		fbMu.Unlock()
	})))
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	var mu sync.Mutex
	var order []string
	stopFirst := conn.Subscribe("inventory", func(Message) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	stopSecond := conn.Subscribe("inventory", func(Message) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})
	assert.Equal(t, 2, conn.ListenerCount("inventory"))

	msg, err := NewMessage(ChannelType("inventory"), map[string]int{"qty": 3})
	require.NoError(t, err)
	srv.broadcast(t, msg)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, order)
	mu.Unlock()

	stopFirst()
	stopFirst()
	assert.Equal(t, 1, conn.ListenerCount("inventory"))
	stopSecond()
	assert.Equal(t, 0, conn.ListenerCount("inventory"))

	require.Eventually(t, func() bool {
		types := srv.typesReceived()
		subs, unsubs := 0, 0
		for _, typ := range types {
			switch typ {
			case TypeSubscribe:
				subs++
			case TypeUnsubscribe:
				unsubs++
			}
		}
		return subs == 2 && unsubs == 1
	}, time.Second, 5*time.Millisecond)

	srv.broadcast(t, msg)
	require.Eventually(t, func() bool {
		fbMu.Lock()
		defer fbMu.Unlock()
		return len(fallback) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSystemKindsRouteToHandlers(t *testing.T) {
	srv := newTestServer(t, true)
	got := make(chan Message, 1)
	conn := NewConnection(srv.wsURL(), fastConfig(),
		WithHandler(KindNotification, HandlerFunc(func(msg Message) { got <- msg })))
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	msg, err := NewMessage(TypeNotify, map[string]string{"sku": "SKU-A"})
	require.NoError(t, err)
	srv.broadcast(t, msg)

	select {
	case received := <-got:
		var body map[string]string
		require.NoError(t, received.Decode(&body))
		assert.Equal(t, "SKU-A", body["sku"])
		assert.Equal(t, msg.ID, received.ID)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"pong":              KindPong,
		"ping":              KindPing,
		"error":             KindError,
		"notification":      KindNotification,
		"update":            KindUpdate,
		"channel:inventory": KindChannel,
		"channel:":          KindUnknown,
		"something":         KindUnknown,
	}
	for msgType, want := range cases {
		assert.Equal(t, want, Classify(msgType), msgType)
	}
}

func TestMessageEnvelopeShape(t *testing.T) {
	msg, err := NewMessage(TypeUpdate, map[string]int{"n": 1})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "type")
	assert.Contains(t, raw, "payload")
	assert.Contains(t, raw, "timestamp")
	assert.Contains(t, raw, "id")
	assert.NotEmpty(t, msg.ID)
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_reconnect_attempts: 4\nreconnect_delay: 250ms\nauto_reconnect: false\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.AutoReconnect)
	assert.Equal(t, 4, cfg.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.PingTimeout)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
