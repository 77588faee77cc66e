// Package realtime is the client side of the notification channel: one
// websocket session that reconnects with exponential backoff, keeps itself
// alive with ping/pong and multiplexes named channels.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateGivenUp      State = "given_up"
)

const (
	fsmConnect = "connect"
	fsmOpen    = "open"
	fsmDrop    = "drop"
	fsmClose   = "close"
	fsmGiveUp  = "give_up"
)

const writeWait = 10 * time.Second

type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventReconnecting EventType = "reconnecting"
	EventGivenUp      EventType = "given_up"
	EventError        EventType = "error"
)

// Event reports a lifecycle change. Attempt and Delay are set for
// EventReconnecting, Err for EventError.
type Event struct {
	Type    EventType
	Attempt int
	Delay   time.Duration
	Err     error
}

type Stats struct {
	IsConnected       bool
	ReconnectAttempts int
	LastPing          time.Time
	Latency           time.Duration
	State             State
}

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Option func(*Connection)

func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dialer = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

func WithHeader(header http.Header) Option {
	return func(c *Connection) { c.header = header }
}

// WithEventHandler receives lifecycle events. It is called without any
// connection lock held.
func WithEventHandler(fn func(Event)) Option {
	return func(c *Connection) { c.onEvent = fn }
}

// WithHandler routes one system kind (error, notification, update, pong) to h.
func WithHandler(kind Kind, h MessageHandler) Option {
	return func(c *Connection) { c.handlers[kind] = h }
}

// WithFallback receives unknown types and channel messages nobody listens to.
func WithFallback(h MessageHandler) Option {
	return func(c *Connection) { c.fallback = h }
}

type Connection struct {
	url      string
	cfg      Config
	dialer   Dialer
	header   http.Header
	logger   *zap.Logger
	onEvent  func(Event)
	handlers map[Kind]MessageHandler
	fallback MessageHandler
	channels *channelRegistry

	mu             sync.Mutex
	machine        *fsm.FSM
	conn           *websocket.Conn
	session        uint64
	attempts       int
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	pending        map[string]chan error
	lastPing       time.Time
	latency        time.Duration

	writeMu sync.Mutex
}

func NewConnection(rawURL string, cfg Config, opts ...Option) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		url:      rawURL,
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger:   zap.NewNop(),
		handlers: make(map[Kind]MessageHandler),
		channels: newChannelRegistry(),
		pending:  make(map[string]chan error),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("realtime")

	c.backoff = backoff.NewExponentialBackOff()
	c.backoff.InitialInterval = cfg.ReconnectDelay
	c.backoff.Multiplier = 2
	c.backoff.RandomizationFactor = 0
	c.backoff.MaxInterval = 24 * time.Hour
	c.backoff.MaxElapsedTime = 0
	c.backoff.Reset()

	c.machine = fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: fsmConnect, Src: []string{string(StateDisconnected), string(StateReconnecting), string(StateGivenUp)}, Dst: string(StateConnecting)},
			{Name: fsmOpen, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
			{Name: fsmDrop, Src: []string{string(StateConnecting), string(StateConnected)}, Dst: string(StateReconnecting)},
			{Name: fsmClose, Src: []string{string(StateConnecting), string(StateConnected), string(StateReconnecting), string(StateGivenUp)}, Dst: string(StateDisconnected)},
			{Name: fsmGiveUp, Src: []string{string(StateConnecting), string(StateConnected), string(StateReconnecting)}, Dst: string(StateGivenUp)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debug("connection state changed", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)
	return c
}

func (c *Connection) transitionLocked(event string) {
	if !c.machine.Can(event) {
		return
	}
	if err := c.machine.Event(context.Background(), event); err != nil {
		c.logger.Warn("invalid connection transition", zap.String("event", event), zap.Error(err))
	}
}

func (c *Connection) stateLocked() State {
	return State(c.machine.Current())
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Connection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		IsConnected:       c.conn != nil && c.stateLocked() == StateConnected,
		ReconnectAttempts: c.attempts,
		LastPing:          c.lastPing,
		Latency:           c.latency,
		State:             c.stateLocked(),
	}
}

// Connect dials the server and returns once the session is open. A dial
// failure is returned as *TransportError; with AutoReconnect the retry
// schedule starts as well. A malformed URL never schedules a retry.
func (c *Connection) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err == nil && u.Scheme != "ws" && u.Scheme != "wss" {
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return &TransportError{Op: "connect", URL: c.url, Err: err}
	}

	c.mu.Lock()
	switch c.stateLocked() {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return &TransportError{Op: "connect", URL: c.url, Err: fmt.Errorf("connect already in progress")}
	case StateGivenUp:
		c.attempts = 0
		c.backoff.Reset()
	}
	c.stopReconnectLocked()
	c.transitionLocked(fsmConnect)
	c.session++
	session := c.session
	c.mu.Unlock()

	return c.dial(ctx, session)
}

func (c *Connection) dial(ctx context.Context, session uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	cancel()

	c.mu.Lock()
	if session != c.session {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrConnectionClosed
	}
	if err != nil {
		tErr := &TransportError{Op: "dial", URL: c.url, Err: err}
		evts := append([]Event{{Type: EventError, Err: tErr}}, c.handleLossLocked(session)...)
		c.mu.Unlock()
		c.emit(evts...)
		return tErr
	}

	c.conn = conn
	c.attempts = 0
	c.backoff.Reset()
	c.transitionLocked(fsmOpen)
	stop := make(chan struct{})
	c.heartbeatStop = stop
	resubscribe := c.channels.names()
	c.mu.Unlock()

	go c.readLoop(conn, session)
	go c.heartbeat(stop)

	c.logger.Info("realtime connected", zap.String("url", c.url))
	c.emit(Event{Type: EventConnected})
	for _, name := range resubscribe {
		c.Send(TypeSubscribe, ChannelPayload{Channel: name})
	}
	return nil
}

// handleLossLocked decides what follows a failed dial or an unclean close:
// a scheduled retry, giving up, or a plain disconnect.
func (c *Connection) handleLossLocked(session uint64) []Event {
	if !c.cfg.AutoReconnect {
		c.transitionLocked(fsmClose)
		return []Event{{Type: EventDisconnected}}
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.transitionLocked(fsmGiveUp)
		c.logger.Warn("realtime reconnect attempts exhausted", zap.Int("attempts", c.attempts))
		return []Event{{Type: EventGivenUp, Attempt: c.attempts}}
	}

	delay := c.backoff.NextBackOff()
	c.attempts++
	c.transitionLocked(fsmDrop)
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnect(session) })
	c.logger.Info("realtime reconnect scheduled", zap.Int("attempt", c.attempts), zap.Duration("delay", delay))
	return []Event{{Type: EventReconnecting, Attempt: c.attempts, Delay: delay}}
}

func (c *Connection) reconnect(session uint64) {
	c.mu.Lock()
	if session != c.session || c.stateLocked() != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.transitionLocked(fsmConnect)
	c.session++
	next := c.session
	c.mu.Unlock()

	_ = c.dial(context.Background(), next)
}

func (c *Connection) readLoop(conn *websocket.Conn, session uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.transportClosed(session, err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed realtime message", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Connection) transportClosed(session uint64, cause error) {
	c.mu.Lock()
	if session != c.session || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	c.failPendingLocked(ErrConnectionClosed)

	var evts []Event
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.transitionLocked(fsmClose)
		evts = []Event{{Type: EventDisconnected}}
	} else {
		evts = append([]Event{{Type: EventError, Err: &TransportError{Op: "read", URL: c.url, Err: cause}}}, c.handleLossLocked(session)...)
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.emit(evts...)
}

// Disconnect closes with code 1000 and cancels every timer. It never
// triggers a reconnect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.session++
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	c.failPendingLocked(ErrConnectionClosed)
	conn := c.conn
	c.conn = nil
	wasDisconnected := c.stateLocked() == StateDisconnected
	c.transitionLocked(fsmClose)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if !wasDisconnected {
		c.emit(Event{Type: EventDisconnected})
	}
}

// Send wraps payload in a fresh envelope. It reports false when the session
// is not open or the write fails.
func (c *Connection) Send(msgType string, payload any) bool {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		c.logger.Warn("failed to encode realtime message", zap.String("type", msgType), zap.Error(err))
		return false
	}
	if err := c.write(msg); err != nil {
		c.logger.Debug("realtime send failed", zap.String("type", msgType), zap.Error(err))
		return false
	}
	return true
}

func (c *Connection) write(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return &TransportError{Op: "write", URL: c.url, Err: err}
	}
	if err := conn.WriteJSON(msg); err != nil {
		return &TransportError{Op: "write", URL: c.url, Err: err}
	}
	return nil
}

// Ping measures the round trip to the server. It fails with *TimeoutError
// after PingTimeout and with ErrConnectionClosed as soon as the session is
// torn down.
func (c *Connection) Ping(ctx context.Context) (time.Duration, error) {
	id := uuid.New().String()
	done := make(chan error, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	c.pending[id] = done
	c.mu.Unlock()

	start := time.Now()
	if err := c.write(Message{Type: TypePing, ID: id, Timestamp: start.UnixMilli()}); err != nil {
		c.dropPending(id)
		return 0, err
	}

	timer := time.NewTimer(c.cfg.PingTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return 0, err
		}
		latency := time.Since(start)
		c.mu.Lock()
		c.lastPing = time.Now()
		c.latency = latency
		c.mu.Unlock()
		return latency, nil
	case <-timer.C:
		c.dropPending(id)
		return 0, &TimeoutError{Op: "ping", After: c.cfg.PingTimeout}
	case <-ctx.Done():
		c.dropPending(id)
		return 0, ctx.Err()
	}
}

func (c *Connection) resolvePing(id string) {
	c.mu.Lock()
	done, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		done <- nil
	}
}

func (c *Connection) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Connection) failPendingLocked(err error) {
	for id, done := range c.pending {
		done <- err
		delete(c.pending, id)
	}
}

// heartbeat pings on every interval. A failed ping closes the socket so the
// read loop takes the unclean-close path.
func (c *Connection) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			_, err := c.Ping(ctx)
			cancel()
			if err == nil {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			c.logger.Warn("realtime heartbeat failed, dropping transport", zap.Error(err))
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
	}
}

func (c *Connection) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Connection) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Connection) emit(evts ...Event) {
	if c.onEvent == nil {
		return
	}
	for _, evt := range evts {
		c.onEvent(evt)
	}
}
