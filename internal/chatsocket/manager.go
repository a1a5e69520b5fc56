// Package chatsocket owns the persistent chat socket: connect, heartbeat,
// send with offline queueing, and reconnect with exponential backoff.
package chatsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/domain"
	"parley/internal/ports"
)

// ErrRetriesExhausted is reported to error subscribers once the reconnect
// budget is spent. It is never returned to callers.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// Config controls socket behavior. Zero fields fall back to defaults.
type Config struct {
	BaseURL              string
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	return c
}

type outboundFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type queuedMessage struct {
	frame      outboundFrame
	enqueuedAt time.Time
}

// Manager owns one socket connection and its subscriber sets. All mutation is
// serialized through an internal mutex; observer callbacks run outside it.
type Manager struct {
	cfg    Config
	tokens ports.TokenSource
	dialer *websocket.Dialer
	log    *slog.Logger

	mu        sync.Mutex
	state     domain.ConnectionState
	conn      *websocket.Conn
	sessionID string
	queue     []queuedMessage
	attempts  int
	gen       int
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc

	heartbeatStop chan struct{}
	backoff       *time.Timer

	nextSub   int
	msgSubs   map[int]func(domain.SocketMessage)
	errSubs   map[int]func(error)
	closeSubs map[int]func()
	stateSubs map[int]func(domain.ConnectionState)
}

// New creates a manager. A nil logger means slog.Default().
func New(cfg Config, tokens ports.TokenSource, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		tokens:    tokens,
		dialer:    websocket.DefaultDialer,
		log:       log,
		state:     domain.ConnectionDisconnected,
		msgSubs:   map[int]func(domain.SocketMessage){},
		errSubs:   map[int]func(error){},
		closeSubs: map[int]func(){},
		stateSubs: map[int]func(domain.ConnectionState){},
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueuedCount reports how many outbound messages are waiting for a connection.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// OnMessage registers a handler for decoded inbound frames and returns its
// disposer.
func (m *Manager) OnMessage(fn func(domain.SocketMessage)) func() {
	return m.subscribe(func(id int) { m.msgSubs[id] = fn }, func(id int) { delete(m.msgSubs, id) })
}

// OnError registers a handler for transport and protocol errors.
func (m *Manager) OnError(fn func(error)) func() {
	return m.subscribe(func(id int) { m.errSubs[id] = fn }, func(id int) { delete(m.errSubs, id) })
}

// OnClose registers a handler invoked whenever the socket closes.
func (m *Manager) OnClose(fn func()) func() {
	return m.subscribe(func(id int) { m.closeSubs[id] = fn }, func(id int) { delete(m.closeSubs, id) })
}

// OnConnectionState registers a handler for state transitions. Handlers run
// synchronously on every transition.
func (m *Manager) OnConnectionState(fn func(domain.ConnectionState)) func() {
	return m.subscribe(func(id int) { m.stateSubs[id] = fn }, func(id int) { delete(m.stateSubs, id) })
}

func (m *Manager) subscribe(add func(int), remove func(int)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	add(id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			remove(id)
			m.mu.Unlock()
		})
	}
}

// Connect opens the socket for the given session. It is idempotent: calling
// it while a connection is open or being established is a no-op.
func (m *Manager) Connect(ctx context.Context, sessionID string) {
	m.mu.Lock()
	switch m.state {
	case domain.ConnectionConnecting, domain.ConnectionConnected, domain.ConnectionReconnecting:
		m.mu.Unlock()
		return
	}
	m.sessionID = sessionID
	m.attempts = 0
	m.closed = false
	m.ctx, m.cancel = context.WithCancel(ctx)
	fire := m.setStateLocked(domain.ConnectionConnecting)
	m.mu.Unlock()
	fire()

	// The dial (token fetch included) runs off the caller's goroutine; a slow
	// token source or server must not stall the caller.
	go m.dial()
}

func (m *Manager) dial() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	sessionID := m.sessionID
	m.mu.Unlock()

	wsURL, err := m.socketURL(ctx, sessionID)
	if err != nil {
		m.handleDialFailure(fmt.Errorf("build socket url: %w", err))
		return
	}

	conn, resp, err := m.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.handleDialFailure(fmt.Errorf("dial chat socket: %w", err))
		return
	}
	m.handleOpen(conn)
}

func (m *Manager) socketURL(ctx context.Context, sessionID string) (string, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}

	base := strings.TrimRight(strings.TrimSpace(m.cfg.BaseURL), "/")
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base + "/chat/" + url.PathEscape(sessionID))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("csrf_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) handleOpen(conn *websocket.Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.gen++
	gen := m.gen
	fire := m.setStateLocked(domain.ConnectionConnected)

	stop := make(chan struct{})
	m.heartbeatStop = stop

	// Flush everything queued while offline, strictly FIFO, before any send
	// that arrives after this point.
	var writeErr error
	for len(m.queue) > 0 {
		next := m.queue[0]
		if writeErr = conn.WriteJSON(next.frame); writeErr != nil {
			break
		}
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()
	fire()

	if writeErr != nil {
		m.log.Warn("queue flush interrupted", "error", writeErr)
		m.notifyError(fmt.Errorf("flush queued message: %w", writeErr))
	}

	go m.heartbeatLoop(stop)
	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		var msg domain.SocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are reported and skipped, never fatal.
			m.notifyError(fmt.Errorf("malformed socket frame: %w", err))
			continue
		}
		m.notifyMessage(msg)
	}
}

func (m *Manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			conn := m.conn
			connected := m.state == domain.ConnectionConnected
			var err error
			if connected && conn != nil {
				err = conn.WriteJSON(outboundFrame{Type: "heartbeat"})
			}
			m.mu.Unlock()
			if err != nil {
				m.notifyError(fmt.Errorf("heartbeat: %w", err))
			}
		}
	}
}

// Send transmits a text frame, or queues it while the socket is down. It
// never fails from the caller's point of view; transport errors surface via
// OnError and the message is preserved for the next flush.
func (m *Manager) Send(text string) {
	frame := outboundFrame{
		Type:      "text",
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	if m.state == domain.ConnectionConnected && m.conn != nil {
		err := m.conn.WriteJSON(frame)
		if err != nil {
			// Preserved for the next flush; transient failures never drop data.
			m.queue = append(m.queue, queuedMessage{frame: frame, enqueuedAt: time.Now()})
		}
		m.mu.Unlock()
		if err != nil {
			m.notifyError(fmt.Errorf("send text frame: %w", err))
		}
		return
	}
	m.queue = append(m.queue, queuedMessage{frame: frame, enqueuedAt: time.Now()})
	m.mu.Unlock()
}

func (m *Manager) handleClose(gen int, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.conn.Close()
	m.conn = nil
	m.stopHeartbeatLocked()

	var fireErr func()
	if abnormalClose(cause) {
		fireErr = m.setStateLocked(domain.ConnectionError)
	}
	fireDown := m.setStateLocked(domain.ConnectionDisconnected)
	closeSubs := snapshot(m.closeSubs)
	m.mu.Unlock()

	if fireErr != nil {
		m.notifyError(fmt.Errorf("socket closed: %w", cause))
		fireErr()
	}
	fireDown()
	for _, fn := range closeSubs {
		fn()
	}

	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	if m.attempts > m.cfg.MaxReconnectAttempts {
		fire := m.setStateLocked(domain.ConnectionError)
		m.mu.Unlock()
		m.log.Error("chat socket gave up", "attempts", m.cfg.MaxReconnectAttempts)
		m.notifyError(ErrRetriesExhausted)
		fire()
		return
	}

	delay := ReconnectDelay(m.cfg.ReconnectBaseDelay, m.attempts)
	fire := m.setStateLocked(domain.ConnectionReconnecting)
	m.backoff = time.AfterFunc(delay, m.dial)
	attempt := m.attempts
	m.mu.Unlock()

	m.log.Debug("scheduling reconnect", "attempt", attempt, "delay", delay)
	fire()
}

func (m *Manager) handleDialFailure(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	// A failed dial while reconnecting stays in reconnecting until the next
	// attempt is scheduled; only the initial connect drops to disconnected.
	fire := func() {}
	if m.state == domain.ConnectionConnecting {
		fire = m.setStateLocked(domain.ConnectionDisconnected)
	}
	m.mu.Unlock()

	m.notifyError(err)
	fire()
	m.scheduleReconnect()
}

// Disconnect tears the connection down and discards the outbound queue. This
// is the one deliberate data-loss path; it is safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed && m.conn == nil && m.state == domain.ConnectionDisconnected {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	if m.backoff != nil {
		m.backoff.Stop()
		m.backoff = nil
	}
	m.stopHeartbeatLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.queue = nil
	fire := m.setStateLocked(domain.ConnectionDisconnected)
	closeSubs := snapshot(m.closeSubs)
	m.mu.Unlock()

	fire()
	for _, fn := range closeSubs {
		fn()
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// setStateLocked mutates the state and returns a func that notifies state
// subscribers; callers invoke it after releasing the mutex.
func (m *Manager) setStateLocked(state domain.ConnectionState) func() {
	if m.state == state {
		return func() {}
	}
	m.state = state
	subs := snapshot(m.stateSubs)
	return func() {
		for _, fn := range subs {
			fn(state)
		}
	}
}

func (m *Manager) notifyError(err error) {
	m.mu.Lock()
	subs := snapshot(m.errSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (m *Manager) notifyMessage(msg domain.SocketMessage) {
	m.mu.Lock()
	subs := snapshot(m.msgSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func snapshot[T any](subs map[int]T) []T {
	out := make([]T, 0, len(subs))
	for _, fn := range subs {
		out = append(out, fn)
	}
	return out
}

// abnormalClose reports whether a read-loop failure should surface to error
// subscribers. Only clean close handshakes are quiet; raw network failures
// (reset, timeout) arrive as plain errors, not *websocket.CloseError.
func abnormalClose(cause error) bool {
	if cause == nil {
		return false
	}
	return !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// ReconnectDelay computes the backoff before reconnect attempt n (1-based):
// base * 2^(n-1).
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}
