// Package conn owns the one persistent duplex socket to the session server:
// dialing, keepalive, reconnection with capped exponential backoff, and
// recovery from credential expiry.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by Send while the socket is not open. Sends
// never queue silently; callers decide whether to warn the user.
var ErrNotConnected = errors.New("conn: not connected")

// CloseCodeAuthExpired is the application close code the server uses when
// the connection credential has expired.
const CloseCodeAuthExpired = 4401

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// Socket is the subset of *websocket.Conn the manager uses. Tests substitute
// in-memory fakes through DialFunc.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// DialFunc opens a socket to the given URL.
type DialFunc func(ctx context.Context, url string) (Socket, error)

// GorillaDial is the production DialFunc.
func GorillaDial(ctx context.Context, url string) (Socket, error) {
	sock, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return sock, nil
}

// Config holds connection and reconnection parameters.
type Config struct {
	BaseDelay      time.Duration `yaml:"base_delay"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      500 * time.Millisecond,
		BackoffFactor:  2.0,
		MaxDelay:       15 * time.Second,
		AutoReconnect:  true,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Callbacks are invoked from the manager's internal goroutines. The session
// loop wraps them so handling stays single-threaded.
type Callbacks struct {
	// OnFrame receives every inbound text frame.
	OnFrame func(frame []byte)
	// OnOpen fires on every successful open, including reconnects.
	OnOpen func()
	// OnDown fires when the socket drops unexpectedly.
	OnDown func(err error)
	// RefreshURL is consulted after an auth-expired close to obtain a fresh
	// connection URL (with refreshed credentials) before redialing.
	RefreshURL func(ctx context.Context) (string, error)
}

// Manager owns one socket at a time and keeps it alive.
type Manager struct {
	cfg   Config
	clock clockwork.Clock
	dial  DialFunc
	cb    Callbacks

	mu     sync.Mutex
	state  State
	sock   Socket
	url    string
	delay  time.Duration // next reconnect delay
	gen    uint64        // connection generation; stale pumps no-op
	closed bool          // deliberate shutdown, no reconnect

	writeMu sync.Mutex
}

// NewManager creates a manager pointed at url. It does not dial until
// Connect is called.
func NewManager(cfg Config, url string, clock clockwork.Clock, dial DialFunc, cb Callbacks) *Manager {
	if dial == nil {
		dial = GorillaDial
	}
	return &Manager{
		cfg:   cfg,
		clock: clock,
		dial:  dial,
		cb:    cb,
		url:   url,
		delay: cfg.BaseDelay,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// URL returns the current target URL.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// SetURL points the manager at a new endpoint. Takes effect on the next
// dial; callers rebinding a session close first.
func (m *Manager) SetURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
}

// Connect dials the configured URL. On failure the reconnect schedule takes
// over when auto-reconnect is enabled.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("conn: manager closed")
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	url := m.url
	m.mu.Unlock()

	sock, err := m.dial(ctx, url)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		log.Warn().Err(err).Str("url", url).Msg("dial failed")
		m.scheduleReconnect(ctx, false)
		return err
	}

	m.adopt(ctx, sock)
	return nil
}

// adopt installs a freshly dialed socket and starts its pumps.
func (m *Manager) adopt(ctx context.Context, sock Socket) {
	m.mu.Lock()
	m.sock = sock
	m.state = StateOpen
	m.delay = m.cfg.BaseDelay // reset backoff on success
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	log.Info().Str("url", m.URL()).Msg("connection open")

	go m.readPump(ctx, sock, gen)
	go m.pingPump(ctx, sock, gen)

	if m.cb.OnOpen != nil {
		m.cb.OnOpen()
	}
}

// Send writes one text frame. Fails immediately while not open.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	sock, state := m.sock, m.state
	m.mu.Unlock()
	if state != StateOpen || sock == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	sock.SetWriteDeadline(m.clock.Now().Add(m.cfg.WriteTimeout))
	if err := sock.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close shuts the manager down deliberately. No reconnect follows.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.state = StateDisconnected
	sock := m.sock
	m.sock = nil
	m.gen++
	m.mu.Unlock()

	if sock != nil {
		m.writeMu.Lock()
		sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		sock.Close()
	}
	log.Info().Msg("connection closed")
}

func (m *Manager) readPump(ctx context.Context, sock Socket, gen uint64) {
	sock.SetReadDeadline(m.clock.Now().Add(m.cfg.ReadTimeout))
	sock.SetPongHandler(func(string) error {
		sock.SetReadDeadline(m.clock.Now().Add(m.cfg.ReadTimeout))
		return nil
	})

	for {
		_, frame, err := sock.ReadMessage()
		if err != nil {
			m.handleDisconnect(ctx, sock, gen, err)
			return
		}
		sock.SetReadDeadline(m.clock.Now().Add(m.cfg.ReadTimeout))
		if m.cb.OnFrame != nil {
			m.cb.OnFrame(frame)
		}
	}
}

func (m *Manager) pingPump(ctx context.Context, sock Socket, gen uint64) {
	ticker := m.clock.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.mu.Lock()
			stale := gen != m.gen
			m.mu.Unlock()
			if stale {
				return
			}
			m.writeMu.Lock()
			sock.SetWriteDeadline(m.clock.Now().Add(m.cfg.WriteTimeout))
			err := sock.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleDisconnect runs when the read pump exits. It decides whether the
// closure was deliberate, and otherwise hands off to the reconnect schedule.
func (m *Manager) handleDisconnect(ctx context.Context, sock Socket, gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		// A newer socket already took over, or shutdown is in progress.
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.sock = nil
	m.mu.Unlock()
	sock.Close()

	authExpired := websocket.IsCloseError(cause, CloseCodeAuthExpired)
	log.Warn().Err(cause).Bool("auth_expired", authExpired).Msg("connection lost")

	if m.cb.OnDown != nil {
		m.cb.OnDown(cause)
	}
	m.scheduleReconnect(ctx, authExpired)
}

// scheduleReconnect waits the current backoff delay, then redials. Each trip
// through multiplies the next delay by the backoff factor up to the cap; a
// successful open resets it to base.
func (m *Manager) scheduleReconnect(ctx context.Context, authExpired bool) {
	m.mu.Lock()
	if m.closed || !m.cfg.AutoReconnect {
		m.mu.Unlock()
		return
	}
	wait := m.delay
	next := time.Duration(float64(m.delay) * m.cfg.BackoffFactor)
	if next > m.cfg.MaxDelay {
		next = m.cfg.MaxDelay
	}
	m.delay = next
	m.mu.Unlock()

	log.Info().Dur("wait", wait).Msg("reconnect scheduled")

	timer := m.clock.NewTimer(wait)
	go func() {
		defer stopAndDrainTimer(timer)
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}

		if authExpired && m.cb.RefreshURL != nil {
			fresh, err := m.cb.RefreshURL(ctx)
			if err != nil {
				log.Error().Err(err).Msg("credential refresh failed")
				m.scheduleReconnect(ctx, true)
				return
			}
			m.SetURL(fresh)
		}

		m.mu.Lock()
		if m.closed || m.state != StateDisconnected {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		url := m.url
		m.mu.Unlock()

		sock, err := m.dial(ctx, url)
		if err != nil {
			m.mu.Lock()
			m.state = StateDisconnected
			m.mu.Unlock()
			log.Warn().Err(err).Msg("reconnect dial failed")
			m.scheduleReconnect(ctx, false)
			return
		}
		m.adopt(ctx, sock)
	}()
}

// NextDelay reports the delay the next reconnect attempt would wait.
func (m *Manager) NextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
