package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultHandshakeTimeout = 3 * time.Second
	defaultWriteDeadline    = 5 * time.Second
	defaultBackoffBase      = 100 * time.Millisecond
	defaultBackoffMax       = 10 * time.Second
)

var (
	// ErrNotConnected indicates an emit was attempted without a live transport.
	// The payload is dropped; callers relying on delivery should wait for the
	// connect event and retry.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrConnClosed indicates the connection manager has been shut down.
	ErrConnClosed = errors.New("realtime: connection closed")
)

// Handler consumes the raw data payload of a dispatched event.
type Handler func(data json.RawMessage)

// Subscription identifies a registered handler so it can be removed with Off.
type Subscription struct {
	event string
	id    uint64
}

// ConnConfig customises a connection manager.
type ConnConfig struct {
	Logger zerolog.Logger
	// BackoffBase and BackoffMax bound the reconnect delay. Zero values fall
	// back to the defaults.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxRetries caps consecutive failed dial attempts before the manager
	// gives up and reports an error event. Zero means retry forever.
	MaxRetries int
}

// Conn owns a single multiplexed websocket per authenticated session. It is
// constructed explicitly and injected into callers rather than shared as
// package state, so reconnect and listener lifecycles stay testable.
//
// Handlers registered with On survive reconnects. After every successful
// (re)connection the manager delivers a synthetic connect event so callers
// can re-join rooms.
type Conn struct {
	logger zerolog.Logger
	dialer *websocket.Dialer

	backoffBase time.Duration
	backoffMax  time.Duration
	maxRetries  int

	mu        sync.Mutex
	ws        *websocket.Conn
	url       string
	token     string
	connected bool
	running   bool
	closed    bool
	gen       uint64
	nextSub   uint64
	handlers  map[string]map[uint64]Handler

	writeMu sync.Mutex
}

// NewConn creates a disconnected connection manager.
func NewConn(cfg ConnConfig) *Conn {
	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = defaultBackoffMax
	}

	return &Conn{
		logger: cfg.Logger.With().Str("component", "realtime_conn").Logger(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		backoffBase: base,
		backoffMax:  max,
		maxRetries:  cfg.MaxRetries,
		handlers:    make(map[string]map[uint64]Handler),
	}
}

// Connect establishes the transport. Calling it while already connected to
// the same url with the same token is a no-op; a different url or token tears
// the current transport down and redials with the new credentials.
func (c *Conn) Connect(url, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.url == url && c.token == token && c.running {
		c.mu.Unlock()
		return nil
	}

	c.url = url
	c.token = token
	c.gen++
	gen := c.gen
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.connected = false
	c.running = true
	c.mu.Unlock()

	go c.run(gen, url, token)
	return nil
}

// IsConnected reports whether the transport is currently live.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down the transport and stops the reconnect loop. Registered
// handlers are released.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	ws := c.ws
	c.ws = nil
	c.connected = false
	c.handlers = make(map[string]map[uint64]Handler)
	c.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	return nil
}

// On registers a handler for the named event. The returned subscription can
// be passed to Off when the caller's view unmounts; a leaked handler keeps
// receiving events after navigation.
func (c *Conn) On(event string, handler Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	id := c.nextSub
	if _, ok := c.handlers[event]; !ok {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][id] = handler
	return Subscription{event: event, id: id}
}

// Off removes a previously registered handler.
func (c *Conn) Off(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if handlers, ok := c.handlers[sub.event]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(c.handlers, sub.event)
		}
	}
}

// Emit sends an event over the transport. When disconnected the payload is
// dropped and ErrNotConnected returned; Emit never panics and never blocks on
// reconnection.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s payload: %w", event, err)
	}

	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()

	if !connected || ws == nil {
		c.logger.Debug().Str("event", event).Msg("emit dropped while disconnected")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
	if err := ws.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("realtime: emit %s: %w", event, err)
	}
	return nil
}

// run dials and reads until the generation is invalidated by Close or a
// credential change. Each successful dial re-delivers the connect event.
func (c *Conn) run(gen uint64, url, token string) {
	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.running = false
		}
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		if c.stale(gen) {
			return
		}

		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}

		ws, _, err := c.dialer.Dial(url, header)
		if err != nil {
			attempt++
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
			c.dispatchError(err)
			if c.maxRetries > 0 && attempt >= c.maxRetries {
				c.logger.Error().Int("attempts", attempt).Msg("reconnect attempts exhausted")
				return
			}
			time.Sleep(c.backoff(attempt))
			continue
		}
		attempt = 0

		c.mu.Lock()
		if c.closed || c.gen != gen {
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.ws = ws
		c.connected = true
		c.mu.Unlock()

		c.logger.Info().Str("url", url).Msg("connected")
		c.dispatch(EventConnect, nil)

		c.readLoop(gen, ws)

		c.mu.Lock()
		wasCurrent := c.gen == gen && !c.closed
		if wasCurrent {
			c.connected = false
			c.ws = nil
		}
		c.mu.Unlock()

		if !wasCurrent {
			return
		}

		c.logger.Warn().Msg("transport dropped")
		c.dispatch(EventDisconnect, nil)
	}
}

func (c *Conn) readLoop(gen uint64, ws *websocket.Conn) {
	for {
		var envelope Envelope
		if err := ws.ReadJSON(&envelope); err != nil {
			_ = ws.Close()
			return
		}
		if c.stale(gen) {
			return
		}
		if envelope.Event == "" {
			c.logger.Debug().Msg("dropping frame without event name")
			continue
		}
		c.dispatch(envelope.Event, envelope.Data)
	}
}

// dispatch invokes handlers outside the lock so a handler may call Emit, On
// or Off without deadlocking.
func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	registered := c.handlers[event]
	handlers := make([]Handler, 0, len(registered))
	for _, handler := range registered {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(data)
	}
}

func (c *Conn) dispatchError(err error) {
	payload, marshalErr := json.Marshal(map[string]string{"message": err.Error()})
	if marshalErr != nil {
		payload = nil
	}
	c.dispatch(EventError, payload)
}

func (c *Conn) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.gen != gen
}

func (c *Conn) backoff(attempt int) time.Duration {
	delay := c.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.backoffMax {
			return c.backoffMax
		}
	}
	if delay > c.backoffMax {
		return c.backoffMax
	}
	return delay
}
