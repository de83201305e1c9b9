// Package channel owns the persistent, reconnecting, bidirectional
// message channel between this client and the collaboration server.
//
// One Channel instance exists per client process. Room lifecycles sit
// above it: joining a different room reuses the same channel, so
// closing the channel is reserved for process teardown.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coderoom-dev/roomsync/internal/logging"
	"github.com/coderoom-dev/roomsync/internal/wire"
)

// ErrNotConnected is returned by Send while the channel is down.
// Senders treat it as transient; the server rebroadcasts authoritative
// state on rejoin.
var ErrNotConnected = errors.New("channel not connected")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("channel closed")

// State represents the channel connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Config configures the channel.
type Config struct {
	// ServerURL is the http(s) base URL of the collaboration server.
	ServerURL string
	// ReconnectInitialInterval is the first reconnect delay.
	ReconnectInitialInterval time.Duration
	// ReconnectMaxInterval caps the reconnect delay.
	ReconnectMaxInterval time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible channel defaults.
func DefaultConfig(serverURL string) Config {
	return Config{
		ServerURL:                serverURL,
		ReconnectInitialInterval: time.Second,
		ReconnectMaxInterval:     5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}
}

// FrameHandler receives every decoded inbound frame.
type FrameHandler func(frame wire.Frame)

// handlerEntry wraps a handler with an id so it can be removed.
type handlerEntry[T any] struct {
	id uint64
	fn T
}

// Channel is the websocket channel manager.
type Channel struct {
	cfg Config
	log zerolog.Logger

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	handlerMu     sync.RWMutex
	nextHandlerID uint64
	frameHandlers []handlerEntry[FrameHandler]
	connHandlers  []handlerEntry[func()]
	dropHandlers  []handlerEntry[func()]

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a channel manager. The channel stays disconnected until
// Connect is called.
func New(cfg Config) *Channel {
	if cfg.ReconnectInitialInterval <= 0 {
		cfg.ReconnectInitialInterval = time.Second
	}
	if cfg.ReconnectMaxInterval <= 0 {
		cfg.ReconnectMaxInterval = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Channel{
		cfg:    cfg,
		log:    logging.With().Str("component", "channel").Logger(),
		state:  StateDisconnected,
		closed: make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Connected reports whether frames can currently be sent.
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

func (c *Channel) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// wsURL converts the configured server URL into the websocket endpoint.
func (c *Channel) wsURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/sync"
	}
	return u.String(), nil
}

// Connect establishes the channel and starts the read loop. Calling
// Connect while connected or connecting is a no-op, so repeated room
// joins never attach duplicate transport loops.
func (c *Channel) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	switch c.State() {
	case StateConnected, StateConnecting, StateReconnecting:
		return nil
	}
	c.setState(StateConnecting)

	if err := c.dial(ctx); err != nil {
		// The first dial failing is not fatal: hand off to the
		// reconnect loop, exactly like a mid-session drop.
		c.log.Warn().Err(err).Msg("initial dial failed, entering reconnect loop")
		go c.reconnectLoop(context.WithoutCancel(ctx))
		return nil
	}

	go c.readLoop()
	return nil
}

func (c *Channel) dial(ctx context.Context) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateConnected)
	c.log.Info().Str("url", wsURL).Msg("channel connected")
	c.fireConnect()
	return nil
}

// Close tears the channel down permanently.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		c.setState(StateDisconnected)
	})
	return nil
}

// Send encodes and writes one frame. It fails fast with
// ErrNotConnected while the channel is down.
func (c *Channel) Send(eventName string, payload any) error {
	raw, err := wire.EncodeFrame(eventName, payload)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil || c.State() != StateConnected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", eventName, err)
	}
	return nil
}

// OnFrame registers a handler for every inbound frame. Returns an
// unregister function.
func (c *Channel) OnFrame(fn FrameHandler) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.frameHandlers = append(c.frameHandlers, handlerEntry[FrameHandler]{id: id, fn: fn})
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		for i, entry := range c.frameHandlers {
			if entry.id == id {
				c.frameHandlers = append(c.frameHandlers[:i], c.frameHandlers[i+1:]...)
				break
			}
		}
	}
}

// OnConnect registers a handler fired on every successful (re)connect.
// A reconnect must behave identically to an initial join, so the room
// session re-emits its join request from here.
func (c *Channel) OnConnect(fn func()) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.connHandlers = append(c.connHandlers, handlerEntry[func()]{id: id, fn: fn})
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		for i, entry := range c.connHandlers {
			if entry.id == id {
				c.connHandlers = append(c.connHandlers[:i], c.connHandlers[i+1:]...)
				break
			}
		}
	}
}

// OnDisconnect registers a handler fired when the transport drops.
func (c *Channel) OnDisconnect(fn func()) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.dropHandlers = append(c.dropHandlers, handlerEntry[func()]{id: id, fn: fn})
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		for i, entry := range c.dropHandlers {
			if entry.id == id {
				c.dropHandlers = append(c.dropHandlers[:i], c.dropHandlers[i+1:]...)
				break
			}
		}
	}
}

func (c *Channel) fireConnect() {
	c.handlerMu.RLock()
	handlers := make([]func(), 0, len(c.connHandlers))
	for _, entry := range c.connHandlers {
		handlers = append(handlers, entry.fn)
	}
	c.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (c *Channel) fireDisconnect() {
	c.handlerMu.RLock()
	handlers := make([]func(), 0, len(c.dropHandlers))
	for _, entry := range c.dropHandlers {
		handlers = append(handlers, entry.fn)
	}
	c.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (c *Channel) dispatch(frame wire.Frame) {
	c.handlerMu.RLock()
	handlers := make([]FrameHandler, 0, len(c.frameHandlers))
	for _, entry := range c.frameHandlers {
		handlers = append(handlers, entry.fn)
	}
	c.handlerMu.RUnlock()
	// Synchronous dispatch: frames for one room are observed in
	// arrival order.
	for _, fn := range handlers {
		fn(frame)
	}
}

// readLoop reads frames until the connection drops, then hands off to
// the reconnect loop.
func (c *Channel) readLoop() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.log.Warn().Err(err).Msg("channel read failed")
			c.handleDrop()
			return
		}

		frame, err := wire.DecodeFrame(raw)
		if err != nil {
			// One corrupt message must never take the session down.
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Channel) handleDrop() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.setState(StateReconnecting)
	c.fireDisconnect()
	go c.reconnectLoop(context.Background())
}

// newReconnectBackoff builds an exponential backoff with jitter and no
// elapsed-time cap: retries continue until the channel is closed.
func (c *Channel) newReconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitialInterval
	b.MaxInterval = c.cfg.ReconnectMaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return b
}

func (c *Channel) reconnectLoop(ctx context.Context) {
	c.setState(StateReconnecting)
	b := c.newReconnectBackoff()

	for {
		wait := b.NextBackOff()
		select {
		case <-c.closed:
			return
		case <-time.After(wait):
		}

		select {
		case <-c.closed:
			return
		default:
		}

		if err := c.dial(ctx); err != nil {
			c.log.Debug().Err(err).Dur("nextRetryIn", wait).Msg("reconnect attempt failed")
			continue
		}

		go c.readLoop()
		return
	}
}
