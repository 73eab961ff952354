package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// ConnState is the observable state of a channel.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Name labels logs and metrics ("chat", "notifications").
	Name string
	// URL is the http(s) or ws(s) base of the real-time server.
	URL string
	// Path is appended to URL. Defaults to "/ws".
	Path  string
	Token string

	DisableReconnect     bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	DialTimeout          time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	WriteTimeout         time.Duration
	OutboundBuffer       int
	ReadLimit            int64

	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *Metrics

	// Executor runs handler invocations. The session points it at its loop;
	// nil runs handlers inline on the read goroutine.
	Executor func(func())
}

func (c *ChannelConfig) defaults() {
	if c.Name == "" {
		c.Name = "chat"
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.OutboundBuffer == 0 {
		c.OutboundBuffer = 64
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector enforces a fixed delay between a bounded number of attempts.
type reconnector struct {
	mu          sync.Mutex
	delay       time.Duration
	maxAttempts int
	attempt     int
}

func (r *reconnector) next() (int, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt >= r.maxAttempts {
		return r.attempt, 0, false
	}
	r.attempt++
	return r.attempt, r.delay, true
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

// ============================================================================
// Channel
// ============================================================================

// Subscription identifies a registered handler for Off.
type Subscription struct {
	name EventName
	id   uint64
}

type eventHandler struct {
	id uint64
	fn func(InboundEvent)
}

type stateHandler struct {
	id uint64
	fn func(ConnState)
}

// Channel owns one persistent, authenticated WebSocket connection. Outbound
// events are fire-and-forget and dropped while disconnected.
type Channel struct {
	cfg    ChannelConfig
	id     string
	logger *zap.Logger
	recon  *reconnector

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	state      ConnState
	conn       *websocket.Conn
	outbound   chan []byte
	connCancel context.CancelFunc
	closed     bool

	hmu           sync.Mutex
	nextID        uint64
	handlers      map[EventName][]eventHandler
	stateHandlers []stateHandler
}

// NewChannel creates a disconnected channel.
func NewChannel(cfg ChannelConfig) *Channel {
	cfg.defaults()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:        cfg,
		id:         id,
		logger:     cfg.Logger.Named(cfg.Name).With(zap.String("channel_session", id)),
		recon:      &reconnector{delay: cfg.ReconnectDelay, maxAttempts: cfg.MaxReconnectAttempts},
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      StateDisconnected,
		handlers:   make(map[EventName][]eventHandler),
	}
}

// ID is the locally generated identifier of this channel session.
func (c *Channel) ID() string { return c.id }

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether emits are currently accepted.
func (c *Channel) Connected() bool { return c.State() == StateConnected }

// On registers a handler for one inbound event name.
func (c *Channel) On(name EventName, h func(InboundEvent)) Subscription {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.nextID++
	c.handlers[name] = append(c.handlers[name], eventHandler{id: c.nextID, fn: h})
	return Subscription{name: name, id: c.nextID}
}

// OnState registers a handler for connection state transitions.
func (c *Channel) OnState(h func(ConnState)) Subscription {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.nextID++
	c.stateHandlers = append(c.stateHandlers, stateHandler{id: c.nextID, fn: h})
	return Subscription{id: c.nextID}
}

// Off unregisters a handler. Unknown subscriptions are ignored.
func (c *Channel) Off(sub Subscription) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if sub.name == "" {
		for i, h := range c.stateHandlers {
			if h.id == sub.id {
				c.stateHandlers = append(c.stateHandlers[:i:i], c.stateHandlers[i+1:]...)
				return
			}
		}
		return
	}
	hs := c.handlers[sub.name]
	for i, h := range hs {
		if h.id == sub.id {
			c.handlers[sub.name] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Open dials the real-time server with the credential as a query parameter.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.transition(StateConnecting)

	if err := c.dial(ctx); err != nil {
		c.transition(StateDisconnected)
		return &TransportError{Op: "connect", Err: err}
	}
	c.logger.Info("channel connected")
	return nil
}

// Start opens the channel and, when the first dial fails, falls back to the
// bounded reconnect schedule instead of giving up. The dial error is still
// returned so callers can log it.
func (c *Channel) Start(ctx context.Context) error {
	err := c.Open(ctx)
	if err == nil || errors.Is(err, ErrChannelClosed) {
		return err
	}
	if !c.cfg.DisableReconnect {
		go c.reconnectLoop()
	}
	return err
}

// Close releases the connection deterministically. No reconnect follows.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.connCancel
	c.conn = nil
	c.outbound = nil
	c.connCancel = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	c.baseCancel()
	c.transition(StateDisconnected)
	c.logger.Info("channel closed")
	return err
}

// Emit sends a fire-and-forget event. While disconnected the event is dropped
// and ErrNotConnected is returned.
func (c *Channel) Emit(ev OutboundEvent) error {
	frame, err := EncodeOutbound(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	out := c.outbound
	connected := c.state == StateConnected && out != nil
	c.mu.Unlock()

	if !connected {
		c.cfg.Metrics.emitDropped(c.cfg.Name, ev.EventName())
		c.logger.Debug("dropping emit while disconnected", zap.String("event", string(ev.EventName())))
		return ErrNotConnected
	}

	select {
	case out <- frame:
		return nil
	default:
		c.cfg.Metrics.emitDropped(c.cfg.Name, ev.EventName())
		c.logger.Warn("dropping emit, outbound buffer full", zap.String("event", string(ev.EventName())))
		return ErrOutboundFull
	}
}

func (c *Channel) socketURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported channel url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.cfg.Path
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) dial(ctx context.Context) error {
	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient})
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	connCtx, connCancel := context.WithCancel(c.baseCtx)
	out := make(chan []byte, c.cfg.OutboundBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return ErrChannelClosed
	}
	c.conn = conn
	c.outbound = out
	c.connCancel = connCancel
	c.mu.Unlock()

	c.recon.reset()
	c.transition(StateConnected)

	go c.readLoop(connCtx, conn)
	go c.writeLoop(connCtx, conn, out)
	go c.heartbeatLoop(connCtx, conn)
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDrop(conn, err)
			return
		}

		ev, err := DecodeInbound(data)
		if err != nil {
			c.cfg.Metrics.eventDropped("undecodable")
			c.logger.Warn("skipping undecodable frame", zap.Error(err))
			continue
		}
		c.cfg.Metrics.eventReceived(c.cfg.Name, ev.EventName())
		c.dispatch(ev)
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-out:
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func (c *Channel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	if c.cfg.HeartbeatInterval < 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.HeartbeatTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("heartbeat failed, forcing reconnect", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *Channel) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	cancel := c.connCancel
	c.conn = nil
	c.outbound = nil
	c.connCancel = nil
	closed := c.closed
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closed {
		return
	}

	c.logger.Warn("channel dropped", zap.Error(cause))
	c.transition(StateDisconnected)
	if !c.cfg.DisableReconnect {
		go c.reconnectLoop()
	}
}

func (c *Channel) reconnectLoop() {
	for {
		attempt, delay, ok := c.recon.next()
		if !ok {
			break
		}
		c.cfg.Metrics.reconnectAttempt(c.cfg.Name)
		c.transition(StateConnecting)
		c.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-c.baseCtx.Done():
			return
		}

		err := c.dial(c.baseCtx)
		if err == nil {
			c.logger.Info("channel reconnected", zap.Int("attempt", attempt))
			return
		}
		if errors.Is(err, ErrChannelClosed) || c.baseCtx.Err() != nil {
			return
		}
		c.logger.Warn("reconnect failed", zap.Error(&TransportError{Op: "reconnect", Attempt: attempt, Err: err}))
	}

	c.transition(StateDisconnected)
	c.logger.Error("reconnect attempts exhausted", zap.Int("max_attempts", c.cfg.MaxReconnectAttempts))
}

func (c *Channel) transition(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.cfg.Metrics.setState(c.cfg.Name, s)
	c.exec(func() {
		c.hmu.Lock()
		hs := append([]stateHandler(nil), c.stateHandlers...)
		c.hmu.Unlock()
		for _, h := range hs {
			h.fn(s)
		}
	})
}

func (c *Channel) dispatch(ev InboundEvent) {
	c.exec(func() {
		c.hmu.Lock()
		hs := append([]eventHandler(nil), c.handlers[ev.EventName()]...)
		c.hmu.Unlock()
		if len(hs) == 0 {
			c.cfg.Metrics.eventDropped("unhandled")
			return
		}
		for _, h := range hs {
			h.fn(ev)
		}
	})
}

func (c *Channel) exec(f func()) {
	if c.cfg.Executor != nil {
		c.cfg.Executor(f)
		return
	}
	f()
}
