// Package wsclient implements the transport and WebSocket client layer:
// connect/subscribe/frames/disconnect over a single market or user
// channel, reconnect with exponential backoff and jitter, and a
// heartbeat that forces a reconnect after missed pongs. It never
// interprets frame payloads — that is the decoder's job one layer up.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/links234/streamcore/internal/config"
	"github.com/links234/streamcore/pkg/types"
)

// ChannelKind distinguishes the public market feed from the
// authenticated per-account user feed. They are independent connections
// with independent subscription sets.
type ChannelKind string

const (
	ChannelMarket ChannelKind = "market"
	ChannelUser   ChannelKind = "user"
)

const writeTimeout = 10 * time.Second

// Conn manages one WebSocket connection's full lifecycle: dial,
// subscribe, read frames, heartbeat, and reconnect-with-backoff on
// failure. Use Frames to receive raw frame payloads and Run to drive
// the connection loop until ctx is canceled.
type Conn struct {
	url     string
	channel ChannelKind
	auth    *types.UserAuth
	cfg     config.TransportConfig
	logger  *slog.Logger

	connMu sync.Mutex
	ws     *websocket.Conn

	subMu    sync.Mutex
	assets   map[string]struct{}
	markets  map[string]struct{}

	framesCh chan []byte

	lastPongMu sync.Mutex
	lastPong   time.Time
}

// NewConn builds a Conn for one channel. auth is nil for the market
// channel; for the user channel it is resent on every (re)connect.
func NewConn(url string, channel ChannelKind, auth *types.UserAuth, cfg config.TransportConfig, logger *slog.Logger) *Conn {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 256
	}
	return &Conn{
		url:      url,
		channel:  channel,
		auth:     auth,
		cfg:      cfg,
		logger:   logger,
		assets:   make(map[string]struct{}),
		markets:  make(map[string]struct{}),
		framesCh: make(chan []byte, cfg.EventBufferSize),
	}
}

// Frames returns the channel raw frame payloads are delivered on.
func (c *Conn) Frames() <-chan []byte {
	return c.framesCh
}

// Subscribe adds assetIDs/markets to this connection's subscription and,
// if currently connected, sends the subscribe frame immediately.
func (c *Conn) Subscribe(ctx context.Context, assetIDs, markets []string) error {
	c.subMu.Lock()
	for _, a := range assetIDs {
		c.assets[a] = struct{}{}
	}
	for _, m := range markets {
		c.markets[m] = struct{}{}
	}
	c.subMu.Unlock()
	return c.sendSubscription(ctx)
}

func (c *Conn) sendSubscription(ctx context.Context) error {
	c.subMu.Lock()
	msg := types.WSSubscribeMsg{
		Type:     string(c.channel),
		AssetIDs: keys(c.assets),
		Markets:  keys(c.markets),
		Auth:     c.auth,
	}
	c.subMu.Unlock()
	return c.writeJSON(msg)
}

func keys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Disconnect closes the current connection, if any. Run will then
// either exit (if its context is done) or reconnect.
func (c *Conn) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
}

// ConnectError reports that this connection's first dial attempt
// failed. Start returns one synchronously instead of retrying silently
// in the background, so a caller can fail fast on startup; Run's
// internal reconnect loop still engages for every attempt after the
// first.
type ConnectError struct {
	URL     string
	Channel ChannelKind
	Cause   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s channel at %s: %v", e.Channel, e.URL, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// Start performs one synchronous dial-and-subscribe attempt and reports
// its outcome as a *ConnectError if the endpoint is unreachable,
// instead of Run's usual silent-retry behavior. On success the live
// connection is handed to a background goroutine that serves it and,
// once that connection eventually drops, falls into the same
// reconnect-with-backoff loop Run uses.
func (c *Conn) Start(ctx context.Context) error {
	ws, err := c.connect(ctx)
	if err != nil {
		return &ConnectError{URL: c.url, Channel: c.channel, Cause: err}
	}
	go func() {
		if err := c.serve(ctx, ws); err != nil && ctx.Err() == nil {
			c.logger.Warn("ws connection failed", "channel", c.channel, "error", err, "attempt", 0)
		}
		if ctx.Err() != nil {
			return
		}
		wait := backoff(c.cfg.InitialReconnectionDelay, c.cfg.MaxReconnectionDelay, 0)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		c.reconnectLoop(ctx, 1)
	}()
	return nil
}

// Run drives connect → subscribe → heartbeat → read until ctx is
// canceled, reconnecting with exponential backoff and jitter between
// attempts. It returns when ctx is done. Unlike Start, a failed first
// attempt is retried the same as any other — use Start when the caller
// needs to observe first-attempt failure directly.
func (c *Conn) Run(ctx context.Context) {
	c.reconnectLoop(ctx, 0)
}

func (c *Conn) reconnectLoop(ctx context.Context, attempt int) {
	for {
		if ctx.Err() != nil {
			return
		}
		ws, err := c.connect(ctx)
		if err == nil {
			err = c.serve(ctx, ws)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("ws connection failed", "channel", c.channel, "error", err, "attempt", attempt)
		}
		if c.cfg.MaxReconnectionAttempts > 0 && attempt >= c.cfg.MaxReconnectionAttempts {
			c.logger.Error("giving up after max reconnection attempts", "channel", c.channel, "attempts", attempt)
			return
		}
		wait := backoff(c.cfg.InitialReconnectionDelay, c.cfg.MaxReconnectionDelay, attempt)
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// backoff computes min(max, initial*2^attempt) with up to 20% jitter,
// the exponential-backoff-with-jitter formula this client's reconnect
// loop follows.
func backoff(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	wait := initial
	for i := 0; i < attempt; i++ {
		wait *= 2
		if max > 0 && wait >= max {
			wait = max
			break
		}
	}
	if max > 0 && wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait)/5 + 1))
	return wait + jitter
}

// connect dials the endpoint and sends the initial subscribe frame. On
// success the connection is installed as c.ws but not yet served; the
// caller decides whether to run it inline (Start) or hand it to serve
// from within the reconnect loop.
func (c *Conn) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.ws = ws
	c.connMu.Unlock()

	c.touchPong()

	if err := c.sendSubscription(ctx); err != nil {
		c.connMu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.connMu.Unlock()
		_ = ws.Close()
		return nil, fmt.Errorf("initial subscribe: %w", err)
	}
	return ws, nil
}

// serve runs the heartbeat and read loop for an already-connected ws
// until it errors or ctx is canceled. It owns ws's lifetime: it always
// closes it on return.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) error {
	defer func() {
		c.connMu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.connMu.Unlock()
		_ = ws.Close()
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(runCtx, ws)
	}

	idle := c.cfg.IdleTimeout
	if idle <= 0 {
		idle = 90 * time.Second
	}

	for {
		_ = ws.SetReadDeadline(time.Now().Add(idle))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if isPong(msg) {
			c.touchPong()
			continue
		}
		select {
		case c.framesCh <- msg:
		default:
			c.logger.Warn("frame channel full, dropping frame", "channel", c.channel)
		}
	}
}

// isPong reports whether a frame is the application-level "PONG" text
// reply to our heartbeat PING, as opposed to a decodable market/user
// event frame.
func isPong(msg []byte) bool {
	return string(msg) == "PONG"
}

func (c *Conn) touchPong() {
	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()
}

// heartbeatLoop sends an application-level text "PING" frame at
// HeartbeatInterval and closes the connection if two consecutive
// intervals pass without a "PONG" reply, forcing Run to reconnect. The
// exchange replies at the application layer, not with a WebSocket
// protocol-level pong control frame, so the read loop (not a
// SetPongHandler) is what calls touchPong.
func (c *Conn) heartbeatLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.lastPongMu.Lock()
			last := c.lastPong
			c.lastPongMu.Unlock()
			if time.Since(last) > 2*c.cfg.HeartbeatInterval {
				c.logger.Warn("missed two heartbeats, forcing reconnect", "channel", c.channel)
				_ = ws.Close()
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping write failed", "channel", c.channel, "error", err)
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.ws == nil {
		return nil // nothing connected yet; sendSubscription on connect will carry current state
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}
