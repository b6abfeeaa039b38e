// Package chatclient is a WebSocket client for chat rooms that redials with
// exponential backoff until its context is cancelled.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Send while no connection is up
	ErrNotConnected = errors.New("chatclient: not connected")
	// ErrRejected is returned by Run when the server refuses the handshake
	// with a client error such as an unknown chat.
	ErrRejected = errors.New("chatclient: handshake rejected")
)

// Handler receives every frame read from the room
type Handler func(ctx context.Context, frame []byte)

// Options configures a Client
type Options struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	WriteWait      time.Duration

	// OnConnect runs after each successful dial
	OnConnect func()
	Logger    *logger.Logger
}

// Client keeps one live connection to a room
type Client struct {
	opts    Options
	handler Handler

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a client; call Run to connect
func New(opts Options, handler Handler) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if handler == nil {
		handler = func(context.Context, []byte) {}
	}
	return &Client{opts: opts, handler: handler}
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run connects and reconnects until ctx is cancelled, returning ctx.Err().
// A handshake refused with a 4xx status stops Run with ErrRejected.
func (c *Client) Run(ctx context.Context) error {
	b := c.newBackOff()

	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		c.opts.Logger.Warn("Chat connection lost, reconnecting", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session dials once and reads until the connection drops
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return false, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		}
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		c.handler(ctx, frame)
	}
}

// Connected reports whether a connection is currently up
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes v as a JSON text frame on the current connection
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteJSON(v)
}
