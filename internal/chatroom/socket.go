package chatroom

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a socket
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

var (
	// ErrSocketClosed is returned when sending on a socket that is not open
	ErrSocketClosed = errors.New("socket closed")
	// ErrSendQueueFull is returned when a slow peer has filled its queue
	ErrSendQueueFull = errors.New("socket send queue full")
)

// Close codes used by rooms
const (
	CloseNormal         = websocket.CloseNormalClosure
	CloseGoingAway      = websocket.CloseGoingAway
	CloseServiceRestart = websocket.CloseServiceRestart
)

// Socket is one client connection as seen by a room
type Socket interface {
	State() State
	// Send queues a text frame. It never blocks on the network.
	Send(data []byte) error
	Close(code int, reason string) error
}

// SocketOptions tunes the gorilla connection pumps
type SocketOptions struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendQueueSize  int
}

// DefaultSocketOptions mirrors the limits the hub uses in production
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 512 * 1024,
		SendQueueSize:  256,
	}
}

func (o SocketOptions) withDefaults() SocketOptions {
	d := DefaultSocketOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = d.SendQueueSize
	}
	return o
}

// wsSocket adapts a gorilla connection to Socket. Frames are written by a
// single write pump; Close uses WriteControl, which gorilla allows
// concurrently with the pump.
type wsSocket struct {
	conn  *websocket.Conn
	opts  SocketOptions
	send  chan []byte
	done  chan struct{}
	state atomic.Int32
	once  sync.Once
}

func newWSSocket(conn *websocket.Conn, opts SocketOptions) *wsSocket {
	opts = opts.withDefaults()
	s := &wsSocket{
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendQueueSize),
		done: make(chan struct{}),
	}
	s.state.Store(int32(StateOpen))
	return s
}

func (s *wsSocket) State() State {
	return State(s.state.Load())
}

func (s *wsSocket) Send(data []byte) error {
	if s.State() != StateOpen {
		return ErrSocketClosed
	}

	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		s.teardown(nil)
		return ErrSendQueueFull
	}
}

func (s *wsSocket) Close(code int, reason string) error {
	var err error
	s.teardown(func() {
		deadline := time.Now().Add(s.opts.WriteWait)
		err = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	})
	return err
}

// teardown runs once: it optionally writes a close frame, stops the pumps
// and releases the connection.
func (s *wsSocket) teardown(beforeClose func()) {
	s.once.Do(func() {
		s.state.Store(int32(StateClosing))
		if beforeClose != nil {
			beforeClose()
		}
		close(s.done)
		_ = s.conn.Close()
		s.state.Store(int32(StateClosed))
	})
}

// writePump drains the send queue and keeps the peer alive with pings
func (s *wsSocket) writePump() {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.teardown(nil)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.teardown(nil)
				return
			}
		}
	}
}

// readPump hands every inbound frame to onMessage until the connection
// fails, then calls onClose with the read error.
func (s *wsSocket) readPump(onMessage func([]byte), onClose func(error)) {
	s.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	var readErr error
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		onMessage(data)
	}

	s.teardown(nil)
	onClose(readErr)
}
