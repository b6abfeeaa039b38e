package chatroom

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/assistant"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/models"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/google/uuid"
)

// ErrRoomClosed is returned when joining a room that already terminated
var ErrRoomClosed = errors.New("room closed")

// Store is the persistence a room needs
type Store interface {
	ChatExists(ctx context.Context, id string) (bool, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	AppendMessage(ctx context.Context, chatID string, msg *models.Message) error
	ReplaceMessageSet(ctx context.Context, chatID string, msgs []models.Message) (int, error)
}

// RoomConfig tunes a room
type RoomConfig struct {
	IdleTimeout  time.Duration
	StoreTimeout time.Duration
}

func (c RoomConfig) withDefaults() RoomConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Hour
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	return c
}

type registration struct {
	id     string
	socket Socket
	ack    chan struct{}
}

type inbound struct {
	connID string
	data   []byte
}

type assistantReply struct {
	origin string
	msg    models.Message
	err    error
}

// Room is the single owner of one chat's connections. Every operation on
// the room runs on its goroutine, so registry changes, persistence and
// broadcasts are applied one at a time in arrival order.
type Room struct {
	chatID    string
	cfg       RoomConfig
	registry  *Registry
	reaper    *reaper
	store     Store
	assistant assistant.Assistant
	metrics   *Metrics
	log       *logger.Logger
	now       func() time.Time

	register   chan registration
	unregister chan string
	inbound    chan inbound
	replies    chan assistantReply
	shutdown   chan int
	done       chan struct{}

	conns atomic.Int64
}

// NewRoom creates a room; call Run to start it. store and asst may be nil.
func NewRoom(chatID string, cfg RoomConfig, store Store, asst assistant.Assistant, metrics *Metrics, log *logger.Logger) *Room {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NopMetrics()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Room{
		chatID:     chatID,
		cfg:        cfg,
		registry:   NewRegistry(),
		reaper:     newReaper(cfg.IdleTimeout),
		store:      store,
		assistant:  asst,
		metrics:    metrics,
		log:        log.WithChat(chatID),
		now:        time.Now,
		register:   make(chan registration),
		unregister: make(chan string),
		inbound:    make(chan inbound),
		replies:    make(chan assistantReply),
		shutdown:   make(chan int, 1),
		done:       make(chan struct{}),
	}
}

// ChatID returns the chat this room serves
func (r *Room) ChatID() string { return r.chatID }

// Done is closed once the room has terminated
func (r *Room) Done() <-chan struct{} { return r.done }

// Connections returns the current number of registered connections
func (r *Room) Connections() int { return int(r.conns.Load()) }

// Run processes room events until the room is reaped, shut down or ctx is
// cancelled.
func (r *Room) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.metrics.roomOpened()
	defer r.metrics.roomClosed()
	defer close(r.done)
	defer r.reaper.Stop()

	for {
		select {
		case reg := <-r.register:
			r.registry.Register(reg.id, reg.socket)
			r.connAdded()
			r.reaper.Schedule()
			r.sendTo(reg.id, ConnectedEvent{Type: EventConnected, ConnectionID: reg.id, ChatID: r.chatID})
			close(reg.ack)
			r.log.Debug("Connection registered", "connection_id", reg.id, "connections", r.registry.Len())

		case id := <-r.unregister:
			if _, ok := r.registry.Get(id); ok {
				r.registry.Unregister(id)
				r.connRemoved(1)
				r.log.Debug("Connection unregistered", "connection_id", id, "connections", r.registry.Len())
			}

		case in := <-r.inbound:
			r.route(ctx, in)

		case rep := <-r.replies:
			r.handleReply(ctx, rep)

		case <-r.reaper.C():
			if !r.reaper.Due() {
				continue
			}
			r.log.Info("Idle timeout reached, closing room", "connections", r.registry.Len())
			r.metrics.roomReaped()
			r.closeAll(CloseServiceRestart, "idle timeout")
			return

		case code := <-r.shutdown:
			r.closeAll(code, "server shutting down")
			return

		case <-ctx.Done():
			r.closeAll(CloseGoingAway, "server shutting down")
			return
		}
	}
}

// Join registers socket and returns its connection id. The socket has
// received its connected event when Join returns.
func (r *Room) Join(socket Socket) (string, error) {
	reg := registration{id: uuid.NewString(), socket: socket, ack: make(chan struct{})}

	select {
	case r.register <- reg:
	case <-r.done:
		return "", ErrRoomClosed
	}

	select {
	case <-reg.ack:
		return reg.id, nil
	case <-r.done:
		return "", ErrRoomClosed
	}
}

// Leave unregisters a connection; it is a no-op once the room is gone
func (r *Room) Leave(connID string) {
	select {
	case r.unregister <- connID:
	case <-r.done:
	}
}

// Deliver queues an inbound frame from connID
func (r *Room) Deliver(connID string, data []byte) {
	select {
	case r.inbound <- inbound{connID: connID, data: data}:
	case <-r.done:
	}
}

// Close asks the room to close every connection with code and terminate
func (r *Room) Close(code int) {
	select {
	case r.shutdown <- code:
	default:
	}
}

func (r *Room) connAdded() {
	r.conns.Add(1)
	r.metrics.connAdded()
}

func (r *Room) connRemoved(n int) {
	if n <= 0 {
		return
	}
	r.conns.Add(-int64(n))
	r.metrics.connRemoved(n)
}

func (r *Room) closeAll(code int, reason string) {
	for id, s := range r.registry.All() {
		if err := s.Close(code, reason); err != nil {
			r.log.Debug("Close failed", "connection_id", id, "error", err)
		}
	}
	r.connRemoved(r.registry.Len())
	r.registry.Clear()
}

// broadcast fans payload out and accounts for pruned connections
func (r *Room) broadcast(v any, exclude string) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.log.LogError(err, "Failed to encode broadcast")
		return
	}

	pruned := Broadcast(r.registry, payload, exclude)
	if len(pruned) > 0 {
		r.connRemoved(len(pruned))
		r.metrics.sendFailed(len(pruned))
		r.log.Debug("Pruned connections", "count", len(pruned), "connections", r.registry.Len())
	}
}

// sendTo writes one event to a single connection, pruning it on failure
func (r *Room) sendTo(connID string, v any) {
	s, ok := r.registry.Get(connID)
	if !ok {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		r.log.LogError(err, "Failed to encode event")
		return
	}

	if err := s.Send(payload); err != nil {
		r.registry.Unregister(connID)
		r.connRemoved(1)
		r.metrics.sendFailed(1)
	}
}

func (r *Room) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}
