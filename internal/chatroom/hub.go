package chatroom

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/assistant"
	apperrors "github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/errors"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ErrHubClosed is returned once Shutdown has started
var ErrHubClosed = errors.New("hub closed")

const joinAttempts = 3

// HubConfig tunes the hub and the rooms it creates
type HubConfig struct {
	Room           RoomConfig
	Socket         SocketOptions
	AllowedOrigins []string
}

// Stats is a point-in-time view of the hub
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Hub maps chat ids to running rooms, creating them on first join
type Hub struct {
	cfg       HubConfig
	store     Store
	assistant assistant.Assistant
	metrics   *Metrics
	log       *logger.Logger
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// NewHub creates a hub. store and asst may be nil for a relay-only hub.
func NewHub(cfg HubConfig, store Store, asst assistant.Assistant, metrics *Metrics, log *logger.Logger) *Hub {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if log == nil {
		log = logger.Nop()
	}
	cfg.Socket = cfg.Socket.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:       cfg,
		store:     store,
		assistant: asst,
		metrics:   metrics,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]*Room),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// room returns the running room for chatID, starting one if needed
func (h *Hub) room(chatID string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if r, ok := h.rooms[chatID]; ok {
		select {
		case <-r.Done():
		default:
			return r, nil
		}
	}

	r := NewRoom(chatID, h.cfg.Room, h.store, h.assistant, h.metrics, h.log)
	h.rooms[chatID] = r
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		r.Run(h.ctx)
		h.forget(chatID, r)
	}()
	return r, nil
}

func (h *Hub) forget(chatID string, r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[chatID] == r {
		delete(h.rooms, chatID)
	}
}

// Join registers socket with the chat's room. A join that races a room
// terminating is retried on a fresh room.
func (h *Hub) Join(chatID string, socket Socket) (*Room, string, error) {
	var lastErr error
	for range joinAttempts {
		r, err := h.room(chatID)
		if err != nil {
			return nil, "", err
		}
		id, err := r.Join(socket)
		if err == nil {
			return r, id, nil
		}
		lastErr = err
		h.forget(chatID, r)
	}
	return nil, "", lastErr
}

// Stats counts running rooms and their connections
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{Rooms: len(h.rooms)}
	for _, r := range h.rooms {
		st.Connections += r.Connections()
	}
	return st
}

// Closed reports whether Shutdown was called
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// ServeWS upgrades GET /ws?chatId=... and attaches the connection to its room
func (h *Hub) ServeWS(c *gin.Context) {
	log := logger.FromContext(c)

	chatID := c.Query("chatId")
	if chatID == "" {
		_ = c.Error(apperrors.NewBadRequestError("CHAT_ID_REQUIRED", "chatId query parameter is required"))
		return
	}

	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.Header("Upgrade", "websocket")
		_ = c.Error(apperrors.NewUpgradeRequiredError("UPGRADE_REQUIRED", "Expected Upgrade: websocket"))
		return
	}

	if h.Closed() {
		_ = c.Error(apperrors.NewError(http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down"))
		return
	}

	if h.store != nil {
		ok, err := h.store.ChatExists(c.Request.Context(), chatID)
		if err != nil {
			_ = c.Error(apperrors.NewInternalServerError("STORE_ERROR", "Failed to look up chat").WithCause(err))
			return
		}
		if !ok {
			_ = c.Error(apperrors.NewNotFoundError("CHAT_NOT_FOUND", "Chat not found"))
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already replied
		log.LogError(err, "WebSocket upgrade failed", "chat_id", chatID)
		return
	}

	socket := newWSSocket(conn, h.cfg.Socket)
	room, connID, err := h.Join(chatID, socket)
	if err != nil {
		log.LogError(err, "Failed to join room", "chat_id", chatID)
		_ = socket.Close(CloseGoingAway, "server shutting down")
		return
	}

	log.Info("WebSocket connected", "chat_id", chatID, "connection_id", connID)

	go socket.writePump()
	go socket.readPump(
		func(data []byte) { room.Deliver(connID, data) },
		func(err error) {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseServiceRestart) {
				log.Debug("WebSocket read ended", "chat_id", chatID, "connection_id", connID, "error", err)
			}
			room.Leave(connID)
		},
	)
}

// Shutdown closes every connection with 1001 and waits for rooms to stop
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Close(CloseGoingAway)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		return ctx.Err()
	}
}
