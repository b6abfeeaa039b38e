package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/models"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/settings"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/store"
	apperrors "github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/errors"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ChatStore is the persistence the chat endpoints need
type ChatStore interface {
	CreateChat(ctx context.Context, title string) (*models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ChatExists(ctx context.Context, id string) (bool, error)
	ListChats(ctx context.Context) ([]models.Chat, error)
	RenameChat(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) error
}

// ChatHandler serves chat CRUD and per-chat settings
type ChatHandler struct {
	store    ChatStore
	settings *settings.Service
}

// NewChatHandler creates a chat handler
func NewChatHandler(store ChatStore, settings *settings.Service) *ChatHandler {
	return &ChatHandler{store: store, settings: settings}
}

// RegisterRoutes mounts the chat routes under group
func (h *ChatHandler) RegisterRoutes(group *gin.RouterGroup) {
	chats := group.Group("/chats")
	{
		chats.GET("", h.ListChats)
		chats.POST("", h.CreateChat)
		chats.GET("/:id", h.GetChat)
		chats.PATCH("/:id", h.RenameChat)
		chats.DELETE("/:id", h.DeleteChat)
		chats.GET("/:id/settings", h.GetSettings)
		chats.PUT("/:id/settings", h.PutSettings)
	}
}

type titleRequest struct {
	Title string `json:"title"`
}

// SettingsResponse is the public view of a chat's settings; the API key
// itself is never returned.
type SettingsResponse struct {
	Model       string `json:"model"`
	BrowserType string `json:"browserType,omitempty"`
	HasAPIKey   bool   `json:"hasApiKey"`
}

func settingsResponse(cs settings.ChatSettings) SettingsResponse {
	return SettingsResponse{Model: cs.Model, BrowserType: cs.BrowserType, HasAPIKey: cs.APIKey != ""}
}

// storeError maps store failures onto API errors
func storeError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, store.ErrChatNotFound):
		return apperrors.NewNotFoundError("CHAT_NOT_FOUND", "Chat not found")
	case errors.Is(err, store.ErrInvalidRole):
		return apperrors.NewBadRequestError("INVALID_ROLE", "Invalid message role")
	default:
		return apperrors.NewInternalServerError("STORE_ERROR", "Failed to access chat storage").WithCause(err)
	}
}

// ListChats returns every chat, most recently active first
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.store.ListChats(c.Request.Context())
	if err != nil {
		_ = c.Error(storeError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// CreateChat creates a chat; the body is optional
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req titleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.NewBadRequestError("INVALID_BODY", "Invalid request body").WithCause(err))
			return
		}
	}

	chat, err := h.store.CreateChat(c.Request.Context(), req.Title)
	if err != nil {
		_ = c.Error(storeError(err))
		return
	}

	logger.FromContext(c).Info("Chat created", "chat_id", chat.ID)
	c.JSON(http.StatusCreated, chat)
}

// GetChat returns a chat with its ordered messages
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.store.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(storeError(err))
		return
	}
	c.JSON(http.StatusOK, chat)
}

// RenameChat changes a chat's title
func (h *ChatHandler) RenameChat(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		_ = c.Error(apperrors.NewBadRequestError("INVALID_BODY", "title is required"))
		return
	}

	id := c.Param("id")
	if err := h.store.RenameChat(c.Request.Context(), id, req.Title); err != nil {
		_ = c.Error(storeError(err))
		return
	}

	chat, err := h.store.GetChat(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(storeError(err))
		return
	}
	c.JSON(http.StatusOK, chat)
}

// DeleteChat removes a chat, its messages and its settings
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteChat(c.Request.Context(), id); err != nil {
		_ = c.Error(storeError(err))
		return
	}

	if err := h.settings.Delete(c.Request.Context(), id); err != nil {
		logger.FromContext(c).LogError(err, "Failed to delete chat settings", "chat_id", id)
	}

	logger.FromContext(c).Info("Chat deleted", "chat_id", id)
	c.Status(http.StatusNoContent)
}

// GetSettings returns the chat's settings merged over the defaults
func (h *ChatHandler) GetSettings(c *gin.Context) {
	id := c.Param("id")
	if !h.requireChat(c, id) {
		return
	}

	cs, err := h.settings.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(apperrors.NewInternalServerError("SETTINGS_ERROR", "Failed to load settings").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, settingsResponse(cs))
}

// PutSettings replaces the chat's settings
func (h *ChatHandler) PutSettings(c *gin.Context) {
	id := c.Param("id")

	var req settings.ChatSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewBadRequestError("INVALID_BODY", "Invalid settings body").WithCause(err))
		return
	}
	if !h.requireChat(c, id) {
		return
	}

	cs, err := h.settings.Put(c.Request.Context(), id, req)
	if err != nil {
		_ = c.Error(apperrors.NewInternalServerError("SETTINGS_ERROR", "Failed to store settings").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, settingsResponse(cs))
}

func (h *ChatHandler) requireChat(c *gin.Context, id string) bool {
	ok, err := h.store.ChatExists(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(storeError(err))
		return false
	}
	if !ok {
		_ = c.Error(storeError(store.ErrChatNotFound))
		return false
	}
	return true
}
