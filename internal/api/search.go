package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/assistant"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/search"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/settings"
	apperrors "github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/errors"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/resilience"

	"github.com/gin-gonic/gin"
)

// SearchHandler proxies streamed answers from the search upstream
type SearchHandler struct {
	streamer assistant.Streamer
	settings *settings.Service
}

// NewSearchHandler creates a search handler; settings may be nil
func NewSearchHandler(streamer assistant.Streamer, settings *settings.Service) *SearchHandler {
	return &SearchHandler{streamer: streamer, settings: settings}
}

// RegisterRoutes mounts POST /search under group
func (h *SearchHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/search", h.Search)
}

type searchRequest struct {
	Query    string           `json:"query"`
	ChatID   string           `json:"chatId"`
	Messages []search.Message `json:"messages"`
}

func upstreamError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, search.ErrRateLimited):
		return apperrors.NewTooManyRequestsError("UPSTREAM_RATE_LIMITED", "Search upstream is rate limiting requests").WithCause(err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.NewError(http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Search upstream is temporarily unavailable").WithCause(err)
	case errors.Is(err, search.ErrNotConfigured):
		return apperrors.NewError(http.StatusServiceUnavailable, "SEARCH_DISABLED", "Search is not configured").WithCause(err)
	default:
		return apperrors.NewBadGatewayError("UPSTREAM_ERROR", "Search upstream failed").WithCause(err)
	}
}

// Search streams chunk, error and done events as server-sent events
func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		_ = c.Error(apperrors.NewBadRequestError("QUERY_REQUIRED", "query is required"))
		return
	}

	upstream := search.Request{Query: req.Query, Messages: req.Messages}
	if req.ChatID != "" && h.settings != nil {
		cs, err := h.settings.Get(c.Request.Context(), req.ChatID)
		if err != nil {
			_ = c.Error(apperrors.NewInternalServerError("SETTINGS_ERROR", "Failed to load settings").WithCause(err))
			return
		}
		upstream.Model = cs.Model
		upstream.APIKey = cs.APIKey
	}

	events, err := h.streamer.Stream(c.Request.Context(), upstream)
	if err != nil {
		_ = c.Error(upstreamError(err))
		return
	}

	log := logger.FromContext(c)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == search.EventError {
				log.Warn("Search stream error", "error", ev.Error)
			}
			c.SSEvent(ev.Type, ev)
			c.Writer.Flush()
			if ev.Type != search.EventChunk {
				return
			}
		}
	}
}
