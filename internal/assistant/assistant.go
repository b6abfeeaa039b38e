package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/models"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/search"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/settings"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/google/uuid"
)

// ErrEmptyReply is returned when the upstream produced no text
var ErrEmptyReply = errors.New("assistant produced an empty reply")

// Assistant produces the next assistant message for a chat history
type Assistant interface {
	Reply(ctx context.Context, chatID string, history []models.Message) (models.Message, error)
}

// Func adapts a function to Assistant
type Func func(ctx context.Context, chatID string, history []models.Message) (models.Message, error)

func (f Func) Reply(ctx context.Context, chatID string, history []models.Message) (models.Message, error) {
	return f(ctx, chatID, history)
}

// Streamer opens a streamed upstream answer
type Streamer interface {
	Stream(ctx context.Context, req search.Request) (<-chan search.Event, error)
}

// SearchAssistant answers with the search+LLM upstream using the model
// chosen in each chat's settings.
type SearchAssistant struct {
	streamer Streamer
	settings *settings.Service
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// NewSearchAssistant creates an assistant; timeout bounds one reply
func NewSearchAssistant(streamer Streamer, settings *settings.Service, timeout time.Duration, log *logger.Logger) *SearchAssistant {
	return &SearchAssistant{
		streamer: streamer,
		settings: settings,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

func (a *SearchAssistant) Reply(ctx context.Context, chatID string, history []models.Message) (models.Message, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cs, err := a.settings.Get(ctx, chatID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load chat settings: %w", err)
	}

	req := search.Request{
		Model:    cs.Model,
		APIKey:   cs.APIKey,
		Messages: make([]search.Message, 0, len(history)),
	}
	for _, m := range history {
		req.Messages = append(req.Messages, search.Message{Role: string(m.Role), Content: m.Content})
	}

	events, err := a.streamer.Stream(ctx, req)
	if err != nil {
		return models.Message{}, err
	}

	text, err := search.Collect(ctx, events)
	if err != nil {
		return models.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyReply
	}

	a.log.Debug("Assistant reply ready", "chat_id", chatID, "model", cs.Model, "length", len(text))

	return models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: a.now().UnixMilli(),
	}, nil
}
