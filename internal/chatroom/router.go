package chatroom

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/models"
)

// envelope is the part of every inbound frame the router dispatches on
type envelope struct {
	Type *string `json:"type"`
}

type chatUpdatedFrame struct {
	Messages json.RawMessage `json:"messages"`
}

type typingFrame struct {
	IsTyping any `json:"isTyping"`
}

// route dispatches one inbound frame. Frames from connections that are no
// longer registered are dropped.
func (r *Room) route(ctx context.Context, in inbound) {
	if _, ok := r.registry.Get(in.connID); !ok {
		return
	}

	var env envelope
	if err := json.Unmarshal(in.data, &env); err != nil || env.Type == nil {
		r.metrics.messageReceived("invalid")
		r.sendTo(in.connID, errorEvent(ErrMsgInvalidFormat))
		return
	}

	r.metrics.messageReceived(*env.Type)

	switch *env.Type {
	case TypeChat:
		r.handleChat(ctx, in)
	case TypeChatUpdated:
		var frame chatUpdatedFrame
		_ = json.Unmarshal(in.data, &frame)
		r.handleChatUpdated(ctx, in.connID, frame.Messages)
	case TypeTyping:
		var frame typingFrame
		_ = json.Unmarshal(in.data, &frame)
		r.broadcast(TypingEvent{
			Type:         EventUserTyping,
			IsTyping:     frame.IsTyping == true,
			ConnectionID: in.connID,
			ChatID:       r.chatID,
			Timestamp:    r.now().UnixMilli(),
		}, in.connID)
	default:
		r.sendTo(in.connID, errorEvent(ErrMsgUnknownType))
	}
}

// handleChat persists a chat frame carrying text content, then relays the
// original payload with server fields added to everyone, sender included.
func (r *Room) handleChat(ctx context.Context, in inbound) {
	dec := json.NewDecoder(bytes.NewReader(in.data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		r.sendTo(in.connID, errorEvent(ErrMsgInvalidFormat))
		return
	}

	content, hasText := payload["content"].(string)
	role := models.RoleUser
	if raw, ok := payload["role"].(string); ok && raw != "" {
		role = models.Role(raw)
	}
	if !role.Valid() {
		r.sendTo(in.connID, errorEvent(ErrMsgInvalidFormat))
		return
	}

	if hasText && r.store != nil {
		msg := &models.Message{Role: role, Content: content}
		if id, ok := payload["id"].(string); ok {
			msg.ID = id
		}

		sctx, cancel := r.storeCtx(ctx)
		err := r.store.AppendMessage(sctx, r.chatID, msg)
		cancel()
		if err != nil {
			r.log.LogError(err, "Failed to persist message", "connection_id", in.connID)
			r.sendTo(in.connID, errorEvent(ErrMsgPersistFailed))
			return
		}
	}

	payload["timestamp"] = r.now().UnixMilli()
	payload["connectionId"] = in.connID
	payload["chatId"] = r.chatID
	r.broadcast(payload, "")

	if hasText && role == models.RoleUser && r.store != nil && r.assistant != nil {
		r.requestReply(ctx, in.connID)
	}
}

// handleChatUpdated merges a resubmitted history into the log and relays it
func (r *Room) handleChatUpdated(ctx context.Context, connID string, raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("[]")
	}

	var msgs []models.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		r.sendTo(connID, errorEvent(ErrMsgInvalidFormat))
		return
	}

	if r.store != nil {
		sctx, cancel := r.storeCtx(ctx)
		inserted, err := r.store.ReplaceMessageSet(sctx, r.chatID, msgs)
		cancel()
		if err != nil {
			r.log.LogError(err, "Failed to persist message set", "connection_id", connID, "messages", len(msgs))
			r.sendTo(connID, errorEvent(ErrMsgPersistFailed))
			return
		}
		r.log.Debug("Message set merged", "received", len(msgs), "inserted", inserted)
	}

	r.broadcast(ChatUpdatedEvent{
		Type:         TypeChatUpdated,
		Messages:     raw,
		Timestamp:    r.now().UnixMilli(),
		ConnectionID: connID,
		ChatID:       r.chatID,
	}, "")
}

// requestReply asks the assistant for the next message off the room
// goroutine; the result comes back through the replies channel.
func (r *Room) requestReply(ctx context.Context, origin string) {
	sctx, cancel := r.storeCtx(ctx)
	chat, err := r.store.GetChat(sctx, r.chatID)
	cancel()
	if err != nil {
		r.log.LogError(err, "Failed to load history for assistant")
		return
	}
	history := chat.Messages

	go func() {
		msg, err := r.assistant.Reply(ctx, r.chatID, history)
		select {
		case r.replies <- assistantReply{origin: origin, msg: msg, err: err}:
		case <-r.done:
		}
	}()
}

func (r *Room) handleReply(ctx context.Context, rep assistantReply) {
	if rep.err != nil {
		r.log.LogError(rep.err, "Assistant reply failed")
		r.sendTo(rep.origin, errorEvent(ErrMsgAssistantFault))
		return
	}

	msg := rep.msg
	msg.Role = models.RoleAssistant

	sctx, cancel := r.storeCtx(ctx)
	err := r.store.AppendMessage(sctx, r.chatID, &msg)
	cancel()
	if err != nil {
		r.log.LogError(err, "Failed to persist assistant reply")
		r.sendTo(rep.origin, errorEvent(ErrMsgPersistFailed))
		return
	}

	r.broadcast(map[string]any{
		"type":         TypeChat,
		"id":           msg.ID,
		"role":         msg.Role,
		"content":      msg.Content,
		"createdAt":    msg.CreatedAt,
		"timestamp":    r.now().UnixMilli(),
		"connectionId": "",
		"chatId":       r.chatID,
	}, "")
}
