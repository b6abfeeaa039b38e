package chatroom

import "encoding/json"

// Inbound message types
const (
	TypeChat        = "chat"
	TypeChatUpdated = "chat_updated"
	TypeTyping      = "typing"
)

// Outbound event types
const (
	EventConnected  = "connected"
	EventUserTyping = "user_typing"
	EventError      = "error"
)

// Error messages sent back to the originating connection
const (
	ErrMsgInvalidFormat  = "Invalid message format"
	ErrMsgUnknownType    = "Unknown message type"
	ErrMsgPersistFailed  = "Failed to persist message"
	ErrMsgAssistantFault = "Failed to generate reply"
)

// ConnectedEvent is the first frame every connection receives
type ConnectedEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	ChatID       string `json:"chatId"`
}

// ErrorEvent reports a rejected inbound message to its sender
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TypingEvent relays a typing indicator to the other participants
type TypingEvent struct {
	Type         string `json:"type"`
	IsTyping     bool   `json:"isTyping"`
	ConnectionID string `json:"connectionId"`
	ChatID       string `json:"chatId"`
	Timestamp    int64  `json:"timestamp"`
}

// ChatUpdatedEvent relays a resubmitted history
type ChatUpdatedEvent struct {
	Type         string          `json:"type"`
	Messages     json.RawMessage `json:"messages"`
	Timestamp    int64           `json:"timestamp"`
	ConnectionID string          `json:"connectionId"`
	ChatID       string          `json:"chatId"`
}

func errorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}
