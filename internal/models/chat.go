package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// DefaultChatTitle is used when a chat is created without a title
const DefaultChatTitle = "New Chat"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleData      Role = "data"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleData:
		return true
	}
	return false
}

// Chat is a conversation and its ordered message history.
// Timestamps are Unix milliseconds.
type Chat struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Title         string    `json:"title" gorm:"size:200;not null"`
	CreatedAt     int64     `json:"createdAt" gorm:"not null"`
	LastMessageAt int64     `json:"lastMessageAt" gorm:"index;not null"`
	Messages      []Message `json:"messages,omitempty" gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

// Message is one immutable entry in a chat's history
type Message struct {
	Seq       uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	ChatID    string `json:"-" gorm:"size:36;not null;uniqueIndex:idx_chat_message"`
	ID        string `json:"id" gorm:"size:64;not null;uniqueIndex:idx_chat_message"`
	Role      Role   `json:"role" gorm:"size:16;not null"`
	Content   string `json:"content" gorm:"type:text;not null"`
	CreatedAt int64  `json:"createdAt" gorm:"index;not null"`
}

// UnmarshalJSON accepts createdAt as Unix milliseconds or an RFC 3339
// string, as sent by browser clients. Unparseable values become zero.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Role      Role            `json:"role"`
		Content   string          `json:"content"`
		CreatedAt json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ID = raw.ID
	m.Role = raw.Role
	m.Content = raw.Content
	m.CreatedAt = parseMillis(raw.CreatedAt)
	return nil
}

func parseMillis(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int64(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
