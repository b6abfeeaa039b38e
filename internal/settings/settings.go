package settings

import (
	"context"
	"encoding/json"
	"fmt"
)

// ChatSettings are the per-chat choices a client makes, such as the model
// used for assistant replies.
type ChatSettings struct {
	Model       string `json:"model"`
	BrowserType string `json:"browserType,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
}

// Service reads and writes ChatSettings as JSON documents in a KV store
type Service struct {
	kv       KV
	defaults ChatSettings
}

// NewService creates a service; defaults fill fields a chat has not set
func NewService(kv KV, defaults ChatSettings) *Service {
	return &Service{kv: kv, defaults: defaults}
}

func settingsKey(chatID string) string {
	return "chat:" + chatID + ":settings"
}

// Get returns the chat's settings merged over the defaults
func (s *Service) Get(ctx context.Context, chatID string) (ChatSettings, error) {
	raw, ok, err := s.kv.Get(ctx, settingsKey(chatID))
	if err != nil {
		return ChatSettings{}, err
	}
	if !ok {
		return s.defaults, nil
	}

	var stored ChatSettings
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return ChatSettings{}, fmt.Errorf("decode settings for chat %s: %w", chatID, err)
	}
	return s.merge(stored), nil
}

// Put replaces the chat's settings
func (s *Service) Put(ctx context.Context, chatID string, cs ChatSettings) (ChatSettings, error) {
	data, err := json.Marshal(cs)
	if err != nil {
		return ChatSettings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Put(ctx, settingsKey(chatID), string(data)); err != nil {
		return ChatSettings{}, err
	}
	return s.merge(cs), nil
}

// Delete drops the chat's settings
func (s *Service) Delete(ctx context.Context, chatID string) error {
	return s.kv.Delete(ctx, settingsKey(chatID))
}

func (s *Service) merge(cs ChatSettings) ChatSettings {
	if cs.Model == "" {
		cs.Model = s.defaults.Model
	}
	if cs.BrowserType == "" {
		cs.BrowserType = s.defaults.BrowserType
	}
	return cs
}
