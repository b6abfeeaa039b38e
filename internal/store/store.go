package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrChatNotFound is returned when the chat does not exist
	ErrChatNotFound = errors.New("chat not found")
	// ErrInvalidRole is returned for messages with an unknown role
	ErrInvalidRole = errors.New("invalid message role")
)

// Store persists chats and their message history
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a store over db
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// AutoMigrate creates or updates the chat tables
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Chat{}, &models.Message{})
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// CreateChat stores a new chat. A blank title becomes DefaultChatTitle.
func (s *Store) CreateChat(ctx context.Context, title string) (*models.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultChatTitle
	}

	now := s.now().UnixMilli()
	chat := &models.Chat{
		ID:            uuid.NewString(),
		Title:         title,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	if err := s.db.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// GetChat returns the chat with its messages in creation order
func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, seq ASC")
		}).
		First(&chat, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %s: %w", id, err)
	}

	if chat.Messages == nil {
		chat.Messages = []models.Message{}
	}
	return &chat, nil
}

// ChatExists reports whether a chat with id is stored
func (s *Store) ChatExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check chat %s: %w", id, err)
	}
	return count > 0, nil
}

// ListChats returns chat metadata, most recently active first
func (s *Store) ListChats(ctx context.Context) ([]models.Chat, error) {
	chats := []models.Chat{}
	err := s.db.WithContext(ctx).
		Order("last_message_at DESC, created_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// RenameChat changes a chat's title
func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultChatTitle
	}

	res := s.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", id).Update("title", title)
	if res.Error != nil {
		return fmt.Errorf("rename chat %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes a chat and all of its messages
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages of chat %s: %w", id, err)
		}

		res := tx.Where("id = ?", id).Delete(&models.Chat{})
		if res.Error != nil {
			return fmt.Errorf("delete chat %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrChatNotFound
		}
		return nil
	})
}

// AppendMessage inserts msg and bumps the chat's lastMessageAt. Missing
// fields are filled in: a generated id, role user and the current time.
func (s *Store) AppendMessage(ctx context.Context, chatID string, msg *models.Message) error {
	now := s.now().UnixMilli()
	if err := normalize(chatID, msg, now); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireChat(tx, chatID); err != nil {
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return touch(tx, chatID, now)
	})
}

// ReplaceMessageSet inserts the messages of a resubmitted history that are
// not stored yet and returns how many were inserted. A message counts as
// stored when a message with the same role and content exists for the chat,
// earlier in the same batch, or under the same id.
func (s *Store) ReplaceMessageSet(ctx context.Context, chatID string, msgs []models.Message) (int, error) {
	now := s.now().UnixMilli()

	inserted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireChat(tx, chatID); err != nil {
			return err
		}

		var existing []models.Message
		if err := tx.Select("id", "role", "content").Where("chat_id = ?", chatID).Find(&existing).Error; err != nil {
			return fmt.Errorf("load stored messages: %w", err)
		}

		pairs := make(map[pairKey]struct{}, len(existing))
		ids := make(map[string]struct{}, len(existing))
		for _, m := range existing {
			pairs[pairKey{m.Role, m.Content}] = struct{}{}
			ids[m.ID] = struct{}{}
		}

		fresh := make([]models.Message, 0, len(msgs))
		for _, m := range msgs {
			if err := normalize(chatID, &m, now); err != nil {
				return err
			}
			key := pairKey{m.Role, m.Content}
			if _, dup := pairs[key]; dup {
				continue
			}
			if _, dup := ids[m.ID]; dup {
				continue
			}
			pairs[key] = struct{}{}
			ids[m.ID] = struct{}{}
			fresh = append(fresh, m)
		}

		// nothing new: lastMessageAt only moves when a message is inserted
		if len(fresh) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(fresh, 100).Error; err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		inserted = len(fresh)
		return touch(tx, chatID, now)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

type pairKey struct {
	role    models.Role
	content string
}

func normalize(chatID string, msg *models.Message, now int64) error {
	msg.Seq = 0
	msg.ChatID = chatID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = now
	}
	return nil
}

func requireChat(tx *gorm.DB, chatID string) error {
	var count int64
	if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
		return fmt.Errorf("check chat %s: %w", chatID, err)
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// touch moves lastMessageAt forward; it never moves it back.
func touch(tx *gorm.DB, chatID string, at int64) error {
	err := tx.Model(&models.Chat{}).
		Where("id = ? AND last_message_at < ?", chatID, at).
		Update("last_message_at", at).Error
	if err != nil {
		return fmt.Errorf("update lastMessageAt: %w", err)
	}
	return nil
}
