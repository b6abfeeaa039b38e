package chatroom

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeSocket struct {
	mu        sync.Mutex
	state     State
	sent      [][]byte
	sendErr   error
	closeErr  error
	closeCode int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{state: StateOpen}
}

func (f *fakeSocket) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSocket) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = code
	f.state = StateClosed
	return f.closeErr
}

func (f *fakeSocket) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeSocket) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

// events decodes every frame sent so far
func (f *fakeSocket) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.sent))
	for _, raw := range f.sent {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (f *fakeSocket) last(t *testing.T) map[string]any {
	t.Helper()
	evs := f.events(t)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

// memStore keeps chats in memory and deduplicates like the SQL store
type memStore struct {
	mu         sync.Mutex
	chats      map[string][]models.Message
	appendErr  error
	replaceErr error
}

func newMemStore(chatIDs ...string) *memStore {
	s := &memStore{chats: make(map[string][]models.Message)}
	for _, id := range chatIDs {
		s.chats[id] = nil
	}
	return s
}

func (s *memStore) ChatExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[id]
	return ok, nil
}

func (s *memStore) GetChat(_ context.Context, id string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.chats[id]
	if !ok {
		return nil, errors.New("chat not found")
	}
	return &models.Chat{ID: id, Messages: append([]models.Message(nil), msgs...)}, nil
}

func (s *memStore) AppendMessage(_ context.Context, chatID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	s.chats[chatID] = append(s.chats[chatID], *msg)
	return nil
}

func (s *memStore) ReplaceMessageSet(_ context.Context, chatID string, msgs []models.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return 0, s.replaceErr
	}

	inserted := 0
	for _, m := range msgs {
		dup := false
		for _, have := range s.chats[chatID] {
			if have.Role == m.Role && have.Content == m.Content {
				dup = true
				break
			}
		}
		if !dup {
			s.chats[chatID] = append(s.chats[chatID], m)
			inserted++
		}
	}
	return inserted, nil
}

func (s *memStore) messages(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.chats[chatID]...)
}
