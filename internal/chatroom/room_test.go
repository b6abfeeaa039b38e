package chatroom

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/assistant"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/models"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRoom(t *testing.T, cfg RoomConfig, store Store, asst assistant.Assistant) *Room {
	t.Helper()

	r := NewRoom("c1", cfg, store, asst, nil, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
	return r
}

func join(t *testing.T, r *Room) (string, *fakeSocket) {
	t.Helper()
	s := newFakeSocket()
	id, err := r.Join(s)
	require.NoError(t, err)
	return id, s
}

// settle returns once the room has finished every event queued before it
func settle(r *Room) {
	r.Leave("settle")
}

func TestJoinSendsConnectedFirst(t *testing.T) {
	r := startRoom(t, RoomConfig{}, nil, nil)
	id, s := join(t, r)

	evs := s.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, EventConnected, evs[0]["type"])
	assert.Equal(t, id, evs[0]["connectionId"])
	assert.Equal(t, "c1", evs[0]["chatId"])
	assert.Equal(t, 1, r.Connections())
}

func TestChatIsPersistedAndBroadcastToAll(t *testing.T) {
	store := newMemStore("c1")
	r := startRoom(t, RoomConfig{}, store, nil)
	idA, a := join(t, r)
	_, b := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat","content":"hi","extra":7}`))
	settle(r)

	for _, s := range []*fakeSocket{a, b} {
		ev := s.last(t)
		assert.Equal(t, "chat", ev["type"])
		assert.Equal(t, "hi", ev["content"])
		assert.Equal(t, idA, ev["connectionId"])
		assert.Equal(t, "c1", ev["chatId"])
		assert.EqualValues(t, 7, ev["extra"])
		assert.NotZero(t, ev["timestamp"])
	}

	msgs := store.messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestChatPersistFailureRepliesToSenderOnly(t *testing.T) {
	store := newMemStore("c1")
	store.appendErr = errBoom
	r := startRoom(t, RoomConfig{}, store, nil)
	idA, a := join(t, r)
	_, b := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat","content":"hi"}`))
	settle(r)

	assert.Equal(t, map[string]any{"type": "error", "message": ErrMsgPersistFailed}, a.last(t))
	assert.Len(t, b.events(t), 1, "only the connected event")
}

func TestChatWithUnknownRoleIsNotPersisted(t *testing.T) {
	store := newMemStore("c1")
	r := startRoom(t, RoomConfig{}, store, nil)
	idA, a := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat","role":"admin","content":"hi"}`))
	settle(r)

	assert.Equal(t, map[string]any{"type": "error", "message": ErrMsgInvalidFormat}, a.last(t))
	assert.Empty(t, store.messages("c1"))
}

func TestChatWithoutStoreStillRelays(t *testing.T) {
	r := startRoom(t, RoomConfig{}, nil, nil)
	idA, a := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat","content":"hi"}`))
	settle(r)

	assert.Equal(t, "hi", a.last(t)["content"])
}

func TestTypingExcludesSender(t *testing.T) {
	r := startRoom(t, RoomConfig{}, nil, nil)
	idA, a := join(t, r)
	_, b := join(t, r)
	_, c := join(t, r)

	r.Deliver(idA, []byte(`{"type":"typing","isTyping":true}`))
	settle(r)

	assert.Len(t, a.events(t), 1, "sender gets nothing back")
	for _, s := range []*fakeSocket{b, c} {
		ev := s.last(t)
		assert.Equal(t, EventUserTyping, ev["type"])
		assert.Equal(t, true, ev["isTyping"])
		assert.Equal(t, idA, ev["connectionId"])
		assert.Equal(t, "c1", ev["chatId"])
	}
}

func TestRejectedFramesAnswerSenderOnly(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"unknown type", `{"type":"dance"}`, ErrMsgUnknownType},
		{"not json", `not json`, ErrMsgInvalidFormat},
		{"missing type", `{"content":"x"}`, ErrMsgInvalidFormat},
		{"non string type", `{"type":5}`, ErrMsgInvalidFormat},
		{"null", `null`, ErrMsgInvalidFormat},
		{"array", `[1,2]`, ErrMsgInvalidFormat},
		{"bad message list", `{"type":"chat_updated","messages":"nope"}`, ErrMsgInvalidFormat},
		{"unknown role", `{"type":"chat","role":"admin","content":"x"}`, ErrMsgInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := startRoom(t, RoomConfig{}, newMemStore("c1"), nil)
			idA, a := join(t, r)
			_, b := join(t, r)

			r.Deliver(idA, []byte(tt.frame))
			settle(r)

			assert.Equal(t, map[string]any{"type": "error", "message": tt.want}, a.last(t))
			assert.Len(t, b.events(t), 1)
		})
	}
}

func TestChatUpdatedMergesAndRelays(t *testing.T) {
	store := newMemStore("c1")
	require.NoError(t, store.AppendMessage(context.Background(), "c1", &models.Message{Role: models.RoleUser, Content: "hi"}))

	r := startRoom(t, RoomConfig{}, store, nil)
	idA, _ := join(t, r)
	_, b := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat_updated","messages":[
		{"id":"m1","role":"user","content":"hi"},
		{"id":"m2","role":"assistant","content":"hello"}
	]}`))
	settle(r)

	msgs := store.messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Content)

	ev := b.last(t)
	assert.Equal(t, TypeChatUpdated, ev["type"])
	assert.Equal(t, idA, ev["connectionId"])
	assert.Len(t, ev["messages"], 2)
}

func TestChatUpdatedPersistFailure(t *testing.T) {
	store := newMemStore("c1")
	store.replaceErr = errBoom
	r := startRoom(t, RoomConfig{}, store, nil)
	idA, a := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat_updated","messages":[]}`))
	settle(r)

	assert.Equal(t, ErrMsgPersistFailed, a.last(t)["message"])
}

func TestAssistantReplyIsPersistedAndBroadcast(t *testing.T) {
	store := newMemStore("c1")

	var mu sync.Mutex
	var seen []models.Message
	asst := assistant.Func(func(_ context.Context, _ string, history []models.Message) (models.Message, error) {
		mu.Lock()
		seen = history
		mu.Unlock()
		return models.Message{ID: "a1", Content: "pong"}, nil
	})

	r := startRoom(t, RoomConfig{}, store, asst)
	idA, a := join(t, r)
	_, b := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat","content":"ping"}`))

	for _, s := range []*fakeSocket{a, b} {
		require.Eventually(t, func() bool { return len(s.events(t)) == 3 }, time.Second, 5*time.Millisecond)
		ev := s.last(t)
		assert.Equal(t, "chat", ev["type"])
		assert.Equal(t, "assistant", ev["role"])
		assert.Equal(t, "pong", ev["content"])
		assert.Equal(t, "a1", ev["id"])
	}

	msgs := store.messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "ping", seen[0].Content)
}

func TestAssistantNotAskedForOwnMessages(t *testing.T) {
	calls := 0
	asst := assistant.Func(func(context.Context, string, []models.Message) (models.Message, error) {
		calls++
		return models.Message{Content: "x"}, nil
	})

	r := startRoom(t, RoomConfig{}, newMemStore("c1"), asst)
	idA, _ := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat","role":"assistant","content":"relayed"}`))
	settle(r)
	assert.Zero(t, calls)
}

func TestAssistantFailureNotifiesSender(t *testing.T) {
	asst := assistant.Func(func(context.Context, string, []models.Message) (models.Message, error) {
		return models.Message{}, errBoom
	})

	r := startRoom(t, RoomConfig{}, newMemStore("c1"), asst)
	idA, a := join(t, r)
	_, b := join(t, r)

	r.Deliver(idA, []byte(`{"type":"chat","content":"ping"}`))

	require.Eventually(t, func() bool {
		evs := a.events(t)
		return len(evs) == 3 && evs[2]["message"] == ErrMsgAssistantFault
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, b.events(t), 2)
}

func TestPrunedSocketLeavesRoom(t *testing.T) {
	r := startRoom(t, RoomConfig{}, nil, nil)
	idA, _ := join(t, r)
	_, b := join(t, r)
	b.mu.Lock()
	b.sendErr = errBoom
	b.mu.Unlock()

	r.Deliver(idA, []byte(`{"type":"chat","content":"hi"}`))
	settle(r)

	assert.Equal(t, 1, r.Connections())
}

func TestLeaveUnregisters(t *testing.T) {
	r := startRoom(t, RoomConfig{}, nil, nil)
	idA, _ := join(t, r)

	r.Leave(idA)
	settle(r)
	assert.Equal(t, 0, r.Connections())

	// frames from a departed connection are dropped
	r.Deliver(idA, []byte(`{"type":"chat","content":"hi"}`))
	settle(r)
}

func TestIdleReaperClosesEveryConnection(t *testing.T) {
	r := startRoom(t, RoomConfig{IdleTimeout: 50 * time.Millisecond}, nil, nil)
	_, a := join(t, r)
	_, b := join(t, r)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room was not reaped")
	}

	assert.Equal(t, CloseServiceRestart, a.code())
	assert.Equal(t, CloseServiceRestart, b.code())
	assert.Equal(t, 0, r.Connections())

	_, err := r.Join(newFakeSocket())
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestIdleReaperClosesAllWhenSomeClosesFail(t *testing.T) {
	r := startRoom(t, RoomConfig{IdleTimeout: 50 * time.Millisecond}, nil, nil)

	bad := newFakeSocket()
	bad.closeErr = errBoom
	_, err := r.Join(bad)
	require.NoError(t, err)
	_, good := join(t, r)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room was not reaped")
	}

	assert.Equal(t, CloseServiceRestart, bad.code())
	assert.Equal(t, CloseServiceRestart, good.code())
	assert.Equal(t, 0, r.Connections())
}

func TestJoinPushesIdleAlarmOut(t *testing.T) {
	r := startRoom(t, RoomConfig{IdleTimeout: 300 * time.Millisecond}, nil, nil)
	join(t, r)

	time.Sleep(200 * time.Millisecond)
	join(t, r)

	time.Sleep(180 * time.Millisecond)
	select {
	case <-r.Done():
		t.Fatal("room reaped before the rescheduled alarm")
	default:
	}

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room was not reaped")
	}
}

func TestCloseUsesGivenCode(t *testing.T) {
	r := startRoom(t, RoomConfig{}, nil, nil)
	_, a := join(t, r)

	r.Close(CloseGoingAway)
	<-r.Done()

	assert.Equal(t, CloseGoingAway, a.code())
}
