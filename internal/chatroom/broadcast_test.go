package chatroom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastPrunesFailedSockets(t *testing.T) {
	reg := NewRegistry()
	sockets := map[string]*fakeSocket{}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		sockets[id] = newFakeSocket()
		reg.Register(id, sockets[id])
	}
	sockets["c2"].sendErr = errBoom

	pruned := Broadcast(reg, []byte(`{"type":"chat"}`), "")

	assert.Equal(t, []string{"c2"}, pruned)
	assert.Equal(t, 4, reg.Len())
	for id, s := range sockets {
		if id == "c2" {
			assert.Empty(t, s.sent)
			continue
		}
		assert.Len(t, s.sent, 1, id)
	}
}

func TestBroadcastSkipsAndPrunesNonOpen(t *testing.T) {
	reg := NewRegistry()
	open, closing := newFakeSocket(), newFakeSocket()
	closing.setState(StateClosing)
	reg.Register("open", open)
	reg.Register("closing", closing)

	pruned := Broadcast(reg, []byte("x"), "")

	assert.Equal(t, []string{"closing"}, pruned)
	assert.Empty(t, closing.sent)
	assert.Len(t, open.sent, 1)
	_, ok := reg.Get("closing")
	assert.False(t, ok)
}

func TestBroadcastExcludesSender(t *testing.T) {
	reg := NewRegistry()
	a, b := newFakeSocket(), newFakeSocket()
	reg.Register("a", a)
	reg.Register("b", b)

	pruned := Broadcast(reg, []byte("x"), "a")

	assert.Empty(t, pruned)
	assert.Empty(t, a.sent)
	assert.Len(t, b.sent, 1)
	assert.Equal(t, 2, reg.Len())
}

func TestBroadcastEmptyRegistry(t *testing.T) {
	assert.Empty(t, Broadcast(NewRegistry(), []byte("x"), ""))
}
