package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageCreatedAtFormats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"millis", `{"id":"m1","role":"user","content":"hi","createdAt":1700000000123}`, 1700000000123},
		{"numeric string", `{"id":"m1","role":"user","content":"hi","createdAt":"1700000000123"}`, 1700000000123},
		{"rfc3339", `{"id":"m1","role":"user","content":"hi","createdAt":"2023-11-14T22:13:20.123Z"}`, 1700000000123},
		{"missing", `{"id":"m1","role":"user","content":"hi"}`, 0},
		{"garbage", `{"id":"m1","role":"user","content":"hi","createdAt":{"x":1}}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &m))
			assert.Equal(t, tt.want, m.CreatedAt)
			assert.Equal(t, RoleUser, m.Role)
			assert.Equal(t, "hi", m.Content)
		})
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem, RoleData} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("admin").Valid())
	assert.False(t, Role("").Valid())
}
