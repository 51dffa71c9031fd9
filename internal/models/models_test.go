package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidNickname(t *testing.T) {
	valid := []string{"bob", "Alice42", "7", "Zoë", "分析员"}
	for _, name := range valid {
		assert.True(t, ValidNickname(name), name)
	}

	invalid := []string{"", " ", "bob smith", "bob!", "room:x", "a*", "bob_1", "a-b", "tab\t"}
	for _, name := range invalid {
		assert.False(t, ValidNickname(name), name)
	}
}

func TestRoomIDRoundTrip(t *testing.T) {
	id := RoomID("alice", "bob")
	assert.Equal(t, "room:alice:bob", id)

	analyst, client, ok := ParseRoomID(id)
	require.True(t, ok)
	assert.Equal(t, "alice", analyst)
	assert.Equal(t, "bob", client)

	for _, bad := range []string{"room:alice", "chat:alice:bob", "room::bob", "room:a:b:c"} {
		_, _, ok := ParseRoomID(bad)
		assert.False(t, ok, bad)
	}
}

func TestRoomPatterns(t *testing.T) {
	assert.Equal(t, "room:*:bob", RoomPattern(RoleClient, "bob"))
	assert.Equal(t, "room:alice:*", RoomPattern(RoleAnalyst, "alice"))
}

func TestEnvelope(t *testing.T) {
	value, err := EncodeEnvelope("bob", `hi "there"`)
	require.NoError(t, err)
	assert.Equal(t, `{"bob":"hi \"there\""}`, value)

	entry, err := NewMessageEntry("room:alice:bob", LogEntry{Value: value, Score: 1700000000})
	require.NoError(t, err)
	assert.Equal(t, MessageEntry{RoomID: "room:alice:bob", From: "bob", Body: `hi "there"`, Timestamp: 1700000000}, entry)

	_, _, err = DecodeEnvelope(`{"a":"1","b":"2"}`)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, _, err = DecodeEnvelope("0")
	assert.Error(t, err)
}
