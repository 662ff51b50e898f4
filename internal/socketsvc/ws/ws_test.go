package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomMembershipLifecycle(t *testing.T) {
	s := NewWs()

	s.StoreRoom("sock-1", "room-a")
	s.StoreRoom("sock-2", "room-a")
	s.StoreRoom("sock-3", "room-b")

	room, ok := s.GetRoom("sock-1")
	require.True(t, ok)
	assert.Equal(t, "room-a", room)

	_, ok = s.GetRoom("sock-unknown")
	assert.False(t, ok)

	sockets, ok := s.GetRoomSockets("room-a")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"sock-1", "sock-2"}, sockets)

	// disconnect drops the socket from room bookkeeping
	s.HandleDisconnect("sock-1")
	_, ok = s.GetRoom("sock-1")
	assert.False(t, ok)

	sockets, ok = s.GetRoomSockets("room-a")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"sock-2"}, sockets)

	_, ok = s.GetRoomSockets("room-empty")
	assert.False(t, ok)
}
