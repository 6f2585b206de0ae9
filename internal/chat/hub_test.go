package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(id string) *Client {
	return &Client{id: id, send: make(chan []byte, 16)}
}

func receivedEvents(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case raw := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHubBroadcastRoom(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	b := newTestClient("b")
	c := newTestClient("c")

	h.Add(a)
	h.Add(b)
	h.Add(c)
	h.Join("room-1", a)
	h.Join("room-1", b)

	h.BroadcastRoom("room-1", NewEvent(EventNewMessage, map[string]string{"k": "v"}), nil)

	assert.Len(t, receivedEvents(t, a), 1)
	assert.Len(t, receivedEvents(t, b), 1)
	assert.Empty(t, receivedEvents(t, c))
}

func TestHubBroadcastRoomExcept(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	b := newTestClient("b")

	h.Add(a)
	h.Add(b)
	h.Join("room-1", a)
	h.Join("room-1", b)

	h.BroadcastRoom("room-1", NewEvent(EventMessagesRead, nil), a)

	assert.Empty(t, receivedEvents(t, a))
	assert.Len(t, receivedEvents(t, b), 1)
}

func TestHubBroadcastAllExcept(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	b := newTestClient("b")

	h.Add(a)
	h.Add(b)

	h.BroadcastAll(NewEvent(EventUserStatus, UserStatusPayload{UserID: "u", Status: "online"}), a)

	assert.Empty(t, receivedEvents(t, a))

	got := receivedEvents(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserStatus, got[0].Event)
}

func TestHubRemoveDropsRoomMembership(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")

	h.Add(a)
	h.Join("room-1", a)
	require.True(t, h.InRoom("room-1", a))

	h.Remove(a)

	assert.False(t, h.InRoom("room-1", a))
	h.BroadcastRoom("room-1", NewEvent(EventNewMessage, nil), nil)
	assert.Empty(t, receivedEvents(t, a))
}

func TestHubJoinIdempotent(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")

	h.Add(a)
	h.Join("room-1", a)
	h.Join("room-1", a)

	h.BroadcastRoom("room-1", NewEvent(EventNewMessage, nil), nil)
	assert.Len(t, receivedEvents(t, a), 1)
}
