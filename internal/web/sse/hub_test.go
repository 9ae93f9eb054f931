package sse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/typerace/internal/model"
	"github.com/mcoot/typerace/internal/services/arena"
	"github.com/mcoot/typerace/internal/testutil"
)

const waitFor = time.Second

func TestFormatSSEMessage(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		data      string
		expected  string
	}{
		{"single line data", "view", `{"state":"connected"}`, "event: view\ndata: {\"state\":\"connected\"}\n\n"},
		{"multi-line data", "view", "a\nb", "event: view\ndata: a\ndata: b\n\n"},
		{"empty data", "ping", "", "event: ping\ndata: \n\n"},
		{"carriage returns", "test", "line1\r\nline2\r\n", "event: test\ndata: line1\ndata: line2\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(formatSSEMessage(tt.eventName, tt.data)))
		})
	}
}

func receive(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "client channel closed")
		return string(msg)
	case <-time.After(waitFor):
		t.Fatal("client did not receive message")
		return ""
	}
}

func newRunningHub(t *testing.T) *Hub {
	hub := NewHub("race-1", testutil.NopLogger())
	go hub.Run()
	t.Cleanup(hub.Close)
	return hub
}

func TestHubBroadcastsToEveryClient(t *testing.T) {
	hub := newRunningHub(t)

	clients := []*Client{NewClient(), NewClient(), NewClient()}
	for _, c := range clients {
		hub.Register(c)
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, waitFor, time.Millisecond)

	hub.BroadcastEvent("update", "data")

	for _, c := range clients {
		assert.Equal(t, "event: update\ndata: data\n\n", receive(t, c))
	}
}

func TestHubReplaysLatestToLateClients(t *testing.T) {
	hub := newRunningHub(t)

	early := NewClient()
	hub.Register(early)
	hub.BroadcastView(arena.View{
		Session: &model.Session{ID: "race-1", Status: model.SessionStatusWaiting},
		State:   model.StateConnected,
	})
	msg := receive(t, early)
	assert.True(t, strings.HasPrefix(msg, "event: view\n"))
	assert.Contains(t, msg, `"state":"connected"`)
	assert.Contains(t, msg, `"status":"waiting"`)

	late := NewClient()
	hub.Register(late)
	assert.Equal(t, msg, receive(t, late))
}

func TestHubUnregisterClosesClient(t *testing.T) {
	hub := newRunningHub(t)

	c := NewClient()
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("client channel not closed")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub("race-1", testutil.NopLogger())
	go hub.Run()

	c := NewClient()
	hub.Register(c)
	hub.Close()
	hub.Close()

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("client channel not closed")
	}

	// Registering on a closed hub closes the client straight away
	late := NewClient()
	hub.Register(late)
	_, ok := <-late.send
	assert.False(t, ok)
}
