package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func waitSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsAndReplaysHistory(t *testing.T) {
	hub := NewHub(zerolog.Nop(), []string{"*"}, 2)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, ChatMessage{Content: "one"}))
	require.NoError(t, hub.Publish(ctx, ChatMessage{Content: "two"}))
	require.NoError(t, hub.Publish(ctx, ChatMessage{Content: "three"}))
	assert.Len(t, hub.History(), 2)

	conn := dial(t, srv, "")
	assert.Equal(t, "two", readEnvelope(t, conn).Data.Content)
	assert.Equal(t, "three", readEnvelope(t, conn).Data.Content)

	waitSubscribers(t, hub, 1)
	require.NoError(t, hub.Publish(ctx, ChatMessage{Content: "live", Username: SystemUsername}))
	env := readEnvelope(t, conn)
	assert.Equal(t, "chatMessage", env.Event)
	assert.Equal(t, "live", env.Data.Content)
	assert.Equal(t, SystemUsername, env.Data.Username)
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub(zerolog.Nop(), []string{"*"}, 0)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitSubscribers(t, hub, 1)
	require.NoError(t, conn.Close())
	waitSubscribers(t, hub, 0)
}

func TestHubRejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop(), []string{"https://etc-nexus.example"}, 0)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, srv, "https://etc-nexus.example")
	waitSubscribers(t, hub, 1)
}

func TestHubClosed(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil, 0)
	hub.Close()
	assert.ErrorIs(t, hub.Publish(context.Background(), ChatMessage{}), ErrHubClosed)
}
