package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartcity-gateway/internal/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityFeedPublishWithoutSubscribers(t *testing.T) {
	feed := NewActivityFeed(logging.Initialize("error"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	// Must not block with nobody listening
	for i := 0; i < 10; i++ {
		feed.Publish(ActivityEvent{Type: EventTelemetryForwarded, ProjectID: "park-42"})
	}
	assert.Equal(t, 0, feed.ConnectionCount())
}

func TestActivityFeedDeliversEvents(t *testing.T) {
	feed := NewActivityFeed(logging.Initialize("error"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	server := httptest.NewServer(http.HandlerFunc(feed.HandleConnection))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the connection to register before publishing
	require.Eventually(t, func() bool {
		return feed.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	feed.Publish(ActivityEvent{Type: EventDeviceProvisioned, ProjectID: "park-42"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var event ActivityEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventDeviceProvisioned, event.Type)
	assert.Equal(t, "park-42", event.ProjectID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestActivityFeedDropsDisconnectedClients(t *testing.T) {
	feed := NewActivityFeed(logging.Initialize("error"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	server := httptest.NewServer(http.HandlerFunc(feed.HandleConnection))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return feed.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return feed.ConnectionCount() == 0
	}, time.Second, 10*time.Millisecond)
}
