package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Activity event types streamed over /api/events
const (
	EventTelemetryForwarded = "telemetry_forwarded"
	EventDeviceProvisioned  = "device_provisioned"
	EventProvisionFailed    = "provision_failed"
	EventForwardFailed      = "forward_failed"
)

// ActivityEvent is a gateway activity notification. It identifies the
// project and the outcome only; credentials never appear on the feed.
type ActivityEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ProjectID string    `json:"projectId,omitempty"`
}

// ActivityFeed broadcasts gateway activity to connected websocket clients.
// Slow clients are dropped rather than allowed to block the hub.
type ActivityFeed struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections map[*websocket.Conn]chan ActivityEvent

	broadcast chan ActivityEvent
	done      chan struct{}

	writeTimeout   time.Duration
	maxConnections int
}

// NewActivityFeed creates a new activity feed hub
func NewActivityFeed(logger *logrus.Logger) *ActivityFeed {
	return &ActivityFeed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:    make(map[*websocket.Conn]chan ActivityEvent),
		broadcast:      make(chan ActivityEvent, 256),
		done:           make(chan struct{}),
		writeTimeout:   10 * time.Second,
		maxConnections: 32,
	}
}

// Start runs the broadcast loop until the context is cancelled
func (f *ActivityFeed) Start(ctx context.Context) {
	go func() {
		defer f.closeAll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case event := <-f.broadcast:
				f.fanOut(event)
			}
		}
	}()
}

// Publish queues an event for broadcast. It never blocks the caller: if
// the hub is backed up the event is dropped.
func (f *ActivityFeed) Publish(event ActivityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case f.broadcast <- event:
	default:
		f.logger.Warn("Activity feed backlogged, dropping event")
	}
}

// HandleConnection upgrades an HTTP request and streams events to it
func (f *ActivityFeed) HandleConnection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if len(f.connections) >= f.maxConnections {
		f.mu.Unlock()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	send := make(chan ActivityEvent, 16)

	f.mu.Lock()
	f.connections[conn] = send
	f.mu.Unlock()

	f.logger.WithField("remote_addr", conn.RemoteAddr().String()).Debug("Activity feed client connected")

	go f.writePump(conn, send)
	go f.readPump(conn)
}

// writePump delivers events to one client
func (f *ActivityFeed) writePump(conn *websocket.Conn, send chan ActivityEvent) {
	defer f.drop(conn)

	for event := range send {
		conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// readPump discards inbound messages and notices disconnects
func (f *ActivityFeed) readPump(conn *websocket.Conn) {
	defer f.drop(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *ActivityFeed) fanOut(event ActivityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn, send := range f.connections {
		select {
		case send <- event:
		default:
			// Client is not keeping up; disconnect it
			f.logger.WithField("remote_addr", conn.RemoteAddr().String()).Warn("Dropping slow activity feed client")
			delete(f.connections, conn)
			close(send)
			conn.Close()
		}
	}
}

func (f *ActivityFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if send, ok := f.connections[conn]; ok {
		delete(f.connections, conn)
		close(send)
	}
	conn.Close()
}

func (f *ActivityFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn, send := range f.connections {
		delete(f.connections, conn)
		close(send)
		conn.Close()
	}
}

// ConnectionCount returns the number of connected clients
func (f *ActivityFeed) ConnectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connections)
}
