// Package notifications delivers live campaign events to websocket viewers.
package notifications

import (
	"context"
	"errors"
	"sync"

	"crowdledger/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per identified user
	maxConnsPerUser = 8
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrServerFull  = errors.New("server connection limit reached")
	ErrUserLimit   = errors.New("user connection limit reached")
	ErrHubShutdown = errors.New("feed hub is shutting down")
)

// FeedHub tracks every live feed connection. All viewers see the same events.
type FeedHub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	perUser  map[string]int
	closed   bool
	maxTotal int
	maxUser  int
	log      *observability.WSLogger
}

// NewFeedHub creates an empty hub.
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:  make(map[*Client]struct{}),
		perUser:  make(map[string]int),
		maxTotal: maxTotalConns,
		maxUser:  maxConnsPerUser,
		log:      observability.NewWSLogger("feed"),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *FeedHub) Name() string { return "feed" }

// Register adds a connection. Anonymous viewers share the total limit only.
func (h *FeedHub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubShutdown
	}
	if len(h.clients) >= h.maxTotal {
		return nil, ErrServerFull
	}
	if userID != "" && h.perUser[userID] >= h.maxUser {
		return nil, ErrUserLimit
	}

	client := NewClient(h, conn, userID)
	h.clients[client] = struct{}{}
	if userID != "" {
		h.perUser[userID]++
	}
	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), client.ID)
	return client, nil
}

// UnregisterClient removes client and closes its send channel. It is safe to
// call more than once.
func (h *FeedHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if client.UserID != "" {
		h.perUser[client.UserID]--
		if h.perUser[client.UserID] <= 0 {
			delete(h.perUser, client.UserID)
		}
	}
	close(client.Send)
	observability.WebSocketConnectionsTotal.Dec()
	h.log.LogDisconnect(context.Background(), client.ID, "unregistered")
}

// Count returns the number of live connections.
func (h *FeedHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAll sends message to every connected client and returns how many
// accepted it.
func (h *FeedHub) BroadcastAll(message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.clients {
		if c.TrySend(message) {
			delivered++
		}
	}
	return delivered
}

// StartWiring forwards every event published through n to local clients.
func (h *FeedHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartSubscriber(ctx, func(payload string) {
		h.BroadcastAll([]byte(payload))
	})
}

// shutdownFrame is the close frame viewers receive when the server stops.
var shutdownFrame = websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")

// Shutdown ends every connection with a going-away frame. Each client's
// WritePump writes the frame and closes the socket, so the hub never writes
// to a connection itself.
func (h *FeedHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for client := range h.clients {
		client.closeFrame = shutdownFrame
		close(client.Send)
		observability.WebSocketConnectionsTotal.Dec()
	}
	h.clients = make(map[*Client]struct{})
	h.perUser = make(map[string]int)
	return nil
}
