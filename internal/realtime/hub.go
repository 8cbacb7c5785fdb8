package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/sports-dvr/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
	// SendBuffer is the per-client outbound queue; messages are dropped when full.
	SendBuffer = 64

	EventRecordingUpdated = "recording.updated"
	EventArchiveUploaded  = "archive.uploaded"
	EventArchiveFailed    = "archive.failed"
)

// Hub fans recording events out to connected WebSocket clients. A client
// either follows one event id or, with an empty filter, every recording.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected",
		zap.String("client_id", c.ID),
		zap.String("event_id", c.EventID),
		zap.Int("clients", h.ClientCount()),
	)
}

// Unregister removes a client and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.Int("clients", h.ClientCount()))
}

// RecordingChanged pushes a recording snapshot to interested clients.
func (h *Hub) RecordingChanged(rec models.Recording) {
	h.Broadcast(rec.EventID, EventRecordingUpdated, rec)
}

// Broadcast sends event to every client following eventID or all recordings.
func (h *Hub) Broadcast(eventID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			h.logger.Warn("marshal broadcast payload", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.EventID != "" && c.EventID != eventID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
