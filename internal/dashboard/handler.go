package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
)

// ItemUpdateData contains item change information
type ItemUpdateData struct {
	ItemID     string `json:"item_id"`
	Action     string `json:"action"` // created, updated, deleted, confirmed
	Text       string `json:"text,omitempty"`
	Done       bool   `json:"done"`
	Importance string `json:"importance,omitempty"`
	Deadline   *int64 `json:"deadline,omitempty"`
}

// SyncCompleteData contains refresh or sweep completion information
type SyncCompleteData struct {
	Kind  string `json:"kind"` // refresh, sweep
	Items int    `json:"items"`
}

// RemoteErrorData describes a failed remote call
type RemoteErrorData struct {
	Op    string `json:"op"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// StatsSource supplies the list statistics. *sync.Orchestrator implements it.
type StatsSource interface {
	Stats() tasksync.Stats
}

// Handler turns orchestrator events into dashboard messages. It
// implements the orchestrator Observer interface.
type Handler struct {
	server *Server
	logger *log.Logger

	mu     sync.RWMutex
	source StatsSource
	stats  tasksync.Stats
}

var _ tasksync.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		server: server,
		logger: logger,
	}
	server.SetWelcome(h.statsMessage)
	return h
}

// SetSource attaches the stats source. The handler is usually created
// before the orchestrator it observes, so this is a separate step.
func (h *Handler) SetSource(src StatsSource) {
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
	h.refreshStats()
}

// ItemChanged broadcasts an item_update followed by fresh stats.
func (h *Handler) ItemChanged(c tasksync.Change) {
	data := ItemUpdateData{
		ItemID:     c.Item.ID,
		Action:     string(c.Action),
		Text:       c.Item.Text,
		Done:       c.Item.Done,
		Importance: c.Item.Importance.String(),
	}
	if c.Item.Deadline != nil {
		sec := c.Item.Deadline.Unix()
		data.Deadline = &sec
	}
	h.send(MessageTypeItemUpdate, data)
	h.broadcastStats()
}

// SyncCompleted broadcasts a sync_complete and the stats carried by the report.
func (h *Handler) SyncCompleted(r tasksync.SyncReport) {
	h.logger.Printf("Sync complete: %s, %d items, revision %d", r.Kind, r.Items, r.Stats.Revision)

	h.mu.Lock()
	h.stats = r.Stats
	h.mu.Unlock()

	h.send(MessageTypeSyncComplete, SyncCompleteData{Kind: string(r.Kind), Items: r.Items})
	h.broadcastStats()
}

// RemoteFailed broadcasts a remote_error.
func (h *Handler) RemoteFailed(op string, err error) {
	h.send(MessageTypeRemoteError, RemoteErrorData{
		Op:    op,
		Kind:  remote.KindOf(err).String(),
		Error: err.Error(),
	})
	h.broadcastStats()
}

// GetStats returns the last known statistics
func (h *Handler) GetStats() tasksync.Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

func (h *Handler) refreshStats() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.source != nil {
		h.stats = h.source.Stats()
	}
}

func (h *Handler) statsMessage() Message {
	h.refreshStats()
	data, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
