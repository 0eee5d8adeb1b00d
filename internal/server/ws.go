package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// previewMessage is sent to socket clients for every preview update.
type previewMessage struct {
	Seq       uint64  `json:"seq"`
	FPS       int     `json:"fps"`
	Masked    bool    `json:"masked"`
	Mode      string  `json:"mode"`
	Threshold float64 `json:"threshold"`
	Timestamp int64   `json:"timestamp"`
}

// PreviewSocket broadcasts preview metadata to WebSocket clients.
type PreviewSocket struct {
	log         logrus.FieldLogger
	clients     map[*websocket.Conn]bool
	mu          sync.RWMutex
	updates     chan app.Update
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
}

// NewPreviewSocket creates a PreviewSocket fed by the pipeline.
func NewPreviewSocket(p Pipeline, log logrus.FieldLogger) *PreviewSocket {
	h := &PreviewSocket{
		log:     log,
		clients: make(map[*websocket.Conn]bool),
		updates: make(chan app.Update, 1),
		done:    make(chan struct{}),
	}
	h.unsubscribe = p.OnPreviewUpdated(func(u app.Update) {
		select {
		case h.updates <- u:
		default:
		}
	})
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *PreviewSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade error")
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *PreviewSocket) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops broadcasting and disconnects every client.
func (h *PreviewSocket) Close() {
	h.once.Do(func() {
		h.unsubscribe()
		close(h.done)

		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.mu.Unlock()
	})
}

// broadcast sends update metadata to all connected clients.
func (h *PreviewSocket) broadcast() {
	for {
		var u app.Update
		select {
		case <-h.done:
			return
		case u = <-h.updates:
		}

		msg, err := json.Marshal(previewMessage{
			Seq:       u.Seq,
			FPS:       u.FPS,
			Masked:    u.Masked(),
			Mode:      u.Mode.String(),
			Threshold: u.Threshold,
			Timestamp: u.Timestamp.UnixMilli(),
		})
		if err != nil {
			continue
		}

		h.mu.RLock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.WithError(err).Debug("websocket write failed")
			}
		}
		h.mu.RUnlock()
	}
}
