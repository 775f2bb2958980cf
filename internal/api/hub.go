package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// VersionEvent tells connected agents a new version was applied. They
// still fetch text and checksum over plain HTTP; the socket only saves
// them a polling round.
type VersionEvent struct {
	ClusterID int64  `json:"cluster_id"`
	VersionID int64  `json:"version_id"`
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans applied-version events out to connected agent sockets.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]bool
	log     *logging.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*hubClient]bool),
		log:     logging.WithComponent("hub"),
	}
}

// NotifyApplied broadcasts a version event. Safe to call from the
// lifecycle manager's OnApplied hook.
func (h *Hub) NotifyApplied(v *fleet.ConfigVersion) {
	data, err := json.Marshal(VersionEvent{
		ClusterID: v.ClusterID,
		VersionID: v.ID,
		Name:      v.Name,
		Checksum:  v.Checksum,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow consumer, drop the event; the agent's next poll
			// catches up
		}
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// handleAgentSocket upgrades the connection and streams version events
// until the peer goes away.
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, 16)}
	s.hub.register(c)

	go c.writePump()
	c.readPump(s.hub)
}

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	pongWait     = 70 * time.Second
)

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is one-way. It exists
// to notice disconnects and answer pings.
func (c *hubClient) readPump(h *Hub) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
