package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"devicelink/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local UI only
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024, // device lists carry base64 screenshots
}

type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHub pushes notifications and device list updates to every
// connected UI. It implements service.Notifier.
type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	// snapshot returns the current device list sent to new clients
	snapshot func() []models.DeviceView
}

func NewWebSocketHub(snapshot func() []models.DeviceView) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		snapshot:   snapshot,
	}
}

// Run serves registrations until ctx is cancelled, then disconnects everyone
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("🔗 Client connected (total: %d)", total)
			if h.snapshot != nil {
				h.sendTo(client, h.devicesMessage(h.snapshot()))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("🔌 Client disconnected (total: %d)", total)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHub) devicesMessage(devices []models.DeviceView) models.Notification {
	return models.Notification{
		ID:        uuid.NewString(),
		Type:      models.NotifyDevices,
		Data:      devices,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (h *WebSocketHub) sendTo(client *Client, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
		log.Printf("⚠️ Client channel full, skipping")
	}
}

// BroadcastToAll sends a message to all connected clients
func (h *WebSocketHub) BroadcastToAll(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// drop the oldest message so the latest state gets through
			select {
			case <-client.send:
			default:
			}
			select {
			case client.send <- data:
			default:
				log.Printf("⚠️ Client channel full, skipping")
			}
		}
	}
}

// PushDevices broadcasts the device list
func (h *WebSocketHub) PushDevices(devices []models.DeviceView) {
	h.BroadcastToAll(h.devicesMessage(devices))
}

func (h *WebSocketHub) notify(kind, message string) {
	h.BroadcastToAll(models.Notification{
		ID:        uuid.NewString(),
		Type:      kind,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *WebSocketHub) LoadingOn(message string)  { h.notify(models.NotifyLoadingOn, message) }
func (h *WebSocketHub) LoadingOff()               { h.notify(models.NotifyLoadingOff, "") }
func (h *WebSocketHub) TipSuccess(message string) { h.notify(models.NotifyTipSuccess, message) }
func (h *WebSocketHub) TipError(message string)   { h.notify(models.NotifyTipError, message) }

func (h *WebSocketHub) AlertError(message string) {
	log.Printf("❌ %s", message)
	h.notify(models.NotifyAlertError, message)
}

func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump keeps the connection alive and notices when the client leaves.
// Clients do not send commands over the socket; they use the HTTP API.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump writes queued JSON messages and pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
