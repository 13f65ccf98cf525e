package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roasbeef/labeler/internal/scan"
)

// Websocket message types.
const (
	WSMsgTypeConnected = "connected"
	WSMsgTypeCycle     = "cycle"
	WSMsgTypePong      = "pong"
	WSMsgTypeError     = "error"
)

// WSMessage is the envelope of every websocket frame.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub tracks websocket clients and fans cycle reports out to them.
type Hub struct {
	clients map[*WSClient]struct{}

	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan *WSMessage

	// count mirrors len(clients) for readers outside Run.
	count chan chan int

	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. Call Run to start it.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[*WSClient]struct{}),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan *WSMessage, 64),
		count:      make(chan chan int),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run owns the client set until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			for client := range h.clients {
				client.Close()
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.Debug("Websocket client registered",
				"total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.log.Debug("Websocket client unregistered",
				"total", len(h.clients))

		case msg := <-h.broadcast:
			for client := range h.clients {
				client.Send(msg)
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.cancel()
}

// Register adds a client. It reports false once the hub is stopped.
func (h *Hub) Register(c *WSClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *WSClient) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// BroadcastCycle sends a finished cycle to every client. It never blocks
// the caller, which is the scan orchestrator.
func (h *Hub) BroadcastCycle(report scan.CycleReport) {
	h.BroadcastToAll(&WSMessage{Type: WSMsgTypeCycle, Payload: report})
}

// BroadcastToAll queues msg for every client, dropping it when the queue
// is full.
func (h *Hub) BroadcastToAll(msg *WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("Websocket broadcast buffer full, dropping message",
			"type", msg.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.ctx.Done():
		return 0
	}
}

// upgrader only accepts same-origin browsers. Non-browser clients send no
// Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// handleWebSocket handles GET /ws.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "err", err)
		return
	}

	client := NewWSClient(s.hub, conn)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	client.Send(&WSMessage{
		Type: WSMsgTypeConnected,
		Payload: map[string]any{
			"time": time.Now().UTC().Format(time.RFC3339),
		},
	})

	go client.writePump()
	go client.readPump()
}

// handleIncomingMessage answers client pings. Nothing else is accepted.
func (h *Hub) handleIncomingMessage(client *WSClient, messageType int,
	data []byte) {

	if messageType != websocket.TextMessage {
		return
	}

	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		client.Send(&WSMessage{
			Type: WSMsgTypeError,
			Payload: map[string]any{
				"message": "invalid message format",
			},
		})
		return
	}

	switch msg.Type {
	case "ping":
		client.Send(&WSMessage{
			Type: WSMsgTypePong,
			Payload: map[string]any{
				"time": time.Now().UTC().Format(time.RFC3339),
			},
		})

	default:
		client.Send(&WSMessage{
			Type: WSMsgTypeError,
			Payload: map[string]any{
				"message": "unknown message type: " + msg.Type,
			},
		})
	}
}
