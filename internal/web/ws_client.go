package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Size of the client send buffer.
	sendBufferSize = 64
)

// WSClient is one websocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// send is closed by Close.
	send chan *WSMessage

	mu     sync.Mutex
	closed bool
}

// NewWSClient wraps conn.
func NewWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:  hub,
		conn: conn,
		send: make(chan *WSMessage, sendBufferSize),
	}
}

// Send queues a message, dropping it when the client is not keeping up.
func (c *WSClient) Send(msg *WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		c.hub.log.Warn("Websocket send buffer full, dropping message",
			"type", msg.Type, "remote", c.conn.RemoteAddr().String())
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
	c.conn.Close()
}

// readPump reads until the peer goes away, then unregisters the client.
func (c *WSClient) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.hub.log.Debug("Websocket read error",
					"err", err)
			}
			return
		}

		c.hub.handleIncomingMessage(c, messageType, data)
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.log.Error("Websocket marshal failed",
					"type", msg.Type, "err", err)
				continue
			}

			err = c.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}
