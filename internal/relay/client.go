package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teamflow/relay/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
	sendBufferSize    = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection. The hub only ever touches its id,
// room membership and send channel; the pumps own the socket.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	rooms       map[string]bool
	rateLimiter *ratelimit.Limiter

	id     string
	userID string
}

// ServeWs upgrades an HTTP request to a relay connection. The optional
// "user" query parameter associates the connection with a user identity
// for leader checks; an anonymous connection can only toggle workspaces
// with no recorded leader.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		rooms:       make(map[string]bool),
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		id:          uuid.NewString(),
		userID:      r.URL.Query().Get("user"),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// enqueue delivers directly to this client, dropping on a full buffer
// like a room broadcast would.
func (c *Client) enqueue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Dropping message for slow client %s", c.id)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for client %s (warning #%d)", c.id, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting client %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		c.dispatch(message)
	}
}

// dispatch routes one inbound frame. Malformed frames, frames without a
// room key and unknown types are dropped without a reply.
func (c *Client) dispatch(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Printf("Invalid message from client %s: %v", c.id, err)
		return
	}
	if env.Room == "" {
		return
	}

	switch env.Type {
	case TypeJoinRoom:
		c.hub.join <- joinRequest{client: c, room: env.Room}

	case TypeToggleCollab:
		if env.Open == nil {
			return
		}
		// Leader resolution runs here, on the connection's goroutine,
		// so the hub loop stays free of metadata lookups.
		c.hub.toggle <- toggleRequest{
			client:  c,
			room:    env.Room,
			open:    *env.Open,
			allowed: c.hub.canModerate(env.Room, c.userID),
		}

	case TypeWhiteboardChange:
		c.hub.update <- updateRequest{
			client:    c,
			room:      env.Room,
			elements:  env.Elements,
			viewState: env.ViewState,
		}
	}
}

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
