package board

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/teamflow/relay/internal/relay"
)

// Canvas receives remote snapshots. ApplyRemote must ensure that any
// change event the apply produces carries the marker it was given.
type Canvas interface {
	ApplyRemote(elements, viewState json.RawMessage, m Marker)
}

// Handlers are the client's reactions to relay events. Nil fields are
// skipped.
type Handlers struct {
	OnCount     func(room string, count int)
	OnLockState func(room string, open bool)
	OnDenied    func(room string)
	Canvas      Canvas
}

var ErrClosed = errors.New("board: connection closed")

// Client is one connection to the session relay.
type Client struct {
	conn     *websocket.Conn
	rec      *Reconciler
	handlers Handlers

	writeMu sync.Mutex
	room    string
	roomMu  sync.Mutex

	done chan struct{}
	once sync.Once
}

// Dial connects to a relay at serverURL (e.g. "ws://host:8080/ws") and
// starts reading events. userID is the identity used for leader checks;
// it may be empty for read-only participants.
func Dial(ctx context.Context, serverURL, userID string, handlers Handlers) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		q := u.Query()
		q.Set("user", userID)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		conn:     conn,
		rec:      NewReconciler(),
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Reconciler returns the reconciler stamping this client's remote applies.
func (c *Client) Reconciler() *Reconciler {
	return c.rec
}

// Join enters a workspace room. The relay answers with the current
// participant count and the room's lock state.
func (c *Client) Join(room string) error {
	c.roomMu.Lock()
	c.room = room
	c.roomMu.Unlock()
	return c.write(relay.Envelope{Type: relay.TypeJoinRoom, Room: room})
}

// ToggleCollaboration asks the relay to open or lock the joined room.
// Non-leaders get a collaboration-denied event back instead.
func (c *Client) ToggleCollaboration(open bool) error {
	room := c.joinedRoom()
	if room == "" {
		return errors.New("board: not joined to a room")
	}
	return c.write(relay.Envelope{Type: relay.TypeToggleCollab, Room: room, Open: &open})
}

// PublishChange broadcasts a canvas change to the rest of the room. A
// change whose marker belongs to a remote apply is an echo and is
// silently dropped here, before it ever reaches the wire.
func (c *Client) PublishChange(elements, viewState json.RawMessage, m Marker) error {
	if !c.rec.ShouldBroadcast(m) {
		return nil
	}
	room := c.joinedRoom()
	if room == "" {
		return errors.New("board: not joined to a room")
	}
	return c.write(relay.Envelope{
		Type:      relay.TypeWhiteboardChange,
		Room:      room,
		Elements:  elements,
		ViewState: viewState,
	})
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *Client) joinedRoom() string {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	return c.room
}

func (c *Client) write(env relay.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop() {
	defer func() {
		c.once.Do(func() { close(c.done) })
		c.conn.Close()
	}()

	for {
		var env relay.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("board: read error: %v", err)
			}
			return
		}

		switch env.Type {
		case relay.TypeRoomCount:
			if c.handlers.OnCount != nil && env.Count != nil {
				c.handlers.OnCount(env.Room, *env.Count)
			}

		case relay.TypeCollabState:
			if c.handlers.OnLockState != nil && env.Open != nil {
				c.handlers.OnLockState(env.Room, *env.Open)
			}

		case relay.TypeCollabDenied:
			if c.handlers.OnDenied != nil {
				c.handlers.OnDenied(env.Room)
			}

		case relay.TypeWhiteboardUpdate:
			if c.handlers.Canvas != nil {
				// Stamp before applying so the resulting change event
				// is recognizable as an echo.
				m := c.rec.NextRemoteMarker()
				c.handlers.Canvas.ApplyRemote(env.Elements, env.ViewState, m)
			}
		}
	}
}
