package gateway

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codedeck/deckd/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	sendQueueSize = 256
)

// client is one WebSocket connection plus its active session subscriptions.
type client struct {
	conn *websocket.Conn
	send chan protocol.Message

	mu     sync.Mutex
	closed bool
	subs   map[string]func()
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan protocol.Message, sendQueueSize),
		subs: make(map[string]func()),
	}
}

// enqueue hands a message to the write pump. A client that cannot keep up
// loses messages rather than stalling session fan-out. The closed check and
// the send share the client lock with shutdown, so a broadcast racing a
// disconnect can never hit a closed channel.
func (c *client) enqueue(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("gateway: client %s send queue full, dropping %s", c.conn.RemoteAddr(), msg.Type)
	}
}

// shutdown marks the client dead and releases the write pump. Idempotent.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// addSub stores an unsubscribe closure keyed by session id, replacing (and
// releasing) any previous subscription to the same session.
func (c *client) addSub(sessionID string, unsub func()) {
	c.mu.Lock()
	prev := c.subs[sessionID]
	c.subs[sessionID] = unsub
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// removeSub releases one subscription. Reports whether it existed.
func (c *client) removeSub(sessionID string) bool {
	c.mu.Lock()
	unsub, ok := c.subs[sessionID]
	delete(c.subs, sessionID)
	c.mu.Unlock()
	if ok {
		unsub()
	}
	return ok
}

// subscribed reports whether this client listens to the given session.
func (c *client) subscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[sessionID]
	return ok
}

// clearSubs releases every subscription. Called once on disconnect so dead
// connections never linger in session fan-out.
func (c *client) clearSubs() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]func())
	c.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
}

// readPump consumes inbound messages until the connection drops.
func (c *client) readPump(s *Server) {
	defer func() {
		s.dropClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("gateway: client %s read error: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
		s.handleMessage(c, raw)
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// periodic pings.
func (c *client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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
