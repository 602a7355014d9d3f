package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/haechan419/smartspend-chat/internal/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxMessageSize = 16 << 10
)

// Client is one authenticated websocket connection. The principal is bound
// at handshake and immutable for the connection's lifetime; it is the only
// trusted identity for everything the connection does.
type Client struct {
	gw        *Gateway
	principal auth.Principal
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	dropOnce  sync.Once
}

// drop severs the network connection, at most once. Teardown then runs on
// the read pump's exit path, the only place the send channel is ever
// closed; no publisher or dispatcher can write to a closed channel.
func (c *Client) drop() {
	c.dropOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump consumes inbound frames, dispatching each command through the
// gateway. It owns the read side of the connection and tears the client
// down on exit.
func (c *Client) readPump() {
	defer func() {
		c.gw.hub.Detach(c)
		c.closeOnce.Do(func() { close(c.send) })
		c.conn.Close()
		wsConnections.Dec()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Int64("user_id", c.principal.UserID).Msg("websocket read ended")
			}
			return
		}
		c.gw.dispatch(c, cmd)
	}
}

// writePump drains the outbound buffer onto the wire and keeps the
// connection alive with pings. A closed send channel (read-side teardown)
// or a failed write ends the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// enqueue offers payload to this client directly (command replies, errors).
// Returns false when the buffer is full; the caller decides what to do.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}
