package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/haechan419/smartspend-chat/internal/auth"
	"github.com/haechan419/smartspend-chat/internal/domain"
	"github.com/haechan419/smartspend-chat/internal/repo"
	"github.com/haechan419/smartspend-chat/internal/services"
)

// Command is an inbound frame from an authenticated connection.
type Command struct {
	Type      string `json:"type"` // SEND | MARK_READ | SUBSCRIBE | UNSUBSCRIBE
	Topic     string `json:"topic,omitempty"`
	RoomID    int64  `json:"room_id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// reply is the frame sent back for command outcomes.
type reply struct {
	Type    string `json:"type"` // SUBSCRIBED | UNSUBSCRIBED | ERROR | ACK
	Topic   string `json:"topic,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// RoomAuthorizer is the slice of the room service the gateway needs.
type RoomAuthorizer interface {
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	MarkRead(ctx context.Context, roomID, userID, messageID int64) error
}

// Sender is the slice of the dispatch path the gateway needs.
type Sender interface {
	Send(ctx context.Context, roomID, senderID int64, content string, atts []repo.NewAttachment) (*domain.Message, error)
}

// Gateway authenticates new connections and authorizes every subscription
// and send against the membership registry. Per-connection state machine:
// unauthenticated → principal bound at handshake → per-subscription
// authorized or rejected (a rejection never closes the connection).
type Gateway struct {
	hub      *Hub
	verifier *auth.Verifier
	rooms    RoomAuthorizer
	sender   Sender
	sendBuf  int
	upgrader websocket.Upgrader
}

// NewGateway wires a Gateway. sendBuf is the per-client outbound buffer
// size; values below 1 are coerced to 64.
func NewGateway(hub *Hub, verifier *auth.Verifier, rooms RoomAuthorizer, sender Sender, sendBuf int) *Gateway {
	if sendBuf < 1 {
		sendBuf = 64
	}
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		rooms:    rooms,
		sender:   sender,
		sendBuf:  sendBuf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced at the edge; the API itself
			// accepts any origin, matching the REST CORS posture.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handshake is the gin route handler for the websocket endpoint. The bearer
// token comes from the Authorization header, with a token query parameter
// fallback for browser clients that cannot set handshake headers. A bad
// token refuses the connection before any subscription is possible.
func (g *Gateway) Handshake(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if tok := c.Query("token"); tok != "" {
			header = "Bearer " + tok
		}
	}
	principal, err := g.verifier.FromBearer(header)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "invalid or missing token",
		})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		gw:        g,
		principal: principal,
		conn:      conn,
		send:      make(chan []byte, g.sendBuf),
	}
	wsConnections.Inc()
	log.Info().Int64("user_id", principal.UserID).Msg("websocket connected")

	go client.writePump()
	go client.readPump()
}

// dispatch handles one inbound command on behalf of a client. The sender
// identity is always the connection's bound principal; client-supplied ids
// are only ever resource ids, never identities.
func (g *Gateway) dispatch(c *Client, cmd Command) {
	ctx := context.Background()
	switch cmd.Type {
	case "SUBSCRIBE":
		g.subscribe(ctx, c, cmd.Topic)
	case "UNSUBSCRIBE":
		g.hub.Unsubscribe(cmd.Topic, c)
		c.reply(reply{Type: "UNSUBSCRIBED", Topic: cmd.Topic})
	case "SEND":
		g.send(ctx, c, cmd)
	case "MARK_READ":
		g.markRead(ctx, c, cmd)
	default:
		c.reply(reply{Type: "ERROR", Code: "bad_request", Message: "unknown command type"})
	}
}

// subscribe authorizes and registers a topic subscription. Room topics
// require membership; a user queue is permitted only for the bound
// principal's own id. Rejections leave the connection open.
func (g *Gateway) subscribe(ctx context.Context, c *Client, topic string) {
	if roomID, ok := services.ParseRoomTopic(topic); ok {
		member, err := g.rooms.IsMember(ctx, roomID, c.principal.UserID)
		if err != nil {
			c.reply(reply{Type: "ERROR", Topic: topic, Code: "internal_error", Message: "subscription failed, retry"})
			return
		}
		if !member {
			c.reply(reply{Type: "ERROR", Topic: topic, Code: "forbidden", Message: "not a room member"})
			return
		}
		g.hub.Subscribe(topic, c)
		c.reply(reply{Type: "SUBSCRIBED", Topic: topic})
		return
	}
	if userID, ok := services.ParseUserTopic(topic); ok {
		if userID != c.principal.UserID {
			c.reply(reply{Type: "ERROR", Topic: topic, Code: "forbidden", Message: "personal queue of another user"})
			return
		}
		g.hub.Subscribe(topic, c)
		c.reply(reply{Type: "SUBSCRIBED", Topic: topic})
		return
	}
	c.reply(reply{Type: "ERROR", Topic: topic, Code: "bad_request", Message: "unknown topic"})
}

// send runs the dispatch path for an inbound SEND. Membership is
// re-checked inside the service; the sender id is the bound principal.
func (g *Gateway) send(ctx context.Context, c *Client, cmd Command) {
	_, err := g.sender.Send(ctx, cmd.RoomID, c.principal.UserID, cmd.Content, nil)
	switch {
	case err == nil:
		// The persisted message reaches the client through its room
		// subscription; no separate ack payload needed.
	case errors.Is(err, services.ErrForbidden):
		c.reply(reply{Type: "ERROR", Code: "forbidden", Message: "not a room member"})
	case errors.Is(err, services.ErrRoomNotFound):
		c.reply(reply{Type: "ERROR", Code: "not_found", Message: "room not found"})
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrTooLong):
		c.reply(reply{Type: "ERROR", Code: "bad_request", Message: err.Error()})
	default:
		log.Error().Err(err).Int64("user_id", c.principal.UserID).Int64("room_id", cmd.RoomID).Msg("send failed")
		c.reply(reply{Type: "ERROR", Code: "internal_error", Message: "send failed, retry"})
	}
}

// markRead advances the caller's read cursor. Stale cursors are a silent
// success by service contract.
func (g *Gateway) markRead(ctx context.Context, c *Client, cmd Command) {
	err := g.rooms.MarkRead(ctx, cmd.RoomID, c.principal.UserID, cmd.MessageID)
	switch {
	case err == nil:
		c.reply(reply{Type: "ACK"})
	case errors.Is(err, services.ErrForbidden):
		c.reply(reply{Type: "ERROR", Code: "forbidden", Message: "not a room member"})
	case errors.Is(err, services.ErrInvalidCursor):
		c.reply(reply{Type: "ERROR", Code: "bad_request", Message: "message does not belong to room"})
	default:
		log.Error().Err(err).Int64("user_id", c.principal.UserID).Int64("room_id", cmd.RoomID).Msg("mark read failed")
		c.reply(reply{Type: "ERROR", Code: "internal_error", Message: "mark read failed, retry"})
	}
}

// reply marshals and offers r on the client's own buffer. An overflow here
// is treated like any other backpressure: the frame is dropped and the
// client reconciles through history.
func (c *Client) reply(r reply) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.enqueue(b)
}
