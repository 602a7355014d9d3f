// Chat HTTP handlers.
//
// This file exposes the REST endpoints for rooms, messages, and read
// cursors:
//   - POST   /rooms/direct           (get-or-create direct room)
//   - POST   /rooms/group            (create group room)
//   - POST   /rooms/{id}/invite      (add members)
//   - GET    /rooms                  (room list with unread badges)
//   - GET    /rooms/{id}/meta        (per-member read cursors)
//   - GET    /rooms/{id}/messages    (cursor-paginated history)
//   - POST   /rooms/{id}/messages    (send)
//   - POST   /rooms/{id}/read        (advance read cursor)
//   - DELETE /messages/{id}          (sender-only soft delete)
//
// Handlers are transport-thin: they bind input, read the principal bound by
// the auth middleware, call application services, and translate sentinel
// errors into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/haechan419/smartspend-chat/internal/domain"
	"github.com/haechan419/smartspend-chat/internal/http/middleware"
	"github.com/haechan419/smartspend-chat/internal/repo"
	"github.com/haechan419/smartspend-chat/internal/services"
	"github.com/haechan419/smartspend-chat/internal/utils"
)

//
// Service contracts (context-aware)
//

// RoomService defines room and read-cursor operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type RoomService interface {
	EnsureDirectRoom(ctx context.Context, meID, targetID int64) (int64, error)
	CreateGroupRoom(ctx context.Context, meID int64, memberIDs []int64) (int64, error)
	Invite(ctx context.Context, roomID, meID int64, userIDs []int64) error
	MarkRead(ctx context.Context, roomID, userID, messageID int64) error
	Metadata(ctx context.Context, roomID, meID int64) (*services.RoomMeta, error)
	RoomSummaries(ctx context.Context, userID int64) ([]services.RoomSummary, error)
}

// MessageService defines dispatch and history operations consumed by HTTP
// handlers.
type MessageService interface {
	Send(ctx context.Context, roomID, senderID int64, content string, atts []repo.NewAttachment) (*domain.Message, error)
	History(ctx context.Context, roomID, userID int64, cursor *int64, limit int) ([]domain.Message, error)
	SoftDelete(ctx context.Context, messageID, actingUserID int64) error
}

// SearchService defines the hybrid attachment search consumed by HTTP
// handlers.
type SearchService interface {
	Search(ctx context.Context, userID int64, query string, offset, limit int) ([]services.SearchResult, error)
}

//
// Handler wiring
//

// Handlers groups the chat HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	rooms    RoomService
	messages MessageService
	search   SearchService
}

// New constructs a Handlers instance bound to the given services.
func New(rooms RoomService, messages MessageService, search SearchService) *Handlers {
	return &Handlers{rooms: rooms, messages: messages, search: search}
}

// principal returns the authenticated user id, failing the request with 401
// when the auth middleware did not run.
func principal(c *gin.Context) (int64, bool) {
	if uid, ok := middleware.UserIDFrom(c); ok {
		return uid, true
	}
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	return 0, false
}

// pathID parses the named int64 path parameter, failing with 400 on junk.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, ok := utils.ParseID(c.Param(name))
	if !ok {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

//
// DTOs
//

// DirectRoomRequest asks for the direct room with one other user.
type DirectRoomRequest struct {
	TargetUserID int64 `json:"target_user_id" binding:"required"`
}

// GroupRoomRequest creates a group room with an initial member list.
type GroupRoomRequest struct {
	MemberUserIDs []int64 `json:"member_user_ids"`
}

// InviteRequest adds users to an existing room.
type InviteRequest struct {
	UserIDs []int64 `json:"user_ids" binding:"required"`
}

// SendMessageRequest posts a text message to a room.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// MarkReadRequest advances the caller's read cursor.
type MarkReadRequest struct {
	MessageID int64 `json:"message_id" binding:"required"`
}

// RoomIDResponse returns the id of a created or resolved room.
type RoomIDResponse struct {
	RoomID int64 `json:"room_id"`
}

//
// Endpoints
//

// CreateDirectRoom resolves (or creates) the direct room between the caller
// and target_user_id. Idempotent: the same pair always yields the same room.
func (h *Handlers) CreateDirectRoom(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	var req DirectRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "target_user_id is required")
		return
	}
	roomID, err := h.rooms.EnsureDirectRoom(c.Request.Context(), me, req.TargetUserID)
	if err != nil {
		if errors.Is(err, services.ErrSelfChat) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot chat with self")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not resolve direct room")
		return
	}
	respond(c, http.StatusOK, RoomIDResponse{RoomID: roomID})
}

// CreateGroupRoom creates a group room containing the caller plus the given
// members.
func (h *Handlers) CreateGroupRoom(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	var req GroupRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body")
		return
	}
	roomID, err := h.rooms.CreateGroupRoom(c.Request.Context(), me, req.MemberUserIDs)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not create group room")
		return
	}
	respond(c, http.StatusCreated, RoomIDResponse{RoomID: roomID})
}

// Invite adds users to a room the caller belongs to.
func (h *Handlers) Invite(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_ids is required")
		return
	}
	if err := h.rooms.Invite(c.Request.Context(), roomID, me, req.UserIDs); err != nil {
		if errors.Is(err, services.ErrForbidden) {
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a room member")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "invite failed")
		return
	}
	noContent(c)
}

// ListRooms returns the caller's room list with last message and unread
// badge per room.
func (h *Handlers) ListRooms(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	rows, err := h.rooms.RoomSummaries(c.Request.Context(), me)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list rooms")
		return
	}
	respond(c, http.StatusOK, gin.H{"rooms": rows})
}

// RoomMeta returns every member's read cursor for read-receipt rendering.
func (h *Handlers) RoomMeta(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	meta, err := h.rooms.Metadata(c.Request.Context(), roomID, me)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a room member")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load room metadata")
		return
	}
	respond(c, http.StatusOK, meta)
}

// History returns a page of messages below the optional cursor, newest
// first.
func (h *Handlers) History(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var cursor *int64
	if raw := c.Query("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid cursor")
			return
		}
		cursor = &v
	}
	limit := intQuery(c, "limit", 30)

	msgs, err := h.messages.History(c.Request.Context(), roomID, me, cursor, limit)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a room member")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load history")
		return
	}
	respond(c, http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage posts a text message through the dispatch path.
func (h *Handlers) SendMessage(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body")
		return
	}
	msg, err := h.messages.Send(c.Request.Context(), roomID, me, req.Content, nil)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrForbidden):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a room member")
		case errors.Is(err, services.ErrRoomNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "room not found")
		case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, "send failed, retry")
		}
		return
	}
	respond(c, http.StatusCreated, msg)
}

// MarkRead advances the caller's read cursor. A stale cursor is a silent
// success; an id outside the room is rejected.
func (h *Handlers) MarkRead(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message_id is required")
		return
	}
	if err := h.rooms.MarkRead(c.Request.Context(), roomID, me, req.MessageID); err != nil {
		switch {
		case errors.Is(err, services.ErrForbidden):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a room member")
		case errors.Is(err, services.ErrInvalidCursor):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message does not belong to room")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "mark read failed")
		}
		return
	}
	noContent(c)
}

// DeleteMessage soft-deletes a message the caller sent.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.messages.SoftDelete(c.Request.Context(), messageID, me); err != nil {
		switch {
		case errors.Is(err, services.ErrMessageNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		case errors.Is(err, services.ErrNotAuthor):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "only the sender may delete a message")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "delete failed")
		}
		return
	}
	noContent(c)
}

// intQuery parses a non-negative int query parameter with a default.
func intQuery(c *gin.Context, name string, def int) int {
	if n := utils.AtoiDefault(c.Query(name), def); n >= 0 {
		return n
	}
	return def
}
