package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/haechan419/smartspend-chat/internal/auth"
	"github.com/haechan419/smartspend-chat/internal/http/middleware"
	"github.com/haechan419/smartspend-chat/internal/repo"
	"github.com/haechan419/smartspend-chat/internal/services"
)

// ---------- test fixture: real services over an in-memory DB ----------

const testSecret = "handler-test-secret"

type fixture struct {
	db       *gorm.DB
	engine   *gin.Engine
	verifier *auth.Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:chat_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	verifier := auth.NewVerifier(testSecret)
	rooms := services.NewRoomService(db, nil)
	msgs := services.NewMessageService(db, nil)
	search := services.NewSearchService(db, 0)
	h := New(rooms, msgs, search)

	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("")
	api.Use(middleware.Authenticate(verifier))
	api.POST("/rooms/direct", h.CreateDirectRoom)
	api.POST("/rooms/group", h.CreateGroupRoom)
	api.POST("/rooms/:id/invite", h.Invite)
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id/meta", h.RoomMeta)
	api.POST("/rooms/:id/read", h.MarkRead)
	api.GET("/rooms/:id/messages", h.History)
	api.POST("/rooms/:id/messages", h.SendMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.GET("/attachments/search", h.SearchAttachments)

	return &fixture{db: db, engine: r, verifier: verifier}
}

func (f *fixture) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := f.verifier.Sign(auth.Principal{UserID: userID}, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// do runs one request as userID and returns the recorder.
func (f *fixture) do(t *testing.T, userID int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (f *fixture) directRoom(t *testing.T, me, target int64) int64 {
	t.Helper()
	w := f.do(t, me, http.MethodPost, "/rooms/direct", DirectRoomRequest{TargetUserID: target})
	if w.Code != http.StatusOK {
		t.Fatalf("create direct room: status %d body %s", w.Code, w.Body.String())
	}
	return decode[RoomIDResponse](t, w).RoomID
}

// ---------- tests ----------

func TestCreateDirectRoom_IdempotentAcrossCallers(t *testing.T) {
	f := newFixture(t)

	r1 := f.directRoom(t, 1, 2)
	r2 := f.directRoom(t, 2, 1)
	if r1 != r2 {
		t.Fatalf("rooms differ: %d vs %d", r1, r2)
	}

	w := f.do(t, 1, http.MethodPost, "/rooms/direct", DirectRoomRequest{TargetUserID: 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self chat: status %d; want 400", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d; want 401", w.Code)
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Code != ErrCodeUnauthorized {
		t.Fatalf("error code = %q; want %q", resp.Code, ErrCodeUnauthorized)
	}
}

func TestSendAndHistory(t *testing.T) {
	f := newFixture(t)
	roomID := f.directRoom(t, 1, 2)
	base := fmt.Sprintf("/rooms/%d/messages", roomID)

	for i := 0; i < 4; i++ {
		w := f.do(t, 1, http.MethodPost, base, SendMessageRequest{Content: fmt.Sprintf("msg %d", i)})
		if w.Code != http.StatusCreated {
			t.Fatalf("send %d: status %d body %s", i, w.Code, w.Body.String())
		}
	}

	w := f.do(t, 2, http.MethodGet, base+"?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: status %d body %s", w.Code, w.Body.String())
	}
	page := decode[struct {
		Messages []struct {
			ID      int64   `json:"id"`
			Content *string `json:"content"`
		} `json:"messages"`
	}](t, w)
	if len(page.Messages) != 2 {
		t.Fatalf("want 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].ID <= page.Messages[1].ID {
		t.Fatalf("history not newest first: %+v", page.Messages)
	}

	// Cursor pages continue strictly below the last id.
	cursor := page.Messages[1].ID
	w = f.do(t, 2, http.MethodGet, fmt.Sprintf("%s?limit=10&cursor=%d", base, cursor), nil)
	next := decode[struct {
		Messages []struct {
			ID int64 `json:"id"`
		} `json:"messages"`
	}](t, w)
	if len(next.Messages) != 2 {
		t.Fatalf("want 2 older messages, got %d", len(next.Messages))
	}
	for _, m := range next.Messages {
		if m.ID >= cursor {
			t.Fatalf("cursor overlap: id %d >= cursor %d", m.ID, cursor)
		}
	}

	// Outsiders see nothing.
	w = f.do(t, 9, http.MethodGet, base, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider history: status %d; want 403", w.Code)
	}

	// Junk cursors are rejected up front.
	w = f.do(t, 2, http.MethodGet, base+"?cursor=banana", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor: status %d; want 400", w.Code)
	}
}

func TestMarkReadAndListRooms(t *testing.T) {
	f := newFixture(t)
	roomID := f.directRoom(t, 1, 2)
	base := fmt.Sprintf("/rooms/%d", roomID)

	var lastID int64
	for i := 0; i < 3; i++ {
		w := f.do(t, 2, http.MethodPost, base+"/messages", SendMessageRequest{Content: "hi"})
		msg := decode[struct {
			ID int64 `json:"id"`
		}](t, w)
		lastID = msg.ID
	}

	w := f.do(t, 1, http.MethodPost, base+"/read", MarkReadRequest{MessageID: lastID})
	if w.Code != http.StatusNoContent {
		t.Fatalf("mark read: status %d body %s", w.Code, w.Body.String())
	}

	// Read everything: the badge is clear.
	w = f.do(t, 1, http.MethodGet, "/rooms", nil)
	rooms := decode[struct {
		Rooms []struct {
			RoomID      int64 `json:"room_id"`
			UnreadCount int64 `json:"unread_count"`
		} `json:"rooms"`
	}](t, w)
	if len(rooms.Rooms) != 1 || rooms.Rooms[0].UnreadCount != 0 {
		t.Fatalf("unexpected room list: %+v", rooms.Rooms)
	}

	// Stale mark-read succeeds silently.
	w = f.do(t, 1, http.MethodPost, base+"/read", MarkReadRequest{MessageID: lastID - 1})
	if w.Code != http.StatusNoContent {
		t.Fatalf("stale mark read: status %d; want 204", w.Code)
	}

	// Meta exposes both cursors.
	w = f.do(t, 1, http.MethodGet, base+"/meta", nil)
	meta := decode[services.RoomMeta](t, w)
	if meta.MyLastRead == nil || *meta.MyLastRead != lastID {
		t.Fatalf("my cursor = %v; want %d", meta.MyLastRead, lastID)
	}
	if meta.MemberCount != 2 {
		t.Fatalf("member count = %d; want 2", meta.MemberCount)
	}
}

func TestGroupRoomAndInvite(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, 1, http.MethodPost, "/rooms/group", GroupRoomRequest{MemberUserIDs: []int64{2, 3}})
	if w.Code != http.StatusCreated {
		t.Fatalf("create group: status %d body %s", w.Code, w.Body.String())
	}
	roomID := decode[RoomIDResponse](t, w).RoomID

	// Outsider invites are forbidden.
	w = f.do(t, 9, http.MethodPost, fmt.Sprintf("/rooms/%d/invite", roomID), InviteRequest{UserIDs: []int64{4}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider invite: status %d; want 403", w.Code)
	}

	w = f.do(t, 1, http.MethodPost, fmt.Sprintf("/rooms/%d/invite", roomID), InviteRequest{UserIDs: []int64{4}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("invite: status %d body %s", w.Code, w.Body.String())
	}

	// The invitee can now read the room.
	w = f.do(t, 4, http.MethodGet, fmt.Sprintf("/rooms/%d/messages", roomID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("invitee history: status %d; want 200", w.Code)
	}
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	roomID := f.directRoom(t, 1, 2)

	w := f.do(t, 1, http.MethodPost, fmt.Sprintf("/rooms/%d/messages", roomID), SendMessageRequest{Content: "oops"})
	msg := decode[struct {
		ID int64 `json:"id"`
	}](t, w)

	// Only the sender may delete.
	w = f.do(t, 2, http.MethodDelete, fmt.Sprintf("/messages/%d", msg.ID), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("peer delete: status %d; want 403", w.Code)
	}
	w = f.do(t, 1, http.MethodDelete, fmt.Sprintf("/messages/%d", msg.ID), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("author delete: status %d body %s", w.Code, w.Body.String())
	}
	w = f.do(t, 1, http.MethodDelete, "/messages/999999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status %d; want 404", w.Code)
	}
}
