// Package services – MessageService
//
// This file implements the MessageService, the dispatch path for chat
// messages. A send is authorized against the membership registry, persisted
// atomically through the message store (persist-then-publish: durability
// always precedes fan-out), and then fanned out best-effort to the room's
// broadcast topic and to each member's personal notification queue. The
// commit and the room broadcast are serialized per room so subscribers
// observe ids in allocation order. It also serves cursor-paginated history
// and sender-only soft deletion.
//
// Service-level errors (e.g. ErrForbidden, ErrNotAuthor) are returned for
// predictable cases so handlers can map them to transport results
// consistently.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/haechan419/smartspend-chat/internal/domain"
	"github.com/haechan419/smartspend-chat/internal/repo"
)

// MaxContentRunes caps message content length.
const MaxContentRunes = 4000

// MessageService implements the send/dispatch, history, and delete
// use-cases over the ordered message log.
type MessageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Pub fans persisted messages out to live subscribers; may be NopPublisher.
	Pub Publisher

	// roomLocks holds one *sync.Mutex per room id, serializing each
	// room's append-and-publish window.
	roomLocks sync.Map
}

// lockRoom acquires the room's append-and-publish lock and returns the
// release func. Without it, two concurrent senders could commit ids N and
// N+1 but publish in the opposite order, and subscribers of the room topic
// would observe the log out of order.
func (s *MessageService) lockRoom(roomID int64) func() {
	v, _ := s.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// NewMessageService constructs a MessageService. A nil pub is replaced with
// NopPublisher.
func NewMessageService(db *gorm.DB, pub Publisher) *MessageService {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &MessageService{DB: db, Pub: pub}
}

// UserNotification is the lightweight event delivered to a member's
// personal queue for cross-room unread badges.
type UserNotification struct {
	Type      string `json:"type"`
	RoomID    int64  `json:"room_id"`
	MessageID int64  `json:"message_id"`
	SenderID  int64  `json:"sender_id"`
}

// Send persists a message (with optional attachments) and fans it out.
//
// Semantics:
//   - senderID must be a member of roomID (ErrForbidden otherwise); the
//     check runs here so authorization never reaches the store layer.
//   - The room must exist (ErrRoomNotFound).
//   - Content is trimmed; a send with neither content nor attachments is
//     ErrEmptyMessage. Content above MaxContentRunes is rejected.
//   - Message and attachment rows are one atomic unit; the allocated id is
//     the room's total order.
//   - After the commit, the full message is published on the room topic and
//     a notification goes to every member's personal queue except the
//     sender. The sender's own read cursor advances to the new id.
//
// Fan-out is best-effort: a disconnected member reconciles via history.
func (s *MessageService) Send(ctx context.Context, roomID, senderID int64, content string, atts []repo.NewAttachment) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.Int64("room.id", roomID),
			attribute.Int64("user.id", senderID),
			attribute.Int("attachments", len(atts)),
		),
	)
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" && len(atts) == 0 {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return nil, ErrTooLong
	}

	ok, err := repo.IsMember(ctx, s.DB, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	if _, err := repo.GetRoom(ctx, s.DB, roomID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	var body *string
	if content != "" {
		body = &content
	}

	// The room topic must observe ids in the order the store allocated
	// them, so the commit and the room broadcast form one critical
	// section per room.
	unlock := s.lockRoom(roomID)
	msg, err := repo.AppendMessage(ctx, s.DB, roomID, senderID, body, atts)
	if err != nil {
		unlock()
		return nil, err
	}
	if b, err := json.Marshal(msg); err == nil {
		s.Pub.Publish(RoomTopic(msg.RoomID), b)
	}
	unlock()

	// The sender has obviously read their own message.
	if _, err := repo.AdvanceReadCursor(ctx, s.DB, roomID, senderID, msg.ID); err != nil {
		log.Warn().Err(err).Int64("room_id", roomID).Int64("sender_id", senderID).
			Msg("advance sender read cursor failed")
	}

	s.notifyMembers(ctx, msg)
	return msg, nil
}

// notifyMembers pushes a NEW_MESSAGE event to each member's personal queue
// (sender excluded). Failures here never fail the send: the store is the
// durability mechanism, not the transport.
func (s *MessageService) notifyMembers(ctx context.Context, msg *domain.Message) {
	members, err := repo.ListMembers(ctx, s.DB, msg.RoomID)
	if err != nil {
		log.Warn().Err(err).Int64("room_id", msg.RoomID).Msg("list members for fan-out failed")
		return
	}
	note, err := json.Marshal(UserNotification{
		Type:      "NEW_MESSAGE",
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
	})
	if err != nil {
		return
	}
	for _, uid := range members {
		if uid == msg.SenderID {
			continue
		}
		s.Pub.Publish(UserTopic(uid), note)
	}
}

// History returns up to limit messages of roomID below cursor (exclusive),
// newest first, soft-deleted rows filtered out. The caller must be a
// member. Limit is clamped to [1, 50] with a default of 30, following the
// REST surface.
func (s *MessageService) History(ctx context.Context, roomID, userID int64, cursor *int64, limit int) ([]domain.Message, error) {
	ok, err := repo.IsMember(ctx, s.DB, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > 50 {
		limit = 50
	}
	return repo.PageMessages(ctx, s.DB, roomID, cursor, limit)
}

// SoftDelete marks messageID deleted on behalf of actingUserID. Only the
// sender may delete (ErrNotAuthor). The id remains a valid cursor; the row
// simply disappears from history, search, and unread counts.
func (s *MessageService) SoftDelete(ctx context.Context, messageID, actingUserID int64) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SoftDelete",
		trace.WithAttributes(attribute.Int64("message.id", messageID)),
	)
	defer span.End()

	msg, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if msg.SenderID != actingUserID {
		return ErrNotAuthor
	}
	if msg.DeletedAt != nil {
		return nil
	}
	if err := repo.SoftDeleteMessage(ctx, s.DB, messageID); err != nil {
		return err
	}

	if b, err := json.Marshal(map[string]any{
		"type":       "MESSAGE_DELETED",
		"room_id":    msg.RoomID,
		"message_id": msg.ID,
	}); err == nil {
		s.Pub.Publish(RoomTopic(msg.RoomID), b)
	}
	return nil
}

// LatestID returns the highest live message id of roomID for badge
// computation, or nil for an empty room.
func (s *MessageService) LatestID(ctx context.Context, roomID int64) (*int64, error) {
	return repo.LatestMessageID(ctx, s.DB, roomID)
}

// Attachment fetches one attachment for download, enforcing room
// membership. Deleted attachments behave as missing.
func (s *MessageService) Attachment(ctx context.Context, attachmentID, userID int64) (*domain.Attachment, error) {
	att, err := repo.GetAttachment(ctx, s.DB, attachmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttachmentNotFound
		}
		return nil, err
	}
	member, err := repo.IsMember(ctx, s.DB, att.RoomID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}
	return att, nil
}
