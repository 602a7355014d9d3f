// Package services – RoomService
//
// This file implements the RoomService, the authoritative interface to room
// membership and read cursors. It creates direct rooms idempotently (at most
// one DIRECT room per unordered user pair, resolved by a unique key with
// retry-on-conflict), manages group rooms and invitations, answers the
// membership checks the gatekeeper and dispatch path rely on, advances read
// cursors with advancing-only semantics, and computes per-room summaries
// with unread counts.
//
// Service-level errors (e.g. ErrForbidden, ErrInvalidCursor) are returned
// for predictable cases so handlers can map them to transport results
// consistently.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/haechan419/smartspend-chat/internal/domain"
	"github.com/haechan419/smartspend-chat/internal/repo"
)

// Publisher delivers a payload to every current subscriber of a topic.
// Delivery is best-effort: disconnected subscribers miss the push and
// reconcile through history on reconnect.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// NopPublisher discards all publishes. Used where fan-out is not wired
// (tests, offline tooling).
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, []byte) {}

// RoomService provides room lifecycle, membership, and read-cursor
// operations backed by the membership registry tables.
type RoomService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Pub receives room/user notifications; may be NopPublisher.
	Pub Publisher
}

// NewRoomService constructs a RoomService. A nil pub is replaced with
// NopPublisher.
func NewRoomService(db *gorm.DB, pub Publisher) *RoomService {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &RoomService{DB: db, Pub: pub}
}

// IsMember reports whether userID belongs to roomID. Used on every
// subscribe and every send-authorization check; always a live query,
// never a cached counter.
func (s *RoomService) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	return repo.IsMember(ctx, s.DB, roomID, userID)
}

// EnsureDirectRoom returns the id of the direct room for the unordered pair
// (meID, targetID), creating the room and both memberships atomically when
// absent. Concurrent calls for the same pair resolve to one room: the
// direct-key unique constraint rejects the loser, which then re-reads.
func (s *RoomService) EnsureDirectRoom(ctx context.Context, meID, targetID int64) (int64, error) {
	tr := otel.Tracer("services/RoomService")
	ctx, span := tr.Start(ctx, "EnsureDirectRoom",
		trace.WithAttributes(attribute.Int64("user.id", meID)),
	)
	defer span.End()

	if meID == targetID {
		return 0, ErrSelfChat
	}
	key := repo.DirectKey(meID, targetID)

	if r, err := repo.FindRoomByDirectKey(ctx, s.DB, key); err == nil {
		// Memberships may be missing if a previous create was interrupted.
		if err := s.ensureMembers(ctx, r.ID, meID, targetID); err != nil {
			return 0, err
		}
		return r.ID, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	// Room and both memberships commit together; a failure leaves no
	// member-less room behind.
	var roomID int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := repo.CreateRoom(ctx, tx, domain.RoomDirect, &key)
		if err != nil {
			return err
		}
		for _, uid := range []int64{meID, targetID} {
			if err := repo.InsertMemberIfAbsent(ctx, tx, room.ID, uid); err != nil {
				return err
			}
		}
		roomID = room.ID
		return nil
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			r, err2 := repo.FindRoomByDirectKey(ctx, s.DB, key)
			if err2 != nil {
				return 0, err2
			}
			if err2 := s.ensureMembers(ctx, r.ID, meID, targetID); err2 != nil {
				return 0, err2
			}
			return r.ID, nil
		}
		return 0, err
	}
	s.notifyRoomsChanged(ctx, roomID)
	return roomID, nil
}

func (s *RoomService) ensureMembers(ctx context.Context, roomID int64, userIDs ...int64) error {
	for _, uid := range userIDs {
		if err := repo.InsertMemberIfAbsent(ctx, s.DB, roomID, uid); err != nil {
			return err
		}
	}
	return nil
}

// CreateGroupRoom creates a group room with meID plus memberIDs (duplicates
// ignored) and returns its id.
func (s *RoomService) CreateGroupRoom(ctx context.Context, meID int64, memberIDs []int64) (int64, error) {
	var roomID int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := repo.CreateRoom(ctx, tx, domain.RoomGroup, nil)
		if err != nil {
			return err
		}
		all := append([]int64{meID}, memberIDs...)
		seen := make(map[int64]struct{}, len(all))
		for _, uid := range all {
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			if err := repo.InsertMemberIfAbsent(ctx, tx, room.ID, uid); err != nil {
				return err
			}
		}
		roomID = room.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.notifyRoomsChanged(ctx, roomID)
	return roomID, nil
}

// Invite adds userIDs to roomID. The inviter must be a member.
func (s *RoomService) Invite(ctx context.Context, roomID, meID int64, userIDs []int64) error {
	ok, err := s.IsMember(ctx, roomID, meID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	seen := make(map[int64]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if err := repo.InsertMemberIfAbsent(ctx, s.DB, roomID, uid); err != nil {
			return err
		}
	}
	s.notifyRoomsChanged(ctx, roomID)
	return nil
}

// ReadEvent is broadcast on the room read topic when a member advances
// their cursor, so peers can refresh "seen" markers.
type ReadEvent struct {
	Type              string `json:"type"`
	RoomID            int64  `json:"room_id"`
	UserID            int64  `json:"user_id"`
	LastReadMessageID int64  `json:"last_read_message_id"`
}

// MarkRead advances the read cursor of (roomID, userID) to messageID.
//
// Semantics:
//   - The caller must be a member (ErrForbidden otherwise).
//   - messageID must belong to roomID (ErrInvalidCursor otherwise); a
//     soft-deleted message is still a valid cursor target.
//   - A cursor at or above messageID is left untouched and the call
//     succeeds silently (advancing-only).
//
// On an actual advance a READ event is published to the room's read topic.
func (s *RoomService) MarkRead(ctx context.Context, roomID, userID, messageID int64) error {
	tr := otel.Tracer("services/RoomService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.Int64("room.id", roomID),
			attribute.Int64("user.id", userID),
		),
	)
	defer span.End()

	ok, err := s.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}

	msg, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCursor
		}
		return err
	}
	if msg.RoomID != roomID {
		return ErrInvalidCursor
	}

	advanced, err := repo.AdvanceReadCursor(ctx, s.DB, roomID, userID, messageID)
	if err != nil {
		return err
	}
	if advanced {
		if b, err := json.Marshal(ReadEvent{
			Type:              "READ",
			RoomID:            roomID,
			UserID:            userID,
			LastReadMessageID: messageID,
		}); err == nil {
			s.Pub.Publish(RoomReadTopic(roomID), b)
		}
	}
	return nil
}

// MemberRead returns the read cursor of one member.
func (s *RoomService) MemberRead(ctx context.Context, roomID, userID int64) (*int64, error) {
	m, err := repo.GetMembership(ctx, s.DB, roomID, userID)
	if err != nil {
		return nil, err
	}
	return m.LastReadMessageID, nil
}

// MemberRead pairs a member with their read cursor for read-receipt
// rendering.
type MemberRead struct {
	UserID            int64  `json:"user_id"`
	LastReadMessageID *int64 `json:"last_read_message_id"`
}

// RoomMeta is the per-room metadata returned to clients: every member's
// read cursor plus the caller's own.
type RoomMeta struct {
	RoomID      int64        `json:"room_id"`
	MyLastRead  *int64       `json:"my_last_read_message_id"`
	Members     []MemberRead `json:"members"`
	MemberCount int          `json:"member_count"`
}

// Metadata returns every member's read cursor for roomID. The caller must
// be a member.
func (s *RoomService) Metadata(ctx context.Context, roomID, meID int64) (*RoomMeta, error) {
	ok, err := s.IsMember(ctx, roomID, meID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	rows, err := repo.ListMemberships(ctx, s.DB, roomID)
	if err != nil {
		return nil, err
	}
	meta := &RoomMeta{RoomID: roomID, MemberCount: len(rows)}
	for _, m := range rows {
		meta.Members = append(meta.Members, MemberRead{
			UserID:            m.UserID,
			LastReadMessageID: m.LastReadMessageID,
		})
		if m.UserID == meID {
			meta.MyLastRead = m.LastReadMessageID
		}
	}
	return meta, nil
}

// RoomSummary is one row of a user's room list: the room, its latest live
// message (if any), and the unread badge count.
type RoomSummary struct {
	RoomID      int64           `json:"room_id"`
	Kind        string          `json:"kind"`
	LastMessage *domain.Message `json:"last_message,omitempty"`
	UnreadCount int64           `json:"unread_count"`
}

// RoomSummaries returns one summary per room the user belongs to, ordered
// by latest message id descending (rooms without messages last). Unread =
// non-deleted messages from other senders above the read cursor.
func (s *RoomService) RoomSummaries(ctx context.Context, userID int64) ([]RoomSummary, error) {
	roomIDs, err := repo.ListRoomIDsForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := make([]RoomSummary, 0, len(roomIDs))
	for _, rid := range roomIDs {
		room, err := repo.GetRoom(ctx, s.DB, rid)
		if err != nil {
			return nil, err
		}
		last, err := repo.LatestMessage(ctx, s.DB, rid)
		if err != nil {
			return nil, err
		}
		mem, err := repo.GetMembership(ctx, s.DB, rid, userID)
		if err != nil {
			return nil, err
		}
		unread, err := repo.CountUnread(ctx, s.DB, rid, userID, mem.LastReadMessageID)
		if err != nil {
			return nil, err
		}
		out = append(out, RoomSummary{
			RoomID:      rid,
			Kind:        room.Kind,
			LastMessage: last,
			UnreadCount: unread,
		})
	}
	sortSummaries(out)
	return out, nil
}

// sortSummaries orders by last message id desc; rooms without messages sink
// to the end in stable order.
func sortSummaries(rows []RoomSummary) {
	lastID := func(r RoomSummary) int64 {
		if r.LastMessage == nil {
			return 0
		}
		return r.LastMessage.ID
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return lastID(rows[i]) > lastID(rows[j])
	})
}

// notifyRoomsChanged nudges every member's personal queue so clients
// refresh their room list.
func (s *RoomService) notifyRoomsChanged(ctx context.Context, roomID int64) {
	members, err := repo.ListMembers(ctx, s.DB, roomID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"type": "ROOMS_CHANGED", "room_id": roomID})
	if err != nil {
		return
	}
	for _, uid := range members {
		s.Pub.Publish(UserTopic(uid), payload)
	}
}
