// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for rooms and
// memberships: the authoritative record of who belongs to which room and
// each member's read cursor.
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/haechan419/smartspend-chat/internal/domain"
)

// DirectKey computes the deterministic, order-independent key for a direct
// room from the pair of participant ids ("<min>_<max>").
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

// IsMember reports whether userID belongs to roomID.
func IsMember(ctx context.Context, db *gorm.DB, roomID, userID int64) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&n).Error
	return n > 0, err
}

// ListMembers returns the user ids of all members of roomID.
func ListMembers(ctx context.Context, db *gorm.DB, roomID int64) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Model(&domain.Membership{}).
		Where("room_id = ?", roomID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListMemberships returns all membership rows of roomID, including read cursors.
func ListMemberships(ctx context.Context, db *gorm.DB, roomID int64) ([]domain.Membership, error) {
	var out []domain.Membership
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("user_id ASC").
		Find(&out).Error
	return out, err
}

// GetMembership fetches a single membership row.
func GetMembership(ctx context.Context, db *gorm.DB, roomID, userID int64) (*domain.Membership, error) {
	var m domain.Membership
	if err := db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetRoom fetches a room by id.
func GetRoom(ctx context.Context, db *gorm.DB, roomID int64) (*domain.Room, error) {
	var r domain.Room
	if err := db.WithContext(ctx).First(&r, "id = ?", roomID).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// FindRoomByDirectKey returns the direct room for key, or gorm.ErrRecordNotFound.
func FindRoomByDirectKey(ctx context.Context, db *gorm.DB, key string) (*domain.Room, error) {
	var r domain.Room
	if err := db.WithContext(ctx).First(&r, "direct_key = ?", key).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRoom inserts a room row.
func CreateRoom(ctx context.Context, db *gorm.DB, kind string, directKey *string) (*domain.Room, error) {
	r := &domain.Room{
		Kind:      kind,
		DirectKey: directKey,
		CreatedAt: time.Now().UTC(),
	}
	return r, db.WithContext(ctx).Create(r).Error
}

// InsertMemberIfAbsent adds (roomID, userID) unless the row already exists.
func InsertMemberIfAbsent(ctx context.Context, db *gorm.DB, roomID, userID int64) error {
	exists, err := IsMember(ctx, db, roomID, userID)
	if err != nil || exists {
		return err
	}
	m := &domain.Membership{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: time.Now().UTC(),
	}
	err = db.WithContext(ctx).Create(m).Error
	if IsUniqueViolation(err) {
		// Lost a race with a concurrent insert of the same row.
		return nil
	}
	return err
}

// AdvanceReadCursor sets LastReadMessageID = messageID for (roomID, userID)
// only when it advances the cursor; LastReadAt is refreshed either way.
// Reports whether the cursor actually moved. The row is updated with a
// guarded WHERE so concurrent advances keep the maximum.
func AdvanceReadCursor(ctx context.Context, db *gorm.DB, roomID, userID, messageID int64) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Where("last_read_message_id IS NULL OR last_read_message_id < ?", messageID).
		Updates(map[string]any{
			"last_read_message_id": messageID,
			"last_read_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Stale cursor: still record the read time.
		err := db.WithContext(ctx).Model(&domain.Membership{}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Update("last_read_at", now).Error
		return false, err
	}
	return true, nil
}

// TouchReadAt refreshes LastReadAt without moving the cursor (read of an
// empty room).
func TouchReadAt(ctx context.Context, db *gorm.DB, roomID, userID int64) error {
	return db.WithContext(ctx).Model(&domain.Membership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_read_at", time.Now().UTC()).Error
}

// ListRoomIDsForUser returns ids of every room the user belongs to.
func ListRoomIDsForUser(ctx context.Context, db *gorm.DB, userID int64) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Model(&domain.Membership{}).
		Where("user_id = ?", userID).
		Pluck("room_id", &ids).Error
	return ids, err
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// The pure-Go sqlite driver surfaces these as plain errors, so the check is
// textual; gorm.ErrDuplicatedKey is covered for drivers that translate.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if err == gorm.ErrDuplicatedKey {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique constraint") || strings.Contains(s, "constraint failed")
}
