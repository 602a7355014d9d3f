// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ordered
// message log and its attachments.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/haechan419/smartspend-chat/internal/domain"
)

// NewAttachment carries the metadata for one attachment row to be created
// together with its owning message.
type NewAttachment struct {
	OriginalName string
	StoredName   string
	MimeType     string
	SizeBytes    int64
	StorageKey   string
}

// AppendMessage persists a message and its attachments as one atomic unit.
// The auto-increment message id is the single source of ordering; room and
// uploader are denormalized onto each attachment row. Callers must run this
// inside a transaction when combining it with other writes.
func AppendMessage(ctx context.Context, db *gorm.DB, roomID, senderID int64, content *string, atts []NewAttachment) (*domain.Message, error) {
	var msg *domain.Message
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := &domain.Message{
			RoomID:    roomID,
			SenderID:  senderID,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		for _, a := range atts {
			row := &domain.Attachment{
				MessageID:    m.ID,
				RoomID:       roomID,
				UploaderID:   senderID,
				OriginalName: a.OriginalName,
				StoredName:   a.StoredName,
				MimeType:     a.MimeType,
				SizeBytes:    a.SizeBytes,
				StorageKey:   a.StorageKey,
				CreatedAt:    m.CreatedAt,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			m.Attachments = append(m.Attachments, *row)
		}
		msg = m
		return nil
	})
	return msg, err
}

// GetMessage fetches a message by id (deleted rows included; callers that
// need live rows must check DeletedAt).
func GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// SoftDeleteMessage sets DeletedAt on a message. Rows stay in place so the
// id remains a valid pagination cursor.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC()).Error
}

// PageMessages returns up to limit non-deleted messages of roomID in
// descending id order, strictly below cursor when cursor is non-nil. The
// cursor is stateless: restart by resupplying the last returned id.
func PageMessages(ctx context.Context, db *gorm.DB, roomID int64, cursor *int64, limit int) ([]domain.Message, error) {
	q := db.WithContext(ctx).
		Where("room_id = ? AND deleted_at IS NULL", roomID).
		Order("id DESC").
		Limit(limit)
	if cursor != nil {
		q = q.Where("id < ?", *cursor)
	}
	var out []domain.Message
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	if err := attachTo(ctx, db, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestMessageID returns the highest non-deleted message id in roomID, or
// nil when the room has no live messages.
func LatestMessageID(ctx context.Context, db *gorm.DB, roomID int64) (*int64, error) {
	var id *int64
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Where("room_id = ? AND deleted_at IS NULL", roomID).
		Select("MAX(id)").
		Scan(&id).Error
	return id, err
}

// LatestMessage returns the newest non-deleted message of roomID, or nil.
func LatestMessage(ctx context.Context, db *gorm.DB, roomID int64) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("room_id = ? AND deleted_at IS NULL", roomID).
		Order("id DESC").
		First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountUnread counts non-deleted messages in roomID from other senders with
// id above the read cursor (0 when the cursor is unset).
func CountUnread(ctx context.Context, db *gorm.DB, roomID, userID int64, lastRead *int64) (int64, error) {
	var after int64
	if lastRead != nil {
		after = *lastRead
	}
	var n int64
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Where("room_id = ? AND deleted_at IS NULL AND sender_id <> ? AND id > ?", roomID, userID, after).
		Count(&n).Error
	return n, err
}

// attachTo loads the live attachments of each message in msgs with one
// IN query and distributes them onto the owning rows.
func attachTo(ctx context.Context, db *gorm.DB, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	byID := make(map[int64]*domain.Message, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		byID[msgs[i].ID] = &msgs[i]
	}
	var rows []domain.Attachment
	if err := db.WithContext(ctx).
		Where("message_id IN ? AND deleted_at IS NULL", ids).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	for _, a := range rows {
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return nil
}

// ListAttachments returns the live attachments of one message.
func ListAttachments(ctx context.Context, db *gorm.DB, messageID int64) ([]domain.Attachment, error) {
	var out []domain.Attachment
	err := db.WithContext(ctx).
		Where("message_id = ? AND deleted_at IS NULL", messageID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// GetAttachment fetches one live attachment by id.
func GetAttachment(ctx context.Context, db *gorm.DB, id int64) (*domain.Attachment, error) {
	var a domain.Attachment
	if err := db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
