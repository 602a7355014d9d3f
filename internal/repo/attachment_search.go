// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the attachment search queries: direct
// lexical matches plus the temporal-context candidates used by the hybrid
// search service.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/haechan419/smartspend-chat/internal/domain"
)

// AttachmentHit is one search candidate row: an attachment joined with its
// owning message's content snippet.
type AttachmentHit struct {
	domain.Attachment
	MessageSnippet string
}

// SearchDirectAttachments returns live attachments in the user's rooms whose
// original filename or owning-message content contains q (case-insensitive,
// SQLite LIKE semantics), newest first.
func SearchDirectAttachments(ctx context.Context, db *gorm.DB, userID int64, q string) ([]AttachmentHit, error) {
	pattern := "%" + q + "%"
	var out []AttachmentHit
	err := db.WithContext(ctx).Raw(`
		SELECT a.*, COALESCE(m.content, '') AS message_snippet
		FROM chat_attachments a
		JOIN chat_messages m ON m.id = a.message_id
		WHERE a.deleted_at IS NULL
		  AND m.deleted_at IS NULL
		  AND EXISTS (
		    SELECT 1 FROM chat_room_members rm
		    WHERE rm.room_id = a.room_id AND rm.user_id = ?
		  )
		  AND (a.original_name LIKE ? OR m.content LIKE ?)
		ORDER BY a.created_at DESC, a.id DESC`,
		userID, pattern, pattern).
		Scan(&out).Error
	return out, err
}

// ContentHit is a text message whose content matched the query; its room and
// timestamp seed a context window.
type ContentHit struct {
	MessageID int64
	RoomID    int64
	CreatedAt time.Time
}

// FindContentHits returns non-deleted messages in the user's rooms whose
// content contains q.
func FindContentHits(ctx context.Context, db *gorm.DB, userID int64, q string) ([]ContentHit, error) {
	pattern := "%" + q + "%"
	var out []ContentHit
	err := db.WithContext(ctx).Raw(`
		SELECT m.id AS message_id, m.room_id, m.created_at
		FROM chat_messages m
		JOIN chat_room_members rm ON rm.room_id = m.room_id AND rm.user_id = ?
		WHERE m.deleted_at IS NULL
		  AND m.content LIKE ?`,
		userID, pattern).
		Scan(&out).Error
	return out, err
}

// AttachmentsInWindow returns live attachments of roomID whose owning
// message was created within [from, to], joined with the message snippet.
// Deleted messages contribute no attachments.
func AttachmentsInWindow(ctx context.Context, db *gorm.DB, roomID int64, from, to time.Time) ([]AttachmentHit, error) {
	var out []AttachmentHit
	err := db.WithContext(ctx).Raw(`
		SELECT a.*, COALESCE(m.content, '') AS message_snippet
		FROM chat_attachments a
		JOIN chat_messages m ON m.id = a.message_id
		WHERE a.deleted_at IS NULL
		  AND m.deleted_at IS NULL
		  AND a.room_id = ?
		  AND m.created_at BETWEEN ? AND ?
		ORDER BY a.created_at DESC, a.id DESC`,
		roomID, from, to).
		Scan(&out).Error
	return out, err
}
