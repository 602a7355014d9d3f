// Package domain defines the persistence models for chat rooms, memberships,
// messages, and attachments. These types are mapped with GORM and form the
// core data layer of the chat service.
package domain

import "time"

// Room kinds. A DIRECT room is a deduplicated two-party conversation; a
// GROUP room has an open member list.
const (
	RoomDirect = "DIRECT"
	RoomGroup  = "GROUP"
)

// Room represents a chat channel. Direct rooms carry a deterministic,
// order-independent DirectKey derived from the participant pair so that at
// most one direct room exists per unordered pair (unique index).
//
// Fields:
//   - ID: auto-increment primary key.
//   - Kind: RoomDirect or RoomGroup (enforced by DB constraint).
//   - DirectKey: "<minUserID>_<maxUserID>" for direct rooms, NULL for groups.
//   - CreatedAt: timestamp managed by GORM.
//
// Rooms are never deleted; only membership changes over time.
type Room struct {
	ID        int64     `json:"room_id"    gorm:"primaryKey;autoIncrement"`
	Kind      string    `json:"kind"       gorm:"type:varchar(20);not null;check:kind IN ('DIRECT','GROUP')"`
	DirectKey *string   `json:"direct_key,omitempty" gorm:"type:varchar(50);uniqueIndex:ux_room_direct_key"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "chat_rooms" }

// Membership is a user's participation record in a room, keyed by the
// composite (RoomID, UserID). LastReadMessageID is the advancing-only read
// cursor: once set it never decreases, and it must reference a message that
// exists in the same room. Memberships are never hard-deleted so room
// history survives membership changes.
type Membership struct {
	RoomID            int64      `json:"room_id"   gorm:"primaryKey;autoIncrement:false"`
	UserID            int64      `json:"user_id"   gorm:"primaryKey;autoIncrement:false"`
	LastReadMessageID *int64     `json:"last_read_message_id,omitempty"`
	LastReadAt        *time.Time `json:"last_read_at,omitempty"`
	JoinedAt          time.Time  `json:"joined_at"`
}

// TableName returns the database table name for Membership.
func (Membership) TableName() string { return "chat_room_members" }

// Message is one entry in a room's ordered log. The auto-increment ID is the
// single source of ordering: within a room, ID order equals CreatedAt order,
// and IDs double as exclusive pagination cursors. Content is nullable for
// attachment-only messages. Messages are soft-deleted (DeletedAt set) and
// never removed, so a deleted ID remains a valid cursor boundary.
type Message struct {
	ID        int64      `json:"message_id" gorm:"primaryKey;autoIncrement"`
	RoomID    int64      `json:"room_id"    gorm:"not null;index:idx_msg_room_id,priority:1"`
	SenderID  int64      `json:"sender_id"  gorm:"not null"`
	Content   *string    `json:"content,omitempty" gorm:"type:text"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null;index:idx_msg_room_created,priority:2"`
	DeletedAt *time.Time `json:"-"`

	// Attachments are loaded explicitly by the repo layer; the association
	// is one-directional (attachment holds MessageID, no back-pointer).
	Attachments []Attachment `json:"attachments,omitempty" gorm:"-"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "chat_messages" }

// Attachment is a file owned by exactly one message. RoomID and UploaderID
// are denormalized from the parent message for query efficiency; by
// invariant they always equal the parent's values. StorageKey is the blob
// store locator (local path or object key), never exposed to clients
// directly.
type Attachment struct {
	ID           int64      `json:"attachment_id" gorm:"primaryKey;autoIncrement"`
	MessageID    int64      `json:"message_id"    gorm:"not null;index:idx_att_message"`
	RoomID       int64      `json:"room_id"       gorm:"not null;index:idx_att_room"`
	UploaderID   int64      `json:"uploader_id"   gorm:"not null;index:idx_att_uploader"`
	OriginalName string     `json:"original_name" gorm:"type:varchar(255);not null"`
	StoredName   string     `json:"-"             gorm:"type:varchar(255);not null"`
	MimeType     string     `json:"mime_type"     gorm:"type:varchar(100);not null"`
	SizeBytes    int64      `json:"size_bytes"    gorm:"not null"`
	StorageKey   string     `json:"-"             gorm:"type:varchar(500);not null"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"-"`
}

// TableName returns the database table name for Attachment.
func (Attachment) TableName() string { return "chat_attachments" }
