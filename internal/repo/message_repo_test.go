package repo

import (
	"context"
	"testing"

	"github.com/haechan419/smartspend-chat/internal/domain"
	"gorm.io/gorm"
)

func strptr(s string) *string { return &s }

func seedMessages(t *testing.T, db *gorm.DB, roomID, senderID int64, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		m, err := AppendMessage(context.Background(), db, roomID, senderID, strptr("msg"), nil)
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}
	return ids
}

func TestAppendMessage_IDsMonotonic(t *testing.T) {
	db := newTestDB(t)
	room := mustRoom(t, db, domain.RoomDirect, 1, 2)

	ids := seedMessages(t, db, room.ID, 1, 5)
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not strictly increasing: %v", ids)
		}
	}
}

func TestAppendMessage_WithAttachments_Atomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	room := mustRoom(t, db, domain.RoomDirect, 1, 2)

	atts := []NewAttachment{
		{OriginalName: "report.xlsx", StoredName: "abc.xlsx", MimeType: "application/vnd.ms-excel", SizeBytes: 512, StorageKey: "k1"},
		{OriginalName: "notes.txt", StoredName: "def.txt", MimeType: "text/plain", SizeBytes: 10, StorageKey: "k2"},
	}
	m, err := AppendMessage(ctx, db, room.ID, 1, strptr("final numbers"), atts)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if len(m.Attachments) != 2 {
		t.Fatalf("want 2 attachments on the returned message, got %d", len(m.Attachments))
	}
	for _, a := range m.Attachments {
		if a.MessageID != m.ID || a.RoomID != room.ID || a.UploaderID != 1 {
			t.Fatalf("attachment not linked to message: %+v", a)
		}
	}

	rows, err := ListAttachments(ctx, db, m.ID)
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 persisted attachments, got %d", len(rows))
	}
}

func TestPageMessages_NoOverlapNoGap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	room := mustRoom(t, db, domain.RoomDirect, 1, 2)
	ids := seedMessages(t, db, room.ID, 1, 7)

	page1, err := PageMessages(ctx, db, room.ID, nil, 3)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	if len(page1) != 3 || page1[0].ID != ids[6] || page1[2].ID != ids[4] {
		t.Fatalf("page1 = %v", messageIDs(page1))
	}

	cursor := page1[len(page1)-1].ID
	page2, err := PageMessages(ctx, db, room.ID, &cursor, 3)
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if len(page2) != 3 || page2[0].ID != ids[3] || page2[2].ID != ids[1] {
		t.Fatalf("page2 = %v", messageIDs(page2))
	}

	cursor = page2[len(page2)-1].ID
	page3, err := PageMessages(ctx, db, room.ID, &cursor, 3)
	if err != nil {
		t.Fatalf("page3: %v", err)
	}
	if len(page3) != 1 || page3[0].ID != ids[0] {
		t.Fatalf("page3 = %v", messageIDs(page3))
	}
}

func TestPageMessages_DeletedHiddenButCursorStillWorks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	room := mustRoom(t, db, domain.RoomDirect, 1, 2)
	ids := seedMessages(t, db, room.ID, 1, 5)

	if err := SoftDeleteMessage(ctx, db, ids[2]); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}

	// The deleted id no longer appears in pages.
	all, err := PageMessages(ctx, db, room.ID, nil, 10)
	if err != nil {
		t.Fatalf("PageMessages: %v", err)
	}
	for _, m := range all {
		if m.ID == ids[2] {
			t.Fatalf("deleted message %d still visible", ids[2])
		}
	}
	if len(all) != 4 {
		t.Fatalf("want 4 visible messages, got %d", len(all))
	}

	// But it remains a valid pagination cursor.
	cursor := ids[2]
	older, err := PageMessages(ctx, db, room.ID, &cursor, 10)
	if err != nil {
		t.Fatalf("page below deleted cursor: %v", err)
	}
	if len(older) != 2 || older[0].ID != ids[1] || older[1].ID != ids[0] {
		t.Fatalf("older = %v; want [%d %d]", messageIDs(older), ids[1], ids[0])
	}
}

func TestSoftDeleteMessage_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	room := mustRoom(t, db, domain.RoomDirect, 1, 2)
	ids := seedMessages(t, db, room.ID, 1, 1)

	if err := SoftDeleteMessage(ctx, db, ids[0]); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := SoftDeleteMessage(ctx, db, ids[0]); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestCountUnread(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	room := mustRoom(t, db, domain.RoomDirect, 1, 2)

	// Five messages from user 2, user 1 has read through the second.
	ids := seedMessages(t, db, room.ID, 2, 5)
	lastRead := ids[1]

	n, err := CountUnread(ctx, db, room.ID, 1, &lastRead)
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if n != 3 {
		t.Fatalf("unread = %d; want 3", n)
	}

	// Own messages never count as unread.
	seedMessages(t, db, room.ID, 1, 2)
	n, err = CountUnread(ctx, db, room.ID, 1, &lastRead)
	if err != nil {
		t.Fatalf("CountUnread after own sends: %v", err)
	}
	if n != 3 {
		t.Fatalf("unread = %d; want 3 (own messages excluded)", n)
	}

	// Deleted messages leave the badge.
	if err := SoftDeleteMessage(ctx, db, ids[4]); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	n, err = CountUnread(ctx, db, room.ID, 1, &lastRead)
	if err != nil {
		t.Fatalf("CountUnread after delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("unread = %d; want 2 after delete", n)
	}

	// No cursor means everything from others is unread.
	n, err = CountUnread(ctx, db, room.ID, 1, nil)
	if err != nil {
		t.Fatalf("CountUnread nil cursor: %v", err)
	}
	if n != 4 {
		t.Fatalf("unread = %d; want 4 with nil cursor", n)
	}
}

func TestLatestMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	room := mustRoom(t, db, domain.RoomDirect, 1, 2)

	m, err := LatestMessage(ctx, db, room.ID)
	if err != nil {
		t.Fatalf("LatestMessage empty room: %v", err)
	}
	if m != nil {
		t.Fatalf("want nil for empty room, got %+v", m)
	}

	ids := seedMessages(t, db, room.ID, 1, 3)
	m, err = LatestMessage(ctx, db, room.ID)
	if err != nil {
		t.Fatalf("LatestMessage: %v", err)
	}
	if m == nil || m.ID != ids[2] {
		t.Fatalf("latest = %+v; want id %d", m, ids[2])
	}

	// Deleting the newest message moves the latest pointer back.
	if err := SoftDeleteMessage(ctx, db, ids[2]); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	m, err = LatestMessage(ctx, db, room.ID)
	if err != nil {
		t.Fatalf("LatestMessage after delete: %v", err)
	}
	if m == nil || m.ID != ids[1] {
		t.Fatalf("latest after delete = %+v; want id %d", m, ids[1])
	}
}

func messageIDs(msgs []domain.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
