package services

import "testing"

func TestTopicFormatting(t *testing.T) {
	if got := RoomTopic(12); got != "room.12" {
		t.Fatalf("RoomTopic = %q", got)
	}
	if got := RoomReadTopic(12); got != "room.12.read" {
		t.Fatalf("RoomReadTopic = %q", got)
	}
	if got := UserTopic(7); got != "user.7" {
		t.Fatalf("UserTopic = %q", got)
	}
}

func TestParseRoomTopic(t *testing.T) {
	cases := []struct {
		topic string
		id    int64
		ok    bool
	}{
		{"room.12", 12, true},
		{"room.12.read", 12, true},
		{"room.0", 0, false},
		{"room.-3", 0, false},
		{"room.abc", 0, false},
		{"user.12", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		id, ok := ParseRoomTopic(tc.topic)
		if id != tc.id || ok != tc.ok {
			t.Fatalf("ParseRoomTopic(%q) = (%d, %v); want (%d, %v)", tc.topic, id, ok, tc.id, tc.ok)
		}
	}
}

func TestParseUserTopic(t *testing.T) {
	cases := []struct {
		topic string
		id    int64
		ok    bool
	}{
		{"user.7", 7, true},
		{"user.0", 0, false},
		{"user.x", 0, false},
		{"room.7", 0, false},
	}
	for _, tc := range cases {
		id, ok := ParseUserTopic(tc.topic)
		if id != tc.id || ok != tc.ok {
			t.Fatalf("ParseUserTopic(%q) = (%d, %v); want (%d, %v)", tc.topic, id, ok, tc.id, tc.ok)
		}
	}
}
