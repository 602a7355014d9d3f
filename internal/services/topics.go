// Package services – topic namespaces
//
// Topic names are server-defined. Clients may subscribe to room broadcast
// topics (gated by membership) and to their own personal queue (keyed by
// the bound principal, never by a client-supplied id).
package services

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomTopic is the broadcast topic of a room ("room.<id>").
func RoomTopic(roomID int64) string { return fmt.Sprintf("room.%d", roomID) }

// RoomReadTopic carries read-receipt events of a room ("room.<id>.read").
func RoomReadTopic(roomID int64) string { return fmt.Sprintf("room.%d.read", roomID) }

// UserTopic is a user's personal notification queue ("user.<id>").
func UserTopic(userID int64) string { return fmt.Sprintf("user.%d", userID) }

// ParseRoomTopic extracts the room id from "room.<id>" or "room.<id>.read".
// The second return is false when the topic is not room-scoped.
func ParseRoomTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, "room.")
	if !ok {
		return 0, false
	}
	rest, _ = strings.CutSuffix(rest, ".read")
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseUserTopic extracts the user id from "user.<id>".
func ParseUserTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, "user.")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
