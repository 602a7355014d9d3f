// Package services defines the business logic for rooms, messages, and
// attachment search. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/transport layer.
package services

import "errors"

var (
	// ErrUnauthenticated indicates a missing, malformed, or expired
	// credential; the connection or request is refused outright.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when an authenticated user attempts an
	// operation on a room they are not a member of.
	ErrForbidden = errors.New("not a room member")

	// ErrRoomNotFound indicates that the requested room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidCursor is returned when a read cursor references a message
	// that does not belong to the room.
	ErrInvalidCursor = errors.New("message does not belong to room")

	// ErrNotAuthor is returned when a delete is attempted by someone other
	// than the message sender.
	ErrNotAuthor = errors.New("only the sender may delete a message")

	// ErrAttachmentNotFound indicates that the requested attachment does
	// not exist or has been deleted.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrMessageNotFound indicates that the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrSelfChat is returned when a user tries to open a direct room with
	// themselves.
	ErrSelfChat = errors.New("cannot chat with self")

	// ErrEmptyMessage is returned when a send carries neither content nor
	// attachments.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when message content exceeds the maximum
	// configured length limit.
	ErrTooLong = errors.New("message too long")
)
