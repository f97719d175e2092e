package messaging

import "errors"

var (
	// ErrDuplicateMessage is returned when a message id has already been
	// persisted (client retry replay).
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrMessageNotFound is returned by lookups for unknown message ids.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyContent is returned for blank TEXT message content.
	ErrEmptyContent = errors.New("empty content")

	// ErrContentTooLong is returned when content exceeds MaxContentRunes.
	ErrContentTooLong = errors.New("content too long")

	// ErrNotMember is returned when the sender is not a member of the
	// target conversation.
	ErrNotMember = errors.New("sender not a conversation member")

	// ErrInvalidID is returned when a message or conversation id is not a
	// well-formed UUID.
	ErrInvalidID = errors.New("invalid id")
)
