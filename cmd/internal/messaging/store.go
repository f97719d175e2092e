package messaging

import (
	"context"
	"time"

	chatv1 "relay/shared/contracts/chat/v1"
)

// MessageStore persists the durable message log.
//
// Requirements:
//   - Save is keyed by Message.ID: a duplicate id must never create a second
//     row and is reported as ErrDuplicateMessage.
//   - Save stamps ServerTimestamp from its now argument (persistence time).
type MessageStore interface {
	Save(ctx context.Context, msg Message, now time.Time) (Message, error)
	FindByID(ctx context.Context, messageID string) (Message, error)
	Close() error
}

// StatusStore records per-recipient delivery state.
//
// Transitions are forward-only over SENT < DELIVERED < READ; a regressive
// update is ignored, not an error.
type StatusStore interface {
	// Init creates SENT rows for every recipient of a freshly persisted message.
	Init(ctx context.Context, messageID string, recipientIDs []string, now time.Time) error

	// Update applies a forward transition for one (message, user) pair and
	// reports whether the stored status changed.
	Update(ctx context.Context, messageID, userID string, status chatv1.MessageStatus, now time.Time) (bool, error)

	// MarkConversationRead bulk-marks every message the user has not yet read
	// in the conversation as READ, returning how many rows changed.
	// It is idempotent under repeated calls.
	MarkConversationRead(ctx context.Context, conversationID, userID string, now time.Time) (int64, error)

	// Get returns the stored status for one (message, user) pair.
	Get(ctx context.Context, messageID, userID string) (chatv1.MessageStatus, error)

	Close() error
}

// MembershipStore is the conversation-membership collaborator boundary.
// Membership itself (joins, roles, invites) is owned elsewhere; this core only
// reads it to derive recipient sets and authorize sends.
type MembershipStore interface {
	// IsMember reports whether userID belongs to conversationID.
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)

	// RecipientIDs returns the member ids of conversationID excluding
	// excludeUserID (the sender, typically).
	RecipientIDs(ctx context.Context, conversationID, excludeUserID string) ([]string, error)
}
