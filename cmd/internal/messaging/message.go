// Package messaging contains the durable side of the chat core: the message
// log, per-recipient delivery status, conversation membership lookups, and the
// send pipeline that ties them together.
package messaging

import (
	"time"

	chatv1 "relay/shared/contracts/chat/v1"
)

// Message is the canonical persisted message record. It is immutable once
// created; EditedAt and Deleted exist for later mutation outside this core.
type Message struct {
	ID             string // client-supplied UUID, idempotency key
	ConversationID string
	SenderID       string
	ContentType    chatv1.ContentType
	Content        string
	ReplyToID      string
	MediaURL       string
	ThumbnailURL   string

	// ClientTimestamp is what the sending device claims; ServerTimestamp is
	// assigned exactly once, at persistence time, and is the canonical
	// ordering anchor.
	ClientTimestamp time.Time
	ServerTimestamp time.Time

	EditedAt *time.Time
	Deleted  bool
}

// DeliveryStatus is one row per (message, recipient) pair.
type DeliveryStatus struct {
	MessageID string
	UserID    string
	Status    chatv1.MessageStatus
	UpdatedAt time.Time
}
