// Package v1 defines the Relay chat wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

// Frame type tags (wire-stable). The JSON discriminator is the top-level
// "type" field; all other fields are inline.
const (
	// Client -> server.
	TypeMessageSend    = "message.send"
	TypeMessageAck     = "message.ack"
	TypePresenceTyping = "presence.typing"
	TypePresenceOnline = "presence.online"
	TypePing           = "ping"

	// Server -> client.
	TypeMessageNew     = "message.new"
	TypeMessageStatus  = "message.status"
	TypeServerAck      = "ack"
	TypePresenceUpdate = "presence.update"
	TypePong           = "pong"
	TypeError          = "error"
)

// ContentType classifies a message payload.
type ContentType string

const (
	ContentText     ContentType = "TEXT"
	ContentImage    ContentType = "IMAGE"
	ContentVoice    ContentType = "VOICE"
	ContentVideo    ContentType = "VIDEO"
	ContentDocument ContentType = "DOCUMENT"
	ContentLocation ContentType = "LOCATION"
	ContentContact  ContentType = "CONTACT"
	ContentSticker  ContentType = "STICKER"
	ContentGIF      ContentType = "GIF"
)

// NormalizeContentType maps a raw wire tag to a recognized ContentType.
// Unrecognized values fall back to TEXT so a client running a newer protocol
// revision does not get its whole send rejected.
func NormalizeContentType(raw string) ContentType {
	switch ContentType(raw) {
	case ContentText, ContentImage, ContentVoice, ContentVideo,
		ContentDocument, ContentLocation, ContentContact,
		ContentSticker, ContentGIF:
		return ContentType(raw)
	default:
		return ContentText
	}
}

// MessageStatus is the per-recipient delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// Rank orders statuses for forward-only transition checks.
// Unknown statuses rank below SENT so they can never overwrite a stored state.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a recognized wire status.
func (s MessageStatus) Valid() bool { return s.Rank() > 0 }

// PresenceStatus is carried by presence.update frames.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceOffline PresenceStatus = "OFFLINE"
	PresenceTyping  PresenceStatus = "TYPING"
)

// AckStatus is the outcome carried by a server ack frame.
type AckStatus string

const (
	AckOK    AckStatus = "OK"
	AckError AckStatus = "ERROR"
)

// ---- Client -> server frames ----

// SendMessage requests persisting and fanning out a new message.
// RequestID correlates the server ack; MessageID is the idempotency key.
type SendMessage struct {
	RequestID      string `json:"requestId"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ContentType    string `json:"contentType"`
	ReplyToID      string `json:"replyToId,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
}

// AckMessage acknowledges receipt (DELIVERED) or reading (READ) of a message.
type AckMessage struct {
	MessageID      string        `json:"messageId"`
	ConversationID string        `json:"conversationId"`
	Status         MessageStatus `json:"status"`
}

// TypingIndicator signals typing state inside a conversation.
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// GoOnline announces presence; sent by clients right after connecting.
type GoOnline struct{}

// Ping is a client heartbeat.
type Ping struct{}

// ---- Server -> client frames ----

// NewMessage delivers a freshly persisted message to a recipient.
type NewMessage struct {
	MessageID       string      `json:"messageId"`
	ConversationID  string      `json:"conversationId"`
	SenderID        string      `json:"senderId"`
	SenderName      string      `json:"senderName,omitempty"`
	Content         string      `json:"content"`
	ContentType     ContentType `json:"contentType"`
	ReplyToID       string      `json:"replyToId,omitempty"`
	MediaURL        string      `json:"mediaUrl,omitempty"`
	ThumbnailURL    string      `json:"thumbnailUrl,omitempty"`
	ServerTimestamp int64       `json:"serverTimestamp"` // epoch millis
}

// StatusUpdate notifies a message's sender about a delivery state change.
// UserID is the recipient who triggered the change, not the notified party.
type StatusUpdate struct {
	MessageID      string        `json:"messageId"`
	ConversationID string        `json:"conversationId"`
	UserID         string        `json:"userId"`
	Status         MessageStatus `json:"status"`
	Timestamp      int64         `json:"timestamp"` // epoch millis
}

// ServerAck answers a SendMessage, correlated by RequestID.
type ServerAck struct {
	RequestID       string    `json:"requestId"`
	MessageID       string    `json:"messageId"`
	Status          AckStatus `json:"status"`
	ServerTimestamp int64     `json:"serverTimestamp,omitempty"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
}

// PresenceUpdate notifies about presence changes. ConversationID is empty for
// global presence and set for conversation-scoped states such as TYPING.
type PresenceUpdate struct {
	UserID         string         `json:"userId"`
	ConversationID string         `json:"conversationId,omitempty"`
	Status         PresenceStatus `json:"status"`
	LastSeenAt     int64          `json:"lastSeenAt,omitempty"` // epoch millis
}

// Pong is the server heartbeat response.
type Pong struct{}

// Error reports a non-ack protocol or auth failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
