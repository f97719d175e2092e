package realtime

import (
	"log/slog"
	"time"

	"relay/cmd/internal/messaging"
	chatv1 "relay/shared/contracts/chat/v1"
)

// Broadcaster pushes encoded frames to online recipients through the Registry.
//
// Delivery is at-least-once, best-effort push with store-and-forward fallback:
// offline recipients are skipped entirely, because the message is already
// durable and will be pulled on their next connect.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
}

// NewBroadcaster constructs a Broadcaster over the registry.
func NewBroadcaster(log *slog.Logger, registry *Registry) *Broadcaster {
	return &Broadcaster{log: log, registry: registry}
}

// BroadcastMessage pushes a persisted message to every online recipient.
// The frame is encoded once and shared across recipients. No ordering is
// guaranteed across recipients; per recipient, frames arrive in call order.
func (b *Broadcaster) BroadcastMessage(msg messaging.Message, recipientIDs []string) {
	frame, err := chatv1.Encode(chatv1.NewMessage{
		MessageID:       msg.ID,
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Content:         msg.Content,
		ContentType:     msg.ContentType,
		ReplyToID:       msg.ReplyToID,
		MediaURL:        msg.MediaURL,
		ThumbnailURL:    msg.ThumbnailURL,
		ServerTimestamp: msg.ServerTimestamp.UnixMilli(),
	})
	if err != nil {
		b.log.Error("broadcast.encode.fail", "message_id", msg.ID, "err", err)
		return
	}

	for _, rid := range recipientIDs {
		if !b.registry.IsOnline(rid) {
			// Store-and-forward: durable in the message store, synced on
			// the recipient's next connect.
			b.log.Debug("broadcast.recipient.offline", "message_id", msg.ID, "user_id", rid)
			continue
		}
		n := b.registry.Send(rid, frame)
		b.log.Debug("broadcast.recipient.push", "message_id", msg.ID, "user_id", rid, "conns", n)
	}
}

// BroadcastStatusUpdate notifies the message's sender about a delivery state
// change. The acting user (who received or read the message) is carried in
// the frame; the push target is always the sender resolved from the persisted
// message, never the acting user id.
func (b *Broadcaster) BroadcastStatusUpdate(msg messaging.Message, actingUserID string, status chatv1.MessageStatus, now time.Time) {
	frame, err := chatv1.Encode(chatv1.StatusUpdate{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         actingUserID,
		Status:         status,
		Timestamp:      now.UnixMilli(),
	})
	if err != nil {
		b.log.Error("broadcast.encode.fail", "message_id", msg.ID, "err", err)
		return
	}

	if !b.registry.IsOnline(msg.SenderID) {
		return
	}
	b.registry.Send(msg.SenderID, frame)
}

// BroadcastTyping forwards a typing indicator to the online members of a
// conversation, excluding the typist.
func (b *Broadcaster) BroadcastTyping(conversationID, typistID string, typing bool, recipientIDs []string) {
	status := chatv1.PresenceOnline
	if typing {
		status = chatv1.PresenceTyping
	}

	frame, err := chatv1.Encode(chatv1.PresenceUpdate{
		UserID:         typistID,
		ConversationID: conversationID,
		Status:         status,
	})
	if err != nil {
		b.log.Error("broadcast.encode.fail", "conversation_id", conversationID, "err", err)
		return
	}

	for _, rid := range recipientIDs {
		if rid == typistID || !b.registry.IsOnline(rid) {
			continue
		}
		b.registry.Send(rid, frame)
	}
}
