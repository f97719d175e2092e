package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	chatv1 "relay/shared/contracts/chat/v1"
)

// MaxContentRunes bounds message content length (runes, not bytes).
const MaxContentRunes = 10_000

// SendCommand is one decoded send request from a connection.
type SendCommand struct {
	MessageID       string
	ConversationID  string
	SenderID        string
	Content         string
	ContentType     string // raw wire tag; normalized by the pipeline
	ReplyToID       string
	MediaURL        string
	ClientTimestamp time.Time
}

// SendResult carries the canonical persisted message plus the recipient set
// derived at send time. The caller fans the message out; the pipeline does not.
type SendResult struct {
	Message      Message
	RecipientIDs []string
}

// Pipeline validates and persists outbound messages.
type Pipeline struct {
	log      *slog.Logger
	messages MessageStore
	statuses StatusStore
	members  MembershipStore
}

// NewPipeline constructs a send pipeline over the given stores.
func NewPipeline(log *slog.Logger, messages MessageStore, statuses StatusStore, members MembershipStore) *Pipeline {
	return &Pipeline{log: log, messages: messages, statuses: statuses, members: members}
}

// Send validates a command, persists the message with a server-assigned
// timestamp, creates SENT delivery rows for every recipient, and returns the
// canonical record. A duplicate message id is reported as ErrDuplicateMessage
// without creating a second row.
//
// Nothing here is retried: validation and persistence failures surface to the
// caller, who acks the failure back to the sender's connection.
func (p *Pipeline) Send(ctx context.Context, cmd SendCommand) (SendResult, error) {
	if _, err := uuid.Parse(cmd.MessageID); err != nil {
		return SendResult{}, fmt.Errorf("%w: message id %q", ErrInvalidID, cmd.MessageID)
	}
	if _, err := uuid.Parse(cmd.ConversationID); err != nil {
		return SendResult{}, fmt.Errorf("%w: conversation id %q", ErrInvalidID, cmd.ConversationID)
	}

	contentType := chatv1.NormalizeContentType(cmd.ContentType)

	// Content rules apply to TEXT; media messages carry their payload by
	// reference and may use content as a caption.
	if contentType == chatv1.ContentText {
		if strings.TrimSpace(cmd.Content) == "" {
			return SendResult{}, ErrEmptyContent
		}
	}
	if len([]rune(cmd.Content)) > MaxContentRunes {
		return SendResult{}, ErrContentTooLong
	}

	ok, err := p.members.IsMember(ctx, cmd.SenderID, cmd.ConversationID)
	if err != nil {
		return SendResult{}, fmt.Errorf("membership lookup: %w", err)
	}
	if !ok {
		return SendResult{}, ErrNotMember
	}

	now := time.Now().UTC()

	msg, err := p.messages.Save(ctx, Message{
		ID:              cmd.MessageID,
		ConversationID:  cmd.ConversationID,
		SenderID:        cmd.SenderID,
		ContentType:     contentType,
		Content:         cmd.Content,
		ReplyToID:       cmd.ReplyToID,
		MediaURL:        cmd.MediaURL,
		ClientTimestamp: cmd.ClientTimestamp,
	}, now)
	if err != nil {
		return SendResult{}, err
	}

	recipients, err := p.members.RecipientIDs(ctx, cmd.ConversationID, cmd.SenderID)
	if err != nil {
		return SendResult{}, fmt.Errorf("recipient lookup: %w", err)
	}

	if err := p.statuses.Init(ctx, msg.ID, recipients, now); err != nil {
		// The message row is durable; a failed status init only costs
		// delivery-state fidelity, not the message itself.
		p.log.Error("pipeline.status.init.fail", "message_id", msg.ID, "err", err)
	}

	p.log.Info("pipeline.message.sent",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID,
		"recipients", len(recipients),
	)

	return SendResult{Message: msg, RecipientIDs: recipients}, nil
}
