package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	chatv1 "relay/shared/contracts/chat/v1"
)

func testPipeline(t *testing.T) (*Pipeline, *MemoryMessageStore, *MemoryStatusStore, *MemoryMembershipStore) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	messages := NewMemoryMessageStore()
	statuses := NewMemoryStatusStore(messages)
	members := NewMemoryMembershipStore()
	return NewPipeline(log, messages, statuses, members), messages, statuses, members
}

func TestPipelineSend_PersistsAndInitsStatuses(t *testing.T) {
	t.Parallel()

	p, messages, statuses, members := testPipeline(t)
	ctx := context.Background()

	conv := uuid.NewString()
	members.SetMembers(conv, "alice", "bob", "carol")

	msgID := uuid.NewString()
	res, err := p.Send(ctx, SendCommand{
		MessageID:      msgID,
		ConversationID: conv,
		SenderID:       "alice",
		Content:        "hello",
		ContentType:    "TEXT",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if res.Message.ID != msgID {
		t.Fatalf("message id got=%q want=%q", res.Message.ID, msgID)
	}
	if res.Message.ServerTimestamp.IsZero() {
		t.Fatalf("server timestamp must be stamped")
	}
	if len(res.RecipientIDs) != 2 {
		t.Fatalf("recipients got=%d want=2 (%v)", len(res.RecipientIDs), res.RecipientIDs)
	}
	for _, rid := range res.RecipientIDs {
		if rid == "alice" {
			t.Fatalf("sender must not be a recipient")
		}
		st, err := statuses.Get(ctx, msgID, rid)
		if err != nil {
			t.Fatalf("status get %s: %v", rid, err)
		}
		if st != chatv1.StatusSent {
			t.Fatalf("status for %s got=%q want=SENT", rid, st)
		}
	}

	stored, err := messages.FindByID(ctx, msgID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Content != "hello" || stored.ContentType != chatv1.ContentText {
		t.Fatalf("stored mismatch: %+v", stored)
	}
}

func TestPipelineSend_DuplicateRejected(t *testing.T) {
	t.Parallel()

	p, _, _, members := testPipeline(t)
	ctx := context.Background()

	conv := uuid.NewString()
	members.SetMembers(conv, "alice", "bob")

	cmd := SendCommand{
		MessageID:      uuid.NewString(),
		ConversationID: conv,
		SenderID:       "alice",
		Content:        "once",
		ContentType:    "TEXT",
	}

	if _, err := p.Send(ctx, cmd); err != nil {
		t.Fatalf("first send: %v", err)
	}

	_, err := p.Send(ctx, cmd)
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("second send err=%v want ErrDuplicateMessage", err)
	}
}

func TestPipelineSend_Validation(t *testing.T) {
	t.Parallel()

	p, _, _, members := testPipeline(t)
	ctx := context.Background()

	conv := uuid.NewString()
	members.SetMembers(conv, "alice", "bob")

	cases := []struct {
		name    string
		mutate  func(*SendCommand)
		wantErr error
	}{
		{
			name:    "bad message id",
			mutate:  func(c *SendCommand) { c.MessageID = "not-a-uuid" },
			wantErr: ErrInvalidID,
		},
		{
			name:    "bad conversation id",
			mutate:  func(c *SendCommand) { c.ConversationID = "nope" },
			wantErr: ErrInvalidID,
		},
		{
			name:    "empty text content",
			mutate:  func(c *SendCommand) { c.Content = "   " },
			wantErr: ErrEmptyContent,
		},
		{
			name:    "content too long",
			mutate:  func(c *SendCommand) { c.Content = strings.Repeat("x", MaxContentRunes+1) },
			wantErr: ErrContentTooLong,
		},
		{
			name:    "sender not a member",
			mutate:  func(c *SendCommand) { c.SenderID = "mallory" },
			wantErr: ErrNotMember,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cmd := SendCommand{
				MessageID:      uuid.NewString(),
				ConversationID: conv,
				SenderID:       "alice",
				Content:        "hello",
				ContentType:    "TEXT",
			}
			tc.mutate(&cmd)

			_, err := p.Send(ctx, cmd)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want=%v", err, tc.wantErr)
			}
		})
	}
}

func TestPipelineSend_UnknownContentTypeFallsBackToText(t *testing.T) {
	t.Parallel()

	p, _, _, members := testPipeline(t)
	ctx := context.Background()

	conv := uuid.NewString()
	members.SetMembers(conv, "alice", "bob")

	res, err := p.Send(ctx, SendCommand{
		MessageID:      uuid.NewString(),
		ConversationID: conv,
		SenderID:       "alice",
		Content:        "hello",
		ContentType:    "HOLOGRAM",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Message.ContentType != chatv1.ContentText {
		t.Fatalf("content type got=%q want=TEXT", res.Message.ContentType)
	}
}

func TestPipelineSend_MediaAllowsEmptyCaption(t *testing.T) {
	t.Parallel()

	p, _, _, members := testPipeline(t)
	ctx := context.Background()

	conv := uuid.NewString()
	members.SetMembers(conv, "alice", "bob")

	_, err := p.Send(ctx, SendCommand{
		MessageID:      uuid.NewString(),
		ConversationID: conv,
		SenderID:       "alice",
		Content:        "",
		ContentType:    "IMAGE",
		MediaURL:       "https://cdn.example.com/img.png",
	})
	if err != nil {
		t.Fatalf("image send with empty caption: %v", err)
	}
}
