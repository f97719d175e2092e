package v1

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_InboundVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want Inbound
	}{
		{
			name: "send",
			in:   `{"type":"message.send","requestId":"r1","messageId":"m1","conversationId":"c1","content":"hi","contentType":"TEXT"}`,
			want: SendMessage{RequestID: "r1", MessageID: "m1", ConversationID: "c1", Content: "hi", ContentType: "TEXT"},
		},
		{
			name: "ack",
			in:   `{"type":"message.ack","messageId":"m1","conversationId":"c1","status":"DELIVERED"}`,
			want: AckMessage{MessageID: "m1", ConversationID: "c1", Status: StatusDelivered},
		},
		{
			name: "typing",
			in:   `{"type":"presence.typing","conversationId":"c1","isTyping":true}`,
			want: TypingIndicator{ConversationID: "c1", IsTyping: true},
		},
		{
			name: "online",
			in:   `{"type":"presence.online"}`,
			want: GoOnline{},
		},
		{
			name: "ping",
			in:   `{"type":"ping"}`,
			want: Ping{},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Decode([]byte(tc.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Decode got=%#v want=%#v", got, tc.want)
			}
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"type":"message.edit","messageId":"m1"}`))
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if de.Tag != "message.edit" {
		t.Fatalf("tag got=%q want=%q", de.Tag, "message.edit")
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"type":`))
	if err == nil {
		t.Fatalf("expected error for malformed JSON")
	}

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if de.Tag != "" {
		t.Fatalf("tag should be empty for malformed JSON, got %q", de.Tag)
	}
}

func TestEncode_TypeTagAndFields(t *testing.T) {
	t.Parallel()

	b, err := Encode(ServerAck{
		RequestID:       "r1",
		MessageID:       "m1",
		Status:          AckOK,
		ServerTimestamp: 1700000000000,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal encoded: %v", err)
	}
	if got := m["type"]; got != TypeServerAck {
		t.Fatalf("type got=%v want=%q", got, TypeServerAck)
	}
	if got := m["requestId"]; got != "r1" {
		t.Fatalf("requestId got=%v", got)
	}
	if got := m["status"]; got != "OK" {
		t.Fatalf("status got=%v", got)
	}
	if _, ok := m["errorCode"]; ok {
		t.Fatalf("errorCode must be omitted on OK acks")
	}
}

func TestEncode_ErrorFrame(t *testing.T) {
	t.Parallel()

	b, err := Encode(Error{Code: "RATE_LIMITED", Message: "too many events"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal encoded: %v", err)
	}
	if got := m["type"]; got != TypeError {
		t.Fatalf("type got=%v want=%q", got, TypeError)
	}
	if got := m["code"]; got != "RATE_LIMITED" {
		t.Fatalf("code got=%v", got)
	}
}

func TestNormalizeContentType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want ContentType
	}{
		{in: "TEXT", want: ContentText},
		{in: "IMAGE", want: ContentImage},
		{in: "GIF", want: ContentGIF},
		{in: "", want: ContentText},
		{in: "HOLOGRAM", want: ContentText},
		{in: "text", want: ContentText}, // tags are case-sensitive on the wire
	}

	for _, tc := range cases {
		if got := NormalizeContentType(tc.in); got != tc.want {
			t.Fatalf("NormalizeContentType(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestMessageStatusRank(t *testing.T) {
	t.Parallel()

	if !(StatusSent.Rank() < StatusDelivered.Rank() && StatusDelivered.Rank() < StatusRead.Rank()) {
		t.Fatalf("status ranks must be strictly increasing")
	}
	if MessageStatus("BOGUS").Valid() {
		t.Fatalf("unknown status must not be valid")
	}
}
