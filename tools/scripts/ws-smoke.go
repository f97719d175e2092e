// Package main provides a CI-friendly WebSocket smoke test for relay.
//
// It validates:
//   - handshake + token auth
//   - ping -> pong
//   - message.send -> ack with server timestamp
//   - fanout message.new to another client
//   - duplicate send rejected with DUPLICATE
//   - read ack -> message.status back to the sender
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	chatv1 "relay/shared/contracts/chat/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

// frame is the flat union of every server -> client frame the smoke test
// inspects, discriminated by Type.
type frame struct {
	Type string `json:"type"`

	RequestID       string `json:"requestId,omitempty"`
	MessageID       string `json:"messageId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
	SenderID        string `json:"senderId,omitempty"`
	UserID          string `json:"userId,omitempty"`
	Content         string `json:"content,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
	Status          string `json:"status,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	ErrorCode       string `json:"errorCode,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan frame
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL (token appended as query param)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		tokenA  = flag.String("token-a", "dev-token-a", "Auth token for client A")
		tokenB  = flag.String("token-b", "dev-token-b", "Auth token for client B")
		convID  = flag.String("conv", "", "Conversation ID (UUID, random when empty; both users must be members)")
		text    = flag.String("text", "hello relay 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	conv := *convID
	if conv == "" {
		conv = uuid.NewString()
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A and B, conv=%s origin=%q\n", conv, *origin)
	}

	mustPingPong(root, a, *timeout)
	mustPingPong(root, b, *timeout)

	msgID := uuid.NewString()

	serverTS := mustSendAndAssertAck(root, a, conv, msgID, *text, *timeout)

	senderID := mustAssertNew(root, b, conv, msgID, *text, *timeout)

	mustSendAndAssertDuplicate(root, a, conv, msgID, *text, *timeout)

	mustReadAckAndAssertStatus(root, b, a, conv, msgID, *timeout)

	fmt.Printf("OK: conv_id=%s msg_id=%s sender=%s server_ts=%d\n", conv, msgID, senderID, serverTS)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("parse url: %v", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if f.Type == "" {
				select {
				case c.errCh <- errors.New("frame missing type"):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustPingPong(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustWriteJSON(parent, c.conn, map[string]string{"type": chatv1.TypePing}, stepTimeout)
	_ = c.mustReadUntilType(parent, chatv1.TypePong, stepTimeout, nil)
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, convID, msgID, text string, stepTimeout time.Duration) int64 {
	reqID := fmt.Sprintf("%s-req-%s", c.name, msgID)
	mustWriteJSON(parent, c.conn, map[string]string{
		"type":           chatv1.TypeMessageSend,
		"requestId":      reqID,
		"messageId":      msgID,
		"conversationId": convID,
		"content":        text,
		"contentType":    string(chatv1.ContentText),
	}, stepTimeout)

	skip := map[string]struct{}{chatv1.TypeMessageNew: {}}
	ack := c.mustReadUntilType(parent, chatv1.TypeServerAck, stepTimeout, skip)

	if ack.RequestID != reqID {
		fatalf("ack request_id mismatch (%s): got=%q want=%q", c.name, ack.RequestID, reqID)
	}
	if ack.MessageID != msgID {
		fatalf("ack message_id mismatch (%s): got=%q want=%q", c.name, ack.MessageID, msgID)
	}
	if ack.Status != string(chatv1.AckOK) {
		fatalf("ack not OK (%s): status=%q code=%q msg=%q", c.name, ack.Status, ack.ErrorCode, ack.ErrorMessage)
	}
	if ack.ServerTimestamp <= 0 {
		fatalf("ack missing server timestamp (%s)", c.name)
	}
	return ack.ServerTimestamp
}

func mustSendAndAssertDuplicate(parent context.Context, c *smokeClient, convID, msgID, text string, stepTimeout time.Duration) {
	mustWriteJSON(parent, c.conn, map[string]string{
		"type":           chatv1.TypeMessageSend,
		"requestId":      fmt.Sprintf("%s-dup-%s", c.name, msgID),
		"messageId":      msgID,
		"conversationId": convID,
		"content":        text,
		"contentType":    string(chatv1.ContentText),
	}, stepTimeout)

	ack := c.mustReadUntilType(parent, chatv1.TypeServerAck, stepTimeout, nil)
	if ack.Status != string(chatv1.AckError) || ack.ErrorCode != "DUPLICATE" {
		fatalf("expected DUPLICATE ack (%s): status=%q code=%q", c.name, ack.Status, ack.ErrorCode)
	}
}

func mustAssertNew(parent context.Context, c *smokeClient, convID, msgID, text string, stepTimeout time.Duration) string {
	f := c.mustReadUntilType(parent, chatv1.TypeMessageNew, stepTimeout, nil)

	if f.ConversationID != convID {
		fatalf("new conv_id mismatch (%s): got=%q want=%q", c.name, f.ConversationID, convID)
	}
	if f.MessageID != msgID {
		fatalf("new message_id mismatch (%s): got=%q want=%q", c.name, f.MessageID, msgID)
	}
	if f.Content != text {
		fatalf("new content mismatch (%s): got=%q want=%q", c.name, f.Content, text)
	}
	if f.ServerTimestamp <= 0 {
		fatalf("new server_ts missing (%s)", c.name)
	}
	if strings.TrimSpace(f.SenderID) == "" {
		fatalf("new sender missing (%s)", c.name)
	}
	return f.SenderID
}

func mustReadAckAndAssertStatus(parent context.Context, reader, sender *smokeClient, convID, msgID string, stepTimeout time.Duration) {
	mustWriteJSON(parent, reader.conn, map[string]string{
		"type":           chatv1.TypeMessageAck,
		"messageId":      msgID,
		"conversationId": convID,
		"status":         string(chatv1.StatusRead),
	}, stepTimeout)

	st := sender.mustReadUntilType(parent, chatv1.TypeMessageStatus, stepTimeout, nil)
	if st.MessageID != msgID {
		fatalf("status message_id mismatch (%s): got=%q want=%q", sender.name, st.MessageID, msgID)
	}
	if st.Status != string(chatv1.StatusRead) {
		fatalf("status not READ (%s): got=%q", sender.name, st.Status)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if f.Type == wantType {
				return f
			}
			if f.Type == chatv1.TypeError {
				fatalf("server error (%s): code=%q msg=%q", c.name, f.Code, f.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[f.Type]; ok {
					continue
				}
			}
			fatalf("unexpected frame type (%s): got=%q want=%q", c.name, f.Type, wantType)
		}
	}
}

func mustWriteJSON(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
