package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"relay/cmd/internal/ids"
	"relay/cmd/internal/messaging"
	chatv1 "relay/shared/contracts/chat/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Frame error codes surfaced to clients.
const (
	codeAuthTokenInvalid = "AUTH_TOKEN_INVALID"
	codeBadJSON          = "BAD_JSON"
	codeRateLimited      = "RATE_LIMITED"
	codeUnsupportedType  = "UNSUPPORTED_TYPE"
	codeInvalidAck       = "INVALID_ACK"
	codeAckFailed        = "ACK_FAILED"

	ackCodeInvalidID      = "INVALID_ID"
	ackCodeEmptyContent   = "EMPTY_CONTENT"
	ackCodeContentTooLong = "CONTENT_TOO_LONG"
	ackCodeDuplicate      = "DUPLICATE"
	ackCodeNotMember      = "NOT_MEMBER"
	ackCodeSendFailed     = "MSG_SEND_FAILED"
)

// GatewayDeps carries the collaborators the gateway routes frames to.
// All fields are required except Presence and Tokens, which fall back to
// in-memory implementations for dev.
type GatewayDeps struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Pipeline    *messaging.Pipeline
	Messages    messaging.MessageStore
	Statuses    messaging.StatusStore
	Members     messaging.MembershipStore
	Presence    PresenceStore
	Tokens      TokenValidator
}

// Gateway is the WebSocket entrypoint for relay realtime.
//
// It enforces origin policy, token auth, rate limits, heartbeats, and routes
// decoded frames to the send pipeline, delivery-status stores, and broadcaster.
type Gateway struct {
	log *slog.Logger

	registry    *Registry
	broadcaster *Broadcaster
	pipeline    *messaging.Pipeline
	messages    messaging.MessageStore
	statuses    messaging.StatusStore
	members     messaging.MembershipStore
	presence    PresenceStore
	tokens      TokenValidator

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, deps GatewayDeps) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Presence == nil {
		deps.Presence = NewMemoryPresence()
	}
	if deps.Tokens == nil {
		deps.Tokens = NewStaticTokenValidator()
	}

	g := &Gateway{
		log:         log,
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		pipeline:    deps.Pipeline,
		messages:    deps.Messages,
		statuses:    deps.Statuses,
		members:     deps.Members,
		presence:    deps.Presence,
		tokens:      deps.Tokens,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("RELAY_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("RELAY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("RELAY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("RELAY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("RELAY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("RELAY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("RELAY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("RELAY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("RELAY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("RELAY_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	token := r.URL.Query().Get("token")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()

	ws.SetReadLimit(maxFrameBytes)

	// Auth happens on the upgraded socket so the client gets a structured
	// error frame before the close, not a bare HTTP status.
	identity, err := g.tokens.Validate(r.Context(), token)
	if err != nil {
		g.log.Info("ws.reject.token", "remote", r.RemoteAddr, "err", err)
		g.writeDirect(r.Context(), ws, chatv1.Error{Code: codeAuthTokenInvalid, Message: "invalid or missing token"})
		_ = ws.Close(websocket.StatusPolicyViolation, "auth failed")
		return
	}

	connID := ids.MustULID(time.Now().UTC())
	conn := NewConn(connID, identity.UserID, identity.DeviceID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.registry.Register(conn)
	if err := g.presence.SetOnline(ctx, identity.UserID); err != nil {
		g.log.Warn("ws.presence.online.fail", "user_id", identity.UserID, "err", err)
	}

	// shutdown is idempotent. It does NOT close the conn's send queue.
	// Broadcast safety: registry removal happens before conn.Close, and the
	// identity only goes offline when its last connection is gone.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.Unregister(conn)
			conn.Close()
			_ = ws.Close(code, reason)
			cancel()

			if !g.registry.IsOnline(identity.UserID) {
				offCtx, offCancel := context.WithTimeout(context.Background(), 2*time.Second)
				if err := g.presence.SetOffline(offCtx, identity.UserID, time.Now().UTC()); err != nil {
					g.log.Warn("ws.presence.offline.fail", "user_id", identity.UserID, "err", err)
				}
				offCancel()
			}
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case frame := <-conn.Outbox():
				if err := g.writeFrame(ctx, ws, frame); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				metricFramesOut.Inc()
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := ws.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readFrame(readCtx, ws)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(conn, codeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		in, err := chatv1.Decode(data)
		if err != nil {
			var de *chatv1.DecodeError
			if errors.As(err, &de) && de.Tag != "" {
				g.trySendError(conn, codeUnsupportedType, fmt.Sprintf("unsupported type: %s", de.Tag))
			} else {
				g.trySendError(conn, codeBadJSON, "invalid JSON")
			}
			continue readLoop
		}

		switch f := in.(type) {
		case chatv1.SendMessage:
			metricFramesIn.WithLabelValues(chatv1.TypeMessageSend).Inc()
			g.onMessageSend(ctx, conn, identity, f)

		case chatv1.AckMessage:
			metricFramesIn.WithLabelValues(chatv1.TypeMessageAck).Inc()
			g.onMessageAck(ctx, conn, identity, f, now)

		case chatv1.TypingIndicator:
			metricFramesIn.WithLabelValues(chatv1.TypePresenceTyping).Inc()
			g.onTyping(ctx, identity, f)

		case chatv1.GoOnline:
			metricFramesIn.WithLabelValues(chatv1.TypePresenceOnline).Inc()
			if err := g.presence.SetOnline(ctx, identity.UserID); err != nil {
				g.log.Warn("ws.presence.online.fail", "user_id", identity.UserID, "err", err)
			}

		case chatv1.Ping:
			metricFramesIn.WithLabelValues(chatv1.TypePing).Inc()
			// A heartbeat also refreshes the presence TTL.
			if err := g.presence.SetOnline(ctx, identity.UserID); err != nil {
				g.log.Warn("ws.presence.online.fail", "user_id", identity.UserID, "err", err)
			}
			g.enqueue(conn, chatv1.Pong{})

		default:
			g.trySendError(conn, codeUnsupportedType, "unsupported frame")
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onMessageSend(ctx context.Context, conn *Conn, id Identity, f chatv1.SendMessage) {
	res, err := g.pipeline.Send(ctx, messaging.SendCommand{
		MessageID:      f.MessageID,
		ConversationID: f.ConversationID,
		SenderID:       id.UserID,
		Content:        f.Content,
		ContentType:    f.ContentType,
		ReplyToID:      f.ReplyToID,
		MediaURL:       f.MediaURL,
	})
	if err != nil {
		code := sendErrCode(err)
		g.log.Info("ws.send.reject",
			"conn_id", conn.ID, "message_id", f.MessageID, "code", code, "err", err)
		g.enqueue(conn, chatv1.ServerAck{
			RequestID:    f.RequestID,
			MessageID:    f.MessageID,
			Status:       chatv1.AckError,
			ErrorCode:    code,
			ErrorMessage: err.Error(),
		})
		return
	}

	metricMessagesSent.Inc()

	g.enqueue(conn, chatv1.ServerAck{
		RequestID:       f.RequestID,
		MessageID:       res.Message.ID,
		Status:          chatv1.AckOK,
		ServerTimestamp: res.Message.ServerTimestamp.UnixMilli(),
	})

	g.broadcaster.BroadcastMessage(res.Message, res.RecipientIDs)
}

func (g *Gateway) onMessageAck(ctx context.Context, conn *Conn, id Identity, f chatv1.AckMessage, now time.Time) {
	if !f.Status.Valid() || f.Status == chatv1.StatusSent {
		g.trySendError(conn, codeInvalidAck, fmt.Sprintf("invalid ack status: %s", f.Status))
		return
	}

	switch f.Status {
	case chatv1.StatusRead:
		// Reading one message reads the whole conversation up to now; the ack'd
		// message itself is still reported individually to its sender.
		n, err := g.statuses.MarkConversationRead(ctx, f.ConversationID, id.UserID, now)
		if err != nil {
			g.log.Error("ws.ack.read.fail",
				"conn_id", conn.ID, "conversation_id", f.ConversationID, "err", err)
			g.trySendError(conn, codeAckFailed, "read ack failed")
			return
		}
		g.log.Debug("ws.ack.read", "conversation_id", f.ConversationID, "user_id", id.UserID, "updated", n)

		msg, err := g.messages.FindByID(ctx, f.MessageID)
		if err != nil {
			if !errors.Is(err, messaging.ErrMessageNotFound) {
				g.log.Error("ws.ack.lookup.fail", "message_id", f.MessageID, "err", err)
			}
			return
		}
		g.broadcaster.BroadcastStatusUpdate(msg, id.UserID, chatv1.StatusRead, now)

	case chatv1.StatusDelivered:
		changed, err := g.statuses.Update(ctx, f.MessageID, id.UserID, chatv1.StatusDelivered, now)
		if err != nil {
			g.log.Error("ws.ack.delivered.fail",
				"conn_id", conn.ID, "message_id", f.MessageID, "err", err)
			g.trySendError(conn, codeAckFailed, "delivered ack failed")
			return
		}
		if !changed {
			return
		}

		msg, err := g.messages.FindByID(ctx, f.MessageID)
		if err != nil {
			if !errors.Is(err, messaging.ErrMessageNotFound) {
				g.log.Error("ws.ack.lookup.fail", "message_id", f.MessageID, "err", err)
			}
			return
		}
		g.broadcaster.BroadcastStatusUpdate(msg, id.UserID, chatv1.StatusDelivered, now)
	}
}

func (g *Gateway) onTyping(ctx context.Context, id Identity, f chatv1.TypingIndicator) {
	recipients, err := g.members.RecipientIDs(ctx, f.ConversationID, id.UserID)
	if err != nil {
		g.log.Warn("ws.typing.members.fail", "conversation_id", f.ConversationID, "err", err)
		return
	}
	g.broadcaster.BroadcastTyping(f.ConversationID, id.UserID, f.IsTyping, recipients)
}

func sendErrCode(err error) string {
	switch {
	case errors.Is(err, messaging.ErrInvalidID):
		return ackCodeInvalidID
	case errors.Is(err, messaging.ErrEmptyContent):
		return ackCodeEmptyContent
	case errors.Is(err, messaging.ErrContentTooLong):
		return ackCodeContentTooLong
	case errors.Is(err, messaging.ErrDuplicateMessage):
		return ackCodeDuplicate
	case errors.Is(err, messaging.ErrNotMember):
		return ackCodeNotMember
	default:
		return ackCodeSendFailed
	}
}

// ---- send helpers ----

func (g *Gateway) trySendError(conn *Conn, code, msg string) {
	g.enqueue(conn, chatv1.Error{Code: code, Message: msg})
}

func (g *Gateway) enqueue(conn *Conn, out chatv1.Outbound) bool {
	frame, err := chatv1.Encode(out)
	if err != nil {
		g.log.Error("ws.encode.fail", "conn_id", conn.ID, "err", err)
		return false
	}
	if !conn.Enqueue(frame) {
		metricBroadcastDropped.Inc()
		g.log.Warn("ws.enqueue.drop", "conn_id", conn.ID)
		return false
	}
	return true
}

// ---- frame IO ----

func readFrame(ctx context.Context, ws *websocket.Conn) ([]byte, error) {
	mt, data, err := ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (g *Gateway) writeFrame(parent context.Context, ws *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, frame)
}

// writeDirect bypasses the send queue; used before the writer goroutine exists.
func (g *Gateway) writeDirect(ctx context.Context, ws *websocket.Conn, out chatv1.Outbound) {
	frame, err := chatv1.Encode(out)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()
	_ = ws.Write(wctx, websocket.MessageText, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Keep the pattern order stable across restarts.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
