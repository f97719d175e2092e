package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chatv1 "relay/shared/contracts/chat/v1"
)

// Postgres-backed stores.
//
// Ownership model: the pgx pool belongs to the caller, so Close() is a no-op.
//
// Expected tables (schema management is external; tests bootstrap their own
// scratch schema):
//
//	messages(id uuid pk, conversation_id uuid, sender_id uuid, content_type text,
//	         content text, reply_to_id uuid null, media_url text null,
//	         thumbnail_url text null, client_ts timestamptz null,
//	         server_ts timestamptz, edited_at timestamptz null,
//	         deleted boolean default false)
//	message_status(message_id uuid, user_id uuid, status text,
//	               updated_at timestamptz, pk(message_id, user_id))
//	conversation_members(conversation_id uuid, user_id uuid,
//	                     pk(conversation_id, user_id))

const defaultSchema = "relay"

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool { return pgIdentRE.MatchString(s) }

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func validSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", errors.New("messaging: empty schema")
	}
	if !isValidPGIdent(schema) {
		return "", errors.New("messaging: invalid schema identifier")
	}
	return schema, nil
}

// statusRankSQL orders delivery statuses for forward-only transitions.
const statusRankSQL = `CASE %s WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'READ' THEN 3 ELSE 0 END`

// PostgresMessageStore is a MessageStore backed by PostgreSQL.
type PostgresMessageStore struct {
	pool   *pgxpool.Pool
	schema string
}

// MessageStoreOption configures PostgresMessageStore behavior.
type MessageStoreOption func(*PostgresMessageStore) error

// WithMessageSchema sets the DB schema used by this store (default: "relay").
func WithMessageSchema(schema string) MessageStoreOption {
	return func(s *PostgresMessageStore) error {
		v, err := validSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresMessageStore constructs a Postgres-backed MessageStore.
func NewPostgresMessageStore(pool *pgxpool.Pool, opts ...MessageStoreOption) (*PostgresMessageStore, error) {
	st := &PostgresMessageStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresMessageStore) Close() error { return nil }

// Save inserts the message, stamping server_ts. ON CONFLICT DO NOTHING plus a
// zero rows-affected check makes duplicate detection race-free without an
// extra round trip.
func (s *PostgresMessageStore) Save(ctx context.Context, msg Message, now time.Time) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("messaging: nil store")
	}
	if msg.ID == "" || msg.ConversationID == "" || msg.SenderID == "" {
		return Message{}, errors.New("invalid message")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, sender_id, content_type, content,
		     reply_to_id, media_url, thumbnail_url, client_ts, server_ts
		 ) VALUES ($1, $2, $3, $4, $5, NULLIF($6,'')::uuid, NULLIF($7,''), NULLIF($8,''), $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.ContentType), msg.Content,
		msg.ReplyToID, msg.MediaURL, msg.ThumbnailURL, nullableTime(msg.ClientTimestamp), now,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrDuplicateMessage
	}

	msg.ServerTimestamp = now
	return msg, nil
}

// FindByID returns the message for id, or ErrMessageNotFound.
func (s *PostgresMessageStore) FindByID(ctx context.Context, messageID string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("messaging: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var (
		m        Message
		ct       string
		replyTo  *string
		mediaURL *string
		thumbURL *string
		clientTS *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, content_type, content,
		        reply_to_id, media_url, thumbnail_url, client_ts, server_ts,
		        edited_at, deleted
		   FROM `+messages+`
		  WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &ct, &m.Content,
		&replyTo, &mediaURL, &thumbURL, &clientTS, &m.ServerTimestamp,
		&m.EditedAt, &m.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}

	m.ContentType = chatv1.ContentType(ct)
	if replyTo != nil {
		m.ReplyToID = *replyTo
	}
	if mediaURL != nil {
		m.MediaURL = *mediaURL
	}
	if thumbURL != nil {
		m.ThumbnailURL = *thumbURL
	}
	if clientTS != nil {
		m.ClientTimestamp = *clientTS
	}
	return m, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// PostgresStatusStore is a StatusStore backed by PostgreSQL. Forward-only
// transitions are enforced in SQL, so concurrent acks from multiple devices
// cannot regress a row.
type PostgresStatusStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StatusStoreOption configures PostgresStatusStore behavior.
type StatusStoreOption func(*PostgresStatusStore) error

// WithStatusSchema sets the DB schema used by this store (default: "relay").
func WithStatusSchema(schema string) StatusStoreOption {
	return func(s *PostgresStatusStore) error {
		v, err := validSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStatusStore constructs a Postgres-backed StatusStore.
func NewPostgresStatusStore(pool *pgxpool.Pool, opts ...StatusStoreOption) (*PostgresStatusStore, error) {
	st := &PostgresStatusStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStatusStore) Close() error { return nil }

// Init creates SENT rows for every recipient of a persisted message.
func (s *PostgresStatusStore) Init(ctx context.Context, messageID string, recipientIDs []string, now time.Time) error {
	if s == nil || s.pool == nil {
		return errors.New("messaging: nil store")
	}
	if len(recipientIDs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	statuses := pgIdent(s.schema, "message_status")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+statuses+` (message_id, user_id, status, updated_at)
		 SELECT $1, unnest($2::uuid[]), 'SENT', $3
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, recipientIDs, now,
	)
	return err
}

// Update applies a forward-only transition for one (message, user) pair.
func (s *PostgresStatusStore) Update(ctx context.Context, messageID, userID string, status chatv1.MessageStatus, now time.Time) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("messaging: nil store")
	}
	if !status.Valid() {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	statuses := pgIdent(s.schema, "message_status")
	oldRank := fmt.Sprintf(statusRankSQL, "status")
	newRank := fmt.Sprintf(statusRankSQL, "$3")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+statuses+`
		    SET status = $3, updated_at = $4
		  WHERE message_id = $1 AND user_id = $2
		    AND `+oldRank+` < `+newRank,
		messageID, userID, string(status), now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkConversationRead bulk-marks the user's unread rows in the conversation.
func (s *PostgresStatusStore) MarkConversationRead(ctx context.Context, conversationID, userID string, now time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("messaging: nil store")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	statuses := pgIdent(s.schema, "message_status")
	messages := pgIdent(s.schema, "messages")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+statuses+` ms
		    SET status = 'READ', updated_at = $3
		   FROM `+messages+` m
		  WHERE ms.message_id = m.id
		    AND m.conversation_id = $1
		    AND ms.user_id = $2
		    AND ms.status <> 'READ'`,
		conversationID, userID, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Get returns the stored status for one (message, user) pair.
func (s *PostgresStatusStore) Get(ctx context.Context, messageID, userID string) (chatv1.MessageStatus, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("messaging: nil store")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	statuses := pgIdent(s.schema, "message_status")

	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM `+statuses+` WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMessageNotFound
	}
	if err != nil {
		return "", err
	}
	return chatv1.MessageStatus(status), nil
}

// PostgresMembershipStore reads conversation membership.
type PostgresMembershipStore struct {
	pool   *pgxpool.Pool
	schema string
}

// MembershipOption configures PostgresMembershipStore behavior.
type MembershipOption func(*PostgresMembershipStore) error

// WithMembershipSchema sets the DB schema used by the membership store
// (default: "relay").
func WithMembershipSchema(schema string) MembershipOption {
	return func(s *PostgresMembershipStore) error {
		v, err := validSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresMembershipStore constructs a membership store backed by PostgreSQL.
func NewPostgresMembershipStore(pool *pgxpool.Pool, opts ...MembershipOption) (*PostgresMembershipStore, error) {
	st := &PostgresMembershipStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

// IsMember checks if userID is a member of conversationID.
func (s *PostgresMembershipStore) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("messaging: nil membership store")
	}
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(s.schema, "conversation_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecipientIDs returns the member ids of conversationID excluding excludeUserID.
func (s *PostgresMembershipStore) RecipientIDs(ctx context.Context, conversationID, excludeUserID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil membership store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	members := pgIdent(s.schema, "conversation_members")

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+members+`
		  WHERE conversation_id = $1 AND user_id <> $2`,
		conversationID, excludeUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
