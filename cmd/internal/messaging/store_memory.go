package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	chatv1 "relay/shared/contracts/chat/v1"
)

// MemoryMessageStore is the fallback MessageStore when no database is
// configured. It is also what unit tests run against.
type MemoryMessageStore struct {
	mu   sync.Mutex
	byID map[string]Message
}

// NewMemoryMessageStore constructs an in-memory MessageStore.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{byID: make(map[string]Message)}
}

// Close closes the store (noop for in-memory).
func (s *MemoryMessageStore) Close() error { return nil }

// Save persists a message, stamping the server timestamp. Duplicate ids are
// rejected with ErrDuplicateMessage and never create a second row.
func (s *MemoryMessageStore) Save(ctx context.Context, msg Message, now time.Time) (Message, error) {
	if msg.ID == "" || msg.ConversationID == "" || msg.SenderID == "" {
		return Message{}, errors.New("invalid message")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[msg.ID]; ok {
		return Message{}, ErrDuplicateMessage
	}

	msg.ServerTimestamp = now
	s.byID[msg.ID] = msg
	return msg, nil
}

// FindByID returns the message for id, or ErrMessageNotFound.
func (s *MemoryMessageStore) FindByID(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return msg, nil
}

type statusKey struct {
	messageID string
	userID    string
}

// MemoryStatusStore is the in-memory StatusStore implementation.
type MemoryStatusStore struct {
	mu     sync.Mutex
	rows   map[statusKey]DeliveryStatus
	byConv map[string][]statusKey // conversation -> keys, for bulk reads

	conversationOf func(messageID string) (string, bool)
}

// NewMemoryStatusStore constructs an in-memory StatusStore. The conversation
// of each message is captured at Init time via the message store it is paired
// with, so MarkConversationRead can resolve rows without a join.
func NewMemoryStatusStore(messages *MemoryMessageStore) *MemoryStatusStore {
	lookup := func(messageID string) (string, bool) {
		if messages == nil {
			return "", false
		}
		msg, err := messages.FindByID(context.Background(), messageID)
		if err != nil {
			return "", false
		}
		return msg.ConversationID, true
	}
	return &MemoryStatusStore{
		rows:           make(map[statusKey]DeliveryStatus),
		byConv:         make(map[string][]statusKey),
		conversationOf: lookup,
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStatusStore) Close() error { return nil }

// Init creates SENT rows for every recipient. Existing rows are left alone so
// a replayed Init (duplicate send retry) cannot regress a delivered status.
func (s *MemoryStatusStore) Init(ctx context.Context, messageID string, recipientIDs []string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conv, _ := s.conversationOf(messageID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rid := range recipientIDs {
		k := statusKey{messageID: messageID, userID: rid}
		if _, ok := s.rows[k]; ok {
			continue
		}
		s.rows[k] = DeliveryStatus{
			MessageID: messageID,
			UserID:    rid,
			Status:    chatv1.StatusSent,
			UpdatedAt: now,
		}
		if conv != "" {
			s.byConv[conv] = append(s.byConv[conv], k)
		}
	}
	return nil
}

// Update applies a forward-only transition and reports whether the stored
// status changed. Regressions and unknown rows are no-ops.
func (s *MemoryStatusStore) Update(ctx context.Context, messageID, userID string, status chatv1.MessageStatus, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !status.Valid() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := statusKey{messageID: messageID, userID: userID}
	row, ok := s.rows[k]
	if !ok {
		return false, nil
	}
	if status.Rank() <= row.Status.Rank() {
		return false, nil
	}

	row.Status = status
	row.UpdatedAt = now
	s.rows[k] = row
	return true, nil
}

// MarkConversationRead bulk-marks all of the user's unread rows in the
// conversation as READ.
func (s *MemoryStatusStore) MarkConversationRead(ctx context.Context, conversationID, userID string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, k := range s.byConv[conversationID] {
		if k.userID != userID {
			continue
		}
		row := s.rows[k]
		if row.Status == chatv1.StatusRead {
			continue
		}
		row.Status = chatv1.StatusRead
		row.UpdatedAt = now
		s.rows[k] = row
		changed++
	}
	return changed, nil
}

// Get returns the stored status for one (message, user) pair.
func (s *MemoryStatusStore) Get(ctx context.Context, messageID, userID string) (chatv1.MessageStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[statusKey{messageID: messageID, userID: userID}]
	if !ok {
		return "", ErrMessageNotFound
	}
	return row.Status, nil
}

// MemoryMembershipStore is the in-memory MembershipStore. Production wiring
// reads membership from Postgres; this one backs tests and DB-less dev runs.
type MemoryMembershipStore struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// NewMemoryMembershipStore constructs an empty membership store.
func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{members: make(map[string]map[string]struct{})}
}

// SetMembers replaces the member set of a conversation.
func (s *MemoryMembershipStore) SetMembers(conversationID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	s.members[conversationID] = set
}

// IsMember reports whether userID belongs to conversationID.
func (s *MemoryMembershipStore) IsMember(_ context.Context, userID, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.members[conversationID][userID]
	return ok, nil
}

// RecipientIDs returns every member of conversationID except excludeUserID.
func (s *MemoryMembershipStore) RecipientIDs(_ context.Context, conversationID, excludeUserID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.members[conversationID]
	out := make([]string, 0, len(set))
	for id := range set {
		if id == excludeUserID {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
