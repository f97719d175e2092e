package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrInvalidToken is returned when a handshake token fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal behind a connection. Tokens are
// issued and refreshed by the auth service; this core only validates them.
type Identity struct {
	UserID   string
	DeviceID string
}

// TokenValidator is the external token-validation collaborator boundary.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// StaticTokenValidator maps pre-shared tokens to identities. It stands in for
// the auth service in DB-less dev runs and in tests, the same way the
// in-memory stores stand in for Postgres.
type StaticTokenValidator struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewStaticTokenValidator constructs an empty validator.
func NewStaticTokenValidator() *StaticTokenValidator {
	return &StaticTokenValidator{tokens: make(map[string]Identity)}
}

// Add registers a token for an identity.
func (v *StaticTokenValidator) Add(token string, id Identity) {
	token = strings.TrimSpace(token)
	if token == "" || id.UserID == "" {
		return
	}
	v.mu.Lock()
	v.tokens[token] = id
	v.mu.Unlock()
}

// Revoke forgets a token.
func (v *StaticTokenValidator) Revoke(token string) {
	v.mu.Lock()
	delete(v.tokens, token)
	v.mu.Unlock()
}

// Validate resolves a token to its identity or returns ErrInvalidToken.
func (v *StaticTokenValidator) Validate(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	v.mu.RLock()
	id, ok := v.tokens[token]
	v.mu.RUnlock()

	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}
