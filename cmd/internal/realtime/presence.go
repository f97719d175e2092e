package realtime

import (
	"context"
	"sync"
	"time"
)

// PresenceStore records coarse online/offline state and last-seen stamps.
// It complements the Registry: the registry answers "can I push a frame right
// now", presence answers "when was this user last around", which survives the
// process and is what clients render.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// MemoryPresence is the in-process PresenceStore fallback when Redis is not
// configured.
type MemoryPresence struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	lastSeen map[string]time.Time
}

// NewMemoryPresence constructs an empty MemoryPresence.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		online:   make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// SetOnline marks the user online.
func (p *MemoryPresence) SetOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	p.online[userID] = struct{}{}
	p.mu.Unlock()
	return nil
}

// SetOffline marks the user offline and stamps last-seen.
func (p *MemoryPresence) SetOffline(_ context.Context, userID string, lastSeen time.Time) error {
	p.mu.Lock()
	delete(p.online, userID)
	p.lastSeen[userID] = lastSeen
	p.mu.Unlock()
	return nil
}

// IsOnline reports the stored online flag.
func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	_, ok := p.online[userID]
	p.mu.RUnlock()
	return ok, nil
}

// LastSeen returns the last-seen stamp, if any.
func (p *MemoryPresence) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	p.mu.RLock()
	t, ok := p.lastSeen[userID]
	p.mu.RUnlock()
	return t, ok, nil
}
