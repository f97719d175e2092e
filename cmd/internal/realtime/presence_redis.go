package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceOnlineKeyPrefix   = "relay:presence:online:"
	presenceLastSeenKeyPrefix = "relay:presence:last_seen:"

	// Online keys expire so a crashed process cannot leave users stuck
	// online; heartbeats refresh the TTL.
	presenceOnlineTTL = 90 * time.Second
)

// RedisPresence is a PresenceStore backed by Redis, shared across processes.
//
// Ownership model: the client belongs to the caller.
type RedisPresence struct {
	rdb *redis.Client
}

// NewRedisPresence constructs a Redis-backed PresenceStore.
func NewRedisPresence(rdb *redis.Client) (*RedisPresence, error) {
	if rdb == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	return &RedisPresence{rdb: rdb}, nil
}

// SetOnline marks the user online with a TTL refreshed on every call.
func (p *RedisPresence) SetOnline(ctx context.Context, userID string) error {
	return p.rdb.Set(ctx, presenceOnlineKeyPrefix+userID, "1", presenceOnlineTTL).Err()
}

// SetOffline drops the online flag and stamps last-seen.
func (p *RedisPresence) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, presenceOnlineKeyPrefix+userID)
	pipe.Set(ctx, presenceLastSeenKeyPrefix+userID, lastSeen.UTC().Format(time.RFC3339Nano), 0)
	_, err := pipe.Exec(ctx)
	return err
}

// IsOnline reports whether the online flag is set.
func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.Exists(ctx, presenceOnlineKeyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastSeen returns the last-seen stamp, if one was recorded.
func (p *RedisPresence) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	v, err := p.rdb.Get(ctx, presenceLastSeenKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
