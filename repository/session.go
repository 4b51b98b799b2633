package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps the per-identity realtime session record: an online
// flag and the "current room" pointer the reconnection resolver reads.
// Records carry a TTL so abandoned sessions expire on their own.
type SessionStore interface {
	SetCurrentRoom(ctx context.Context, userID, roomID uint) error
	// CurrentRoom returns (0, nil) when no pointer is recorded.
	CurrentRoom(ctx context.Context, userID uint) (uint, error)
	ClearCurrentRoom(ctx context.Context, userID uint) error
	MarkOnline(ctx context.Context, userID uint) error
	MarkOffline(ctx context.Context, userID uint) error
}

type redisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) SessionStore {
	return &redisSessionStore{client: client, ttl: ttl}
}

func (s *redisSessionStore) roomKey(userID uint) string {
	return fmt.Sprintf("session:user:%d:room", userID)
}

func (s *redisSessionStore) onlineKey(userID uint) string {
	return fmt.Sprintf("session:user:%d:online", userID)
}

func (s *redisSessionStore) SetCurrentRoom(ctx context.Context, userID, roomID uint) error {
	return s.client.Set(ctx, s.roomKey(userID), roomID, s.ttl).Err()
}

func (s *redisSessionStore) CurrentRoom(ctx context.Context, userID uint) (uint, error) {
	val, err := s.client.Get(ctx, s.roomKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	roomID, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed current-room pointer %q for user %d: %w", val, userID, err)
	}
	return uint(roomID), nil
}

func (s *redisSessionStore) ClearCurrentRoom(ctx context.Context, userID uint) error {
	return s.client.Del(ctx, s.roomKey(userID)).Err()
}

// MarkOnline refreshes the whole session record, not just the online flag:
// heartbeats land here, and the current-room pointer must outlive any
// session that keeps beating or rehydration breaks mid-game.
func (s *redisSessionStore) MarkOnline(ctx context.Context, userID uint) error {
	if err := s.client.Set(ctx, s.onlineKey(userID), 1, s.ttl).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, s.roomKey(userID), s.ttl).Err()
}

func (s *redisSessionStore) MarkOffline(ctx context.Context, userID uint) error {
	return s.client.Del(ctx, s.onlineKey(userID)).Err()
}
