package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StateAwaitingPhoto is armed by /generate and consumed by the photo handler.
	StateAwaitingPhoto = "awaiting_photo"

	stateTTL = 10 * time.Minute
	lockTTL  = 2 * time.Minute
)

// Store keeps per-user conversation state and in-flight generation locks in
// redis, so a restart does not strand users mid-flow.
type Store struct {
	Redis *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{Redis: rdb}
}

func stateKey(telegramID int64) string {
	return fmt.Sprintf("state:%d", telegramID)
}

func lockKey(telegramID int64) string {
	return fmt.Sprintf("genlock:%d", telegramID)
}

// SetState arms a conversation state with a TTL.
func (s *Store) SetState(ctx context.Context, telegramID int64, state string) error {
	return s.Redis.Set(ctx, stateKey(telegramID), state, stateTTL).Err()
}

// GetState returns the current state, or "" when none is set.
func (s *Store) GetState(ctx context.Context, telegramID int64) (string, error) {
	state, err := s.Redis.Get(ctx, stateKey(telegramID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// ClearState drops the conversation state.
func (s *Store) ClearState(ctx context.Context, telegramID int64) error {
	return s.Redis.Del(ctx, stateKey(telegramID)).Err()
}

// AcquireGenerationLock allows at most one in-flight generation per user. The
// TTL covers a crashed handler that never released.
func (s *Store) AcquireGenerationLock(ctx context.Context, telegramID int64) (bool, error) {
	return s.Redis.SetNX(ctx, lockKey(telegramID), "1", lockTTL).Result()
}

// ReleaseGenerationLock frees the lock after the submission settled.
func (s *Store) ReleaseGenerationLock(ctx context.Context, telegramID int64) error {
	return s.Redis.Del(ctx, lockKey(telegramID)).Err()
}
