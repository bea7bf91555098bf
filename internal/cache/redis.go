package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

// RedisStore backs both session caches with redis key TTLs. Callers serialize
// writes per session (SessionLocks), so read-modify-write on Append is safe.
type RedisStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
	cap int
}

func NewRedisStore(log *logger.Logger, ttl time.Duration, maxMessages int) (*RedisStore, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, errors.New("missing REDIS_ADDR")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = MaxMessages
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{
		log: log.With("component", "session_cache"),
		rdb: rdb,
		ttl: ttl,
		cap: maxMessages,
	}, nil
}

func convKey(sessionID string) string    { return "session:conv:" + sessionID }
func contextKey(sessionID string) string { return "session:policy:" + sessionID }

func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]Turn, bool, error) {
	raw, err := s.rdb.Get(ctx, convKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get conversation: %w", err)
	}
	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, false, fmt.Errorf("conversation decode: %w", err)
	}
	return turns, true, nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	existing, _, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	existing = append(existing, turns...)
	if len(existing) > s.cap {
		existing = existing[len(existing)-s.cap:]
	}
	raw, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, convKey(sessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, convKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) PolicyContexts() PolicyContextStore {
	return (*redisPolicyContexts)(s)
}

type redisPolicyContexts RedisStore

func (s *redisPolicyContexts) Get(ctx context.Context, sessionID string) (*PolicyContext, error) {
	raw, err := s.rdb.Get(ctx, contextKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get policy context: %w", err)
	}
	var pc PolicyContext
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("policy context decode: %w", err)
	}
	return &pc, nil
}

func (s *redisPolicyContexts) Set(ctx context.Context, sessionID string, pc PolicyContext) error {
	raw, err := json.Marshal(pc)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, contextKey(sessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set policy context: %w", err)
	}
	return nil
}

func (s *redisPolicyContexts) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, contextKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del policy context: %w", err)
	}
	return nil
}
