package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string        // key prefix, e.g. "watchparty"
	TTL      time.Duration // expiry of a room's presence keys after the last change
}

// RedisStore is a Store shared by every gateway instance.
//
// Keys:
//
//	{prefix}:presence:{room_id}:members   ZSET<user_id> scored by join time
//	{prefix}:presence:{room_id}:profiles  HASH user_id -> UserRef JSON
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewRedisStore connects to Redis and returns a Store backed by it
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "watchparty"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, clock: clockwork.NewRealClock()}
}

func (s *RedisStore) membersKey(roomID string) string {
	return fmt.Sprintf("%s:presence:%s:members", s.prefix, roomID)
}

func (s *RedisStore) profilesKey(roomID string) string {
	return fmt.Sprintf("%s:presence:%s:profiles", s.prefix, roomID)
}

func (s *RedisStore) Add(ctx context.Context, roomID string, user models.UserRef) (bool, error) {
	profile, err := json.Marshal(user)
	if err != nil {
		return false, fmt.Errorf("marshal profile: %w", err)
	}

	pipe := s.client.TxPipeline()
	added := pipe.ZAddNX(ctx, s.membersKey(roomID), redis.Z{
		Score:  float64(s.clock.Now().UnixMilli()),
		Member: user.ID,
	})
	pipe.HSet(ctx, s.profilesKey(roomID), user.ID, profile)
	pipe.Expire(ctx, s.membersKey(roomID), s.ttl)
	pipe.Expire(ctx, s.profilesKey(roomID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	return added.Val() == 1, nil
}

func (s *RedisStore) Remove(ctx context.Context, roomID, userID string) (bool, error) {
	pipe := s.client.TxPipeline()
	removed := pipe.ZRem(ctx, s.membersKey(roomID), userID)
	pipe.HDel(ctx, s.profilesKey(roomID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return removed.Val() == 1, nil
}

func (s *RedisStore) Members(ctx context.Context, roomID string) ([]models.UserRef, error) {
	ids, err := s.client.ZRange(ctx, s.membersKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	profiles, err := s.client.HMGet(ctx, s.profilesKey(roomID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	members := make([]models.UserRef, 0, len(ids))
	for i, id := range ids {
		ref := models.UserRef{ID: id}
		if raw, ok := profiles[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &ref); err != nil {
				return nil, fmt.Errorf("decode profile %s: %w", id, err)
			}
		}
		members = append(members, ref)
	}
	return members, nil
}

func (s *RedisStore) Count(ctx context.Context, roomID string) (int, error) {
	n, err := s.client.ZCard(ctx, s.membersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
