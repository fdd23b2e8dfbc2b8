package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/assistant/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisOpTimeout = 2 * time.Second

// RedisRefreshStore keeps refresh tokens in Redis keyed by token hash.
//
//	<prefix>:rt:<hash>    -> user id (live token, TTL)
//	<prefix>:used:<hash>  -> user id (rotated token, kept for replay detection)
//	<prefix>:user:<id>    -> set of hashes issued to the user
type RedisRefreshStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshStore connects a Redis-backed refresh store.
func NewRedisRefreshStore(addr, password, prefix string) *RedisRefreshStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "assistant:refresh"
	}
	return &RedisRefreshStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
	}
}

// Close releases the Redis connection pool.
func (s *RedisRefreshStore) Close() error {
	return s.client.Close()
}

func (s *RedisRefreshStore) liveKey(hash string) string { return s.prefix + ":rt:" + hash }
func (s *RedisRefreshStore) usedKey(hash string) string { return s.prefix + ":used:" + hash }
func (s *RedisRefreshStore) userKey(id string) string   { return s.prefix + ":user:" + id }

// NewToken issues a token for userID.
func (s *RedisRefreshStore) NewToken(userID string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	if err := s.store(ctx, userID, refreshTokenHash(token), ttl); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisRefreshStore) store(ctx context.Context, userID, hash string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.liveKey(hash), userID, ttl)
	pipe.SAdd(ctx, s.userKey(userID), hash)
	pipe.Expire(ctx, s.userKey(userID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RotateToken exchanges token for a new one. Presenting a rotated token revokes
// every token of its user.
func (s *RedisRefreshStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	hash := refreshTokenHash(token)

	userID, err := s.client.GetDel(ctx, s.liveKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		owner, usedErr := s.client.Get(ctx, s.usedKey(hash)).Result()
		if errors.Is(usedErr, redis.Nil) {
			return "", "", ErrInvalidRefreshToken
		}
		if usedErr != nil {
			return "", "", usedErr
		}
		if err := s.DeleteUser(owner); err != nil {
			return "", "", err
		}
		logging.L().Warn("🚨 Refresh token replay, revoked all sessions", zap.String("user_id", owner))
		return "", "", ErrRefreshTokenReplay
	}
	if err != nil {
		return "", "", err
	}

	if err := s.client.Set(ctx, s.usedKey(hash), userID, ttl).Err(); err != nil {
		return "", "", err
	}
	next, err := generateRefreshToken()
	if err != nil {
		return "", "", err
	}
	if err := s.store(ctx, userID, refreshTokenHash(next), ttl); err != nil {
		return "", "", err
	}
	return userID, next, nil
}

// DeleteToken revokes a single token.
func (s *RedisRefreshStore) DeleteToken(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	hash := refreshTokenHash(token)
	userID, err := s.client.GetDel(ctx, s.liveKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.client.SRem(ctx, s.userKey(userID), hash).Err()
}

// DeleteUser revokes every token of userID.
func (s *RedisRefreshStore) DeleteUser(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	hashes, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("list user tokens: %w", err)
	}
	keys := make([]string, 0, 2*len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, s.liveKey(h), s.usedKey(h))
	}
	keys = append(keys, s.userKey(userID))
	return s.client.Del(ctx, keys...).Err()
}
