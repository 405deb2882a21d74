package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisScanCount    = 200
	redisPingTimeout  = 5 * time.Second
	redisDialTimeout  = 5 * time.Second
	redisGlobEscapeCh = `\`
)

var errMissingRedisAddress = errors.New("kvstore: redis address is required")

// RedisConfig describes the connection used by RedisStore.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps documents as plain string values in Redis. Every key is
// namespaced with KeyPrefix so several deployments can share one instance.
type RedisStore struct {
	client    goredis.UniversalClient
	namespace string
}

// NewRedisStore dials Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errMissingRedisAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisDialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client goredis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, namespace: keyPrefix}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	raw, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}

func (s *RedisStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	return s.client.Set(ctx, s.namespace+key, []byte(value), 0).Err()
}

func (s *RedisStore) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.namespace+prefix) + "*"
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, fullKey := range batch {
			seen[strings.TrimPrefix(fullKey, s.namespace)] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func escapeGlob(value string) string {
	var builder strings.Builder
	for _, r := range value {
		switch r {
		case '*', '?', '[', ']', '\\':
			builder.WriteString(redisGlobEscapeCh)
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
