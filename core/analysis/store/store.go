// Package store persists analysis results in Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/cjcard/core/infra/redisutil"
)

// ErrMissingURL is returned before any network use when no connection string is configured.
var ErrMissingURL = errors.New("KV_URL is not set")

const defaultOpTimeout = 5 * time.Second

// RedisStore writes results under KeyPrefix + repository identifier. A new
// client is dialed for every Put and closed afterwards.
type RedisStore struct {
	url     string
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisStore builds a store. A zero ttl keeps values forever; a zero
// timeout falls back to five seconds.
func NewRedisStore(url, prefix string, ttl, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &RedisStore{url: strings.TrimSpace(url), prefix: prefix, ttl: ttl, timeout: timeout}
}

// Key returns the store key for repo. The identifier is used verbatim.
func (s *RedisStore) Key(repo string) string {
	return s.prefix + repo
}

// Validate reports configuration problems without touching the network.
func (s *RedisStore) Validate() error {
	if s.url == "" {
		return ErrMissingURL
	}
	if _, err := redisutil.ParseOptions(s.url); err != nil {
		return err
	}
	return nil
}

// Put overwrites the value at Key(repo).
func (s *RedisStore) Put(ctx context.Context, repo string, value []byte) error {
	if s.url == "" {
		return ErrMissingURL
	}
	client, err := redisutil.NewClient(s.url)
	if err != nil {
		return fmt.Errorf("kv client: %w", err)
	}
	defer client.Close()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Set(cctx, s.Key(repo), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", s.Key(repo), err)
	}
	return nil
}

// Discard drops every write. Used for local runs that should not touch the cache.
type Discard struct{}

func (Discard) Put(context.Context, string, []byte) error { return nil }
