package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Close() error { return s.rdb.Close() }

func nonceKey(walletAddress string) string {
	return "login_nonce:" + walletAddress
}

// SetLoginNonce stores the challenge nonce for a wallet with a TTL. A new
// challenge overwrites any outstanding one.
func (s *Store) SetLoginNonce(ctx context.Context, walletAddress, nonce string, ttl time.Duration) error {
	return s.rdb.Set(ctx, nonceKey(walletAddress), nonce, ttl).Err()
}

// GetLoginNonce returns redis.Nil when no challenge is outstanding.
func (s *Store) GetLoginNonce(ctx context.Context, walletAddress string) (string, error) {
	return s.rdb.Get(ctx, nonceKey(walletAddress)).Result()
}

func (s *Store) DeleteLoginNonce(ctx context.Context, walletAddress string) error {
	return s.rdb.Del(ctx, nonceKey(walletAddress)).Err()
}
