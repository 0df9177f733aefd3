package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// compare-and-delete: only the lease holder may drop the key.
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockNotConfigured = errors.New("lock client not configured")

// Lease is a held lock. The token proves ownership when releasing.
type Lease struct {
	Key   string
	Token string
}

// Locker hands out expiring single-key leases on redis.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(releaseLeaseScript)}
}

// Acquire returns a nil lease without error when another holder owns key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("lease needs a key and a positive ttl")
	}
	lease := &Lease{Key: key, Token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, key, lease.Token, ttl).Result()
	if err != nil || !ok {
		return nil, err
	}
	return lease, nil
}

// Release reports whether the lease was still held. An expired or stolen
// lease is left alone.
func (l *Locker) Release(ctx context.Context, lease *Lease) (bool, error) {
	if l == nil || l.client == nil || lease == nil || lease.Key == "" || lease.Token == "" {
		return false, nil
	}
	n, err := l.release.Run(ctx, l.client, []string{lease.Key}, lease.Token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
