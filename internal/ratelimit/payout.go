package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/hostbill/internal/config"
)

const (
	keyPayoutRequest = "payout:request:reseller:%s"
	keyPayoutProcess = "payout:process:lock:%s"
)

// PayoutLimiter throttles payout requests per reseller and serialises
// processing of a payout across instances. A nil limiter allows everything.
type PayoutLimiter struct {
	bucket *TokenBucket
	locker *Locker

	requestRate  float64
	requestBurst int
	lockTTL      time.Duration
}

func NewPayoutLimiter(client *redis.Client, cfg config.Config) *PayoutLimiter {
	if client == nil {
		return nil
	}
	return &PayoutLimiter{
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		requestRate:  cfg.Payout.RequestRate,
		requestBurst: cfg.Payout.RequestBurst,
		lockTTL:      time.Duration(cfg.Payout.ProcessLockTTLMs) * time.Millisecond,
	}
}

func (l *PayoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowRequest reports whether the reseller may file another payout request now.
func (l *PayoutLimiter) AllowRequest(ctx context.Context, resellerID string) (bool, time.Duration, error) {
	if !l.Enabled() || l.requestRate <= 0 || l.requestBurst <= 0 {
		return true, 0, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyPayoutRequest, strings.TrimSpace(resellerID)), l.requestRate, l.requestBurst)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}

// LockProcess returns ok=false when another caller is processing the payout.
func (l *PayoutLimiter) LockProcess(ctx context.Context, payoutID string) (string, bool, error) {
	if !l.Enabled() || l.lockTTL <= 0 {
		return "", true, nil
	}
	lease, err := l.locker.Acquire(ctx, processKey(payoutID), l.lockTTL)
	if err != nil || lease == nil {
		return "", false, err
	}
	return lease.Token, true, nil
}

func (l *PayoutLimiter) ReleaseProcess(ctx context.Context, payoutID, token string) error {
	if !l.Enabled() {
		return nil
	}
	_, err := l.locker.Release(ctx, &Lease{Key: processKey(payoutID), Token: token})
	return err
}

func processKey(payoutID string) string {
	return fmt.Sprintf(keyPayoutProcess, strings.TrimSpace(payoutID))
}
