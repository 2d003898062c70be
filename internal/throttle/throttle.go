// Package throttle caps concurrently live calls per campaign in Redis.
// A slot is taken before a call is placed and given back when the call
// fails to start or its conversation reaches a terminal state. The key TTL
// recovers slots leaked by crashed processes.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireLua refreshes the TTL on every granted slot so a campaign with
// calls continuously in flight never has its counter expire under it.
const acquireLua = `
-- KEYS[1] = counter key
-- ARGV[1] = limit
-- ARGV[2] = ttl_ms
local current = redis.call('INCR', KEYS[1])
if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  if redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
  end
  return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`

var acquireScript = redis.NewScript(acquireLua)

var releaseScript = redis.NewScript(`
-- KEYS[1] = counter key
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// Limiter is a per-campaign in-flight call cap.
type Limiter struct {
	rdb    redis.Scripter
	limit  int
	ttl    time.Duration
	prefix string
}

func NewLimiter(rdb redis.Scripter, limit int, ttl time.Duration) (*Limiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("throttle: redis client is nil")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("throttle: limit must be > 0")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("throttle: ttl must be > 0")
	}
	return &Limiter{rdb: rdb, limit: limit, ttl: ttl, prefix: "dialer:inflight:"}, nil
}

func (l *Limiter) key(campaignID string) string { return l.prefix + campaignID }

// Acquire takes one in-flight slot for campaignID. false means the cap is full.
func (l *Limiter) Acquire(ctx context.Context, campaignID string) (bool, error) {
	if campaignID == "" {
		return false, fmt.Errorf("throttle: campaign id is required")
	}
	res, err := acquireScript.Run(ctx, l.rdb, []string{l.key(campaignID)}, l.limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("throttle acquire: %w", err)
	}
	return res == 1, nil
}

// Release gives a slot back.
func (l *Limiter) Release(ctx context.Context, campaignID string) error {
	if campaignID == "" {
		return fmt.Errorf("throttle: campaign id is required")
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key(campaignID)}).Err(); err != nil {
		return fmt.Errorf("throttle release: %w", err)
	}
	return nil
}
