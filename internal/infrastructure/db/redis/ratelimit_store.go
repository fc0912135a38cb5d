package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdash/authgate/internal/core/auth"
)

const keyPrefix = "authgate:ratelimit:"

// The window is a hash {attempts, reset_at}. PEXPIRE on reset lets Redis drop
// idle windows, so this store needs no sweeper.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local max_attempts = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])

	local state = redis.call('HMGET', key, 'attempts', 'reset_at')
	local attempts = tonumber(state[1])
	local reset_at = tonumber(state[2])

	if attempts == nil or reset_at == nil or now_ms > reset_at then
		reset_at = now_ms + window_ms
		redis.call('HSET', key, 'attempts', 1, 'reset_at', reset_at)
		redis.call('PEXPIRE', key, window_ms)
		return { 1, max_attempts - 1, 0 }
	end

	if attempts >= max_attempts then
		return { 0, 0, reset_at - now_ms }
	end

	attempts = redis.call('HINCRBY', key, 'attempts', 1)
	return { 1, max_attempts - attempts, 0 }
`)

// RateLimitStore shares fixed windows across gateway instances.
type RateLimitStore struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRateLimitStore(client redis.Scripter) *RateLimitStore {
	return &RateLimitStore{client: client, now: time.Now}
}

func (s *RateLimitStore) Take(ctx context.Context, key string, p auth.Policy) (auth.Decision, error) {
	vals, err := fixedWindowScript.Run(ctx, s.client, []string{keyPrefix + key},
		s.now().UnixMilli(),
		p.MaxAttempts,
		p.Window.Milliseconds(),
	).Result()
	if err != nil {
		return auth.Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	return parseDecision(vals)
}

func parseDecision(vals any) (auth.Decision, error) {
	arr, ok := vals.([]any)
	if !ok || len(arr) != 3 {
		return auth.Decision{}, fmt.Errorf("rate limit script: unexpected result %#v", vals)
	}

	nums := make([]int64, len(arr))
	for i, v := range arr {
		n, ok := v.(int64)
		if !ok {
			return auth.Decision{}, fmt.Errorf("rate limit script: element %d is %T", i, v)
		}
		nums[i] = n
	}

	return auth.Decision{
		Allowed:    nums[0] == 1,
		Remaining:  int(max(nums[1], 0)),
		RetryAfter: time.Duration(nums[2]) * time.Millisecond,
	}, nil
}
