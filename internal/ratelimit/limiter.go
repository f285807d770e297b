// Package ratelimit throttles board operations with fixed-window counters
// kept in Redis. Every check fails open: a Redis outage never blocks a
// session from drawing.
package ratelimit

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one throttling policy, keyed per identifier under Key.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:draw:"
	Limit  int           // operations allowed per window
	Window time.Duration // window length, starting at the first operation
}

var (
	// RuleDraw allows 600 draw events per 10 seconds per session. A pointer
	// drag produces one segment per movement sample.
	RuleDraw = Rule{Key: "rl:draw:", Limit: 600, Window: 10 * time.Second}

	// RuleClear allows 3 board clears per 10 seconds per session.
	RuleClear = Rule{Key: "rl:clear:", Limit: 3, Window: 10 * time.Second}

	// RuleConnect allows 20 WebSocket upgrades per minute per address.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: time.Minute}
)

// hitScript increments the counter and starts the window on the first hit
// in one round trip, so a counter can never be left without a TTL.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter checks rules against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one operation for identifier and reports whether it is
// within rule. On Redis errors it returns true along with the error.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	count, err := hitScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		log.Printf("[ratelimit] check failed key=%s: %v (failing open)", key, err)
		return true, err
	}
	return count <= int64(rule.Limit), nil
}

// RetryAfter reports how long until identifier's current window for rule
// ends. It is zero when no window is open or Redis cannot say.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
