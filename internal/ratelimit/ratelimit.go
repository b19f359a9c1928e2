// Package ratelimit caps AI actions per scope in fixed windows kept in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultWindow = time.Hour
	DefaultPrefix = "inkwell:usage"
)

// The counter and its expiry are set together so a crash between the two
// can never leave a window without a TTL.
var countScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return used
`)

type Config struct {
	// Limit <= 0 allows everything without touching Redis.
	Limit  int64
	Window time.Duration
	Prefix string
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

type Limiter struct {
	rdb *redis.Client
	cfg Config
}

func New(rdb *redis.Client, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Limiter{rdb: rdb, cfg: cfg}
}

// Allow counts one action for scope in the window containing now.
func (l *Limiter) Allow(ctx context.Context, scope string, now time.Time) (Decision, error) {
	start := now.UTC().Truncate(l.cfg.Window)
	end := start.Add(l.cfg.Window)
	if l.cfg.Limit <= 0 {
		return Decision{Allowed: true, ResetAt: end}, nil
	}

	ttl := max(end.Sub(now), time.Millisecond)
	key := fmt.Sprintf("%s:%s:%d", l.cfg.Prefix, scope, start.Unix())
	used, err := countScript.Run(ctx, l.rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("count usage for %s: %w", scope, err)
	}
	return Decision{
		Allowed:   used <= l.cfg.Limit,
		Used:      used,
		Remaining: max(l.cfg.Limit-used, 0),
		ResetAt:   end,
	}, nil
}
