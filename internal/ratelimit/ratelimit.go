// Package ratelimit limits requests per client key.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket is an in-memory limiter for a single process. Buckets
// idle long enough to refill completely are dropped.
type TokenBucket struct {
	capacity int
	rate     int
	fill     time.Duration // time to refill an empty bucket
	mu       sync.Mutex
	state    map[string]*bucket
	swept    time.Time
	now      func() time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates a limiter with capacity tokens refilled at
// perMinute tokens per minute. A non-positive capacity means perMinute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	perMinute = max(perMinute, 1)
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		fill:     time.Duration(capacity) * time.Minute / time.Duration(perMinute),
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true, nil
	}
	l.refill(b, now)
	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// refill adds whole tokens earned since b.last and carries the
// remainder forward.
func (l *TokenBucket) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed >= l.fill {
		b.tokens, b.last = l.capacity, now
		return
	}
	n := int(elapsed * time.Duration(l.rate) / time.Minute)
	if n <= 0 {
		return
	}
	b.tokens = min(b.tokens+n, l.capacity)
	if b.tokens == l.capacity {
		b.last = now
		return
	}
	b.last = b.last.Add(time.Duration(n) * time.Minute / time.Duration(l.rate))
}

// sweep drops buckets that would be full by now; a missing key behaves
// like a full bucket. It runs at most once per fill period.
func (l *TokenBucket) sweep(now time.Time) {
	if now.Sub(l.swept) < l.fill {
		return
	}
	l.swept = now
	for key, b := range l.state {
		if now.Sub(b.last) >= l.fill {
			delete(l.state, key)
		}
	}
}

// RedisWindow is a fixed one-minute window limiter shared by every
// process using the same Redis.
type RedisWindow struct {
	client *redis.Client
	limit  int
	prefix string
	now    func() time.Time
}

// NewRedisClient connects to Redis with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

// NewRedisWindow creates a limiter allowing perMinute requests per key.
func NewRedisWindow(client *redis.Client, perMinute int) *RedisWindow {
	return &RedisWindow{client: client, limit: perMinute, prefix: "leaveportal:ratelimit:", now: time.Now}
}

func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().Unix() / 60
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, 2*time.Minute)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}

// Healthy verifies Redis connectivity.
func (l *RedisWindow) Healthy(ctx context.Context) bool {
	return l.client.Ping(ctx).Err() == nil
}

// ClientIP returns the request's remote IP without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// Middleware rejects requests over the limit with deny. Keys combine scope
// and the client IP. Limiter errors let the request through.
func Middleware(l Limiter, scope string, deny http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), scope+":"+ClientIP(r))
			if err != nil {
				slog.Warn("rate limiter unavailable", "scope", scope, "error", err)
				ok = true
			}
			if !ok {
				slog.Info("rate limit exceeded", "scope", scope, "ip", ClientIP(r))
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
