// Package ratelimit implements a sharded token-bucket limiter keyed by
// (class, key) pairs, where class names a rate-limit policy (opaque,
// opaque-finish, token, admin-sensitive) and key is derived from the
// request's IP, session id, client id, or principal id depending on class.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/puzed/darkauth-sub006/internal/settings"
)

const shardCount = 32

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

type shard struct {
	mu       sync.Mutex
	limiters map[string]*bucket
}

// Limiter is a sharded-map rate limiter; each shard has its own mutex so
// concurrent requests for different keys rarely contend.
type Limiter struct {
	shards  [shardCount]*shard
	rules   map[string]settings.RateLimitRule
	rulesMu sync.RWMutex
}

// New builds a Limiter seeded with the given rules, keyed by class.
func New(rules []settings.RateLimitRule) *Limiter {
	l := &Limiter{rules: make(map[string]settings.RateLimitRule, len(rules))}
	for i := range l.shards {
		l.shards[i] = &shard{limiters: make(map[string]*bucket)}
	}
	for _, r := range rules {
		l.rules[r.Class] = r
	}
	return l
}

// SetRules atomically replaces the rule set, e.g. after an admin changes the
// rate_limits setting; existing bucket state for unaffected classes is kept.
func (l *Limiter) SetRules(rules []settings.RateLimitRule) {
	l.rulesMu.Lock()
	defer l.rulesMu.Unlock()
	l.rules = make(map[string]settings.RateLimitRule, len(rules))
	for _, r := range rules {
		l.rules[r.Class] = r
	}
}

// Allow reports whether a request in class for key may proceed, consuming a
// token if so.
func (l *Limiter) Allow(class, key string) bool {
	l.rulesMu.RLock()
	rule, ok := l.rules[class]
	l.rulesMu.RUnlock()
	if !ok {
		return true
	}

	shardKey := class + "\x00" + key
	sh := l.shards[fnv32(shardKey)%shardCount]

	sh.mu.Lock()
	defer sh.mu.Unlock()
	b, ok := sh.limiters[shardKey]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rule.RatePerSecond), rule.BurstSize)}
		sh.limiters[shardKey] = b
	}
	b.lastUsed = time.Now()
	return b.limiter.Allow()
}

// Cleanup removes buckets untouched since before cutoff; intended to be
// called periodically from a background goroutine so the shard maps do not
// grow without bound under many distinct keys.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, b := range sh.limiters {
			if b.lastUsed.Before(cutoff) {
				delete(sh.limiters, key)
			}
		}
		sh.mu.Unlock()
	}
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
