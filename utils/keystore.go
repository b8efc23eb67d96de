package utils

import (
	"context"
	"sync"
	"time"
)

// keyStore is a set of short-lived keys kept in Redis when available and in
// process memory otherwise. The memory fallback only suits a single instance.
type keyStore struct {
	prefix string

	mu  sync.Mutex
	mem map[string]time.Time
}

func newKeyStore(prefix string) *keyStore {
	return &keyStore{prefix: prefix, mem: map[string]time.Time{}}
}

func (s *keyStore) put(key string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rc.Set(ctx, s.prefix+key, "1", ttl).Err()
		return
	}
	s.mu.Lock()
	s.sweepLocked(time.Now())
	s.mem[key] = time.Now().Add(ttl)
	s.mu.Unlock()
}

func (s *keyStore) has(key string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := rc.Exists(ctx, s.prefix+key).Result()
		return err == nil && n > 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.mem[key]
	return ok && time.Now().Before(exp)
}

// take removes key and reports whether it was present and unexpired.
func (s *keyStore) take(key string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		v, err := rc.GetDel(ctx, s.prefix+key).Result()
		return err == nil && v != ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.mem[key]
	delete(s.mem, key)
	return ok && time.Now().Before(exp)
}

func (s *keyStore) sweepLocked(now time.Time) {
	for k, exp := range s.mem {
		if now.After(exp) {
			delete(s.mem, k)
		}
	}
}

var (
	revokedTokens = newKeyStore("jwt:blacklist:")
	oauthStates   = newKeyStore("oauth:state:")
)

// BlacklistToken revokes a token until its natural expiry.
func BlacklistToken(token string, expiresAt time.Time) {
	revokedTokens.put(token, time.Until(expiresAt))
}

// IsTokenBlacklisted reports whether a token was revoked by logout.
func IsTokenBlacklisted(token string) bool {
	return revokedTokens.has(token)
}

// SaveState remembers an OAuth state value for ttl (default ten minutes).
func SaveState(state string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	oauthStates.put(state, ttl)
}

// ConsumeState validates an OAuth state value and makes it unusable.
func ConsumeState(state string) bool {
	return oauthStates.take(state)
}
