package main

import (
	"strings"
	"sync"
	"time"
)

// ResponseCache holds instrument output with per-entry expiry.
type ResponseCache struct {
	data map[string]CachedResponse
	size int
	now  func() time.Time
	mu   sync.RWMutex
}

// CachedResponse stores a cached response and expiration.
type CachedResponse struct {
	Value      []byte
	Expiration time.Time
}

// NewResponseCache initializes the response cache. A size of 0 means unbounded.
func NewResponseCache(size int) *ResponseCache {
	return &ResponseCache{
		data: make(map[string]CachedResponse, size),
		size: size,
		now:  time.Now,
	}
}

// Get retrieves a cached response if available and not expired.
func (rc *ResponseCache) Get(key string) ([]byte, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	if res, found := rc.data[key]; found && rc.now().Before(res.Expiration) {
		return res.Value, true
	}
	return nil, false
}

// Set saves a response for ttl seconds. A ttl of 0 or less is not cached.
func (rc *ResponseCache) Set(key string, value []byte, ttl int) {
	if ttl <= 0 {
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.now()
	if _, found := rc.data[key]; !found && rc.size > 0 && len(rc.data) >= rc.size {
		rc.evict(now)
	}
	rc.data[key] = CachedResponse{
		Value:      value,
		Expiration: now.Add(time.Duration(ttl) * time.Second),
	}
}

// Len reports the number of stored entries, expired ones included.
func (rc *ResponseCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.data)
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many were removed.
func (rc *ResponseCache) DeletePrefix(prefix string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	removed := 0
	for key := range rc.data {
		if strings.HasPrefix(key, prefix) {
			delete(rc.data, key)
			removed++
		}
	}
	return removed
}

// evict drops expired entries, or the one closest to expiry if none are.
// Callers hold rc.mu.
func (rc *ResponseCache) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, res := range rc.data {
		if !now.Before(res.Expiration) {
			delete(rc.data, key)
			continue
		}
		if oldestKey == "" || res.Expiration.Before(oldest) {
			oldestKey, oldest = key, res.Expiration
		}
	}
	if len(rc.data) >= rc.size && oldestKey != "" {
		delete(rc.data, oldestKey)
	}
}
