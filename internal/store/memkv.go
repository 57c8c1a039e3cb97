package store

import (
	"context"
	"sync"
	"time"
)

// MemKV is an in-memory KV store. It backs tests and the degraded
// "resolved this page load only" mode when durable storage is denied.
type MemKV struct {
	mu      sync.Mutex
	entries map[string]fileEntry
	now     func() time.Time
}

func NewMemKV() *MemKV {
	return &MemKV{
		entries: map[string]fileEntry{},
		now:     time.Now,
	}
}

func (kv *MemKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.ExpiresAt != 0 && kv.now().Unix() >= e.ExpiresAt {
		delete(kv.entries, key)
		return "", false, nil
	}
	return e.Value, true, nil
}

func (kv *MemKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = kv.now().Add(ttl).Unix()
	}
	kv.entries[key] = e
	return nil
}

func (kv *MemKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.entries, key)
	return nil
}
