package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fileEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix seconds, 0 = never
}

// FileKV is a file-backed KV store. It is the durable default when no shared
// store is configured: the whole keyspace lives in one JSON document that is
// rewritten atomically on every mutation.
type FileKV struct {
	path    string
	mu      sync.Mutex
	entries map[string]fileEntry
	now     func() time.Time
}

// OpenFileKV loads (or creates) a file-backed store at dir/name.json.
// A corrupt or unreadable file is treated as empty rather than fatal.
func OpenFileKV(dir, name string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	kv := &FileKV{
		path:    filepath.Join(dir, name+".json"),
		entries: map[string]fileEntry{},
		now:     time.Now,
	}
	data, err := os.ReadFile(kv.path)
	if err == nil {
		if err := json.Unmarshal(data, &kv.entries); err != nil {
			kv.entries = map[string]fileEntry{}
		}
	}
	return kv, nil
}

func (kv *FileKV) Get(_ context.Context, key string) (string, bool, error) {
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

func (kv *FileKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = kv.now().Add(ttl).Unix()
	}
	kv.entries[key] = e
	return kv.persist()
}

func (kv *FileKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.entries, key)
	return kv.persist()
}

// persist writes the keyspace via a temp file and rename so a crash mid-write
// never leaves a truncated document. Caller holds kv.mu.
func (kv *FileKV) persist() error {
	data, err := json.Marshal(kv.entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	tmp := kv.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, kv.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
