package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the underlying storage cannot be reached.
// Callers degrade to in-memory state for the lifetime of the session rather
// than surfacing the failure.
var ErrUnavailable = errors.New("store unavailable")

// KV is a namespaced key-value store with optional per-entry expiry. All
// persisted agent state (visitor ids, attribution, milestone markers,
// aggregate counters) lives behind this interface.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
