package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/store"
)

// Identity pairs the durable visitor identifier with the per-page-view
// session identifier.
type Identity struct {
	VisitorID  string
	SessionID  string
	NewVisitor bool
}

// Manager mints and persists visitor identifiers. A visitor id is created
// lazily on first contact and never deleted; the session id is regenerated
// for every page view.
type Manager struct {
	kv  store.KV
	log *zap.Logger
}

func NewManager(kv store.KV, log *zap.Logger) *Manager {
	return &Manager{kv: kv, log: log.With(zap.String("module", "identity"))}
}

// Ensure returns the identity for a page view. A valid previously issued
// visitor id is kept; anything else gets a fresh one. Storage failures
// degrade to an unpersisted id for this page view only.
func (m *Manager) Ensure(ctx context.Context, providedVisitorID string) Identity {
	id := Identity{SessionID: newUUIDOrDefault()}

	if providedVisitorID != "" {
		if _, err := uuid.Parse(providedVisitorID); err == nil {
			id.VisitorID = providedVisitorID
		} else {
			m.log.Debug("discarding malformed visitor id", zap.String("visitor_id", providedVisitorID))
		}
	}
	if id.VisitorID == "" {
		id.VisitorID = newUUIDOrDefault()
	}

	key := "identity:visitor:" + id.VisitorID
	if _, known, err := m.kv.Get(ctx, key); err == nil && !known {
		id.NewVisitor = true
		if err := m.kv.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), 0); err != nil {
			m.log.Debug("failed to persist visitor marker", zap.Error(err))
		}
	}
	return id
}

// newUUID generates a new UUIDv7 (time-based).
func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

// newUUIDOrDefault generates a new UUIDv7 or returns the nil UUID if
// generation fails.
func newUUIDOrDefault() string {
	id, err := newUUID()
	if err != nil {
		return "00000000-0000-0000-0000-000000000000"
	}
	return id
}
