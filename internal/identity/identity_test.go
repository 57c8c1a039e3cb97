package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/store"
)

func TestEnsureMintsVisitorID(t *testing.T) {
	m := NewManager(store.NewMemKV(), zap.NewNop())

	id := m.Ensure(context.Background(), "")
	assert.True(t, id.NewVisitor)
	_, err := uuid.Parse(id.VisitorID)
	require.NoError(t, err)
	_, err = uuid.Parse(id.SessionID)
	require.NoError(t, err)
}

func TestEnsureKeepsKnownVisitor(t *testing.T) {
	kv := store.NewMemKV()
	m := NewManager(kv, zap.NewNop())
	ctx := context.Background()

	first := m.Ensure(ctx, "")
	second := m.Ensure(ctx, first.VisitorID)

	assert.Equal(t, first.VisitorID, second.VisitorID)
	assert.False(t, second.NewVisitor)
	assert.NotEqual(t, first.SessionID, second.SessionID, "session id is regenerated per page view")
}

func TestEnsureRejectsMalformedVisitorID(t *testing.T) {
	m := NewManager(store.NewMemKV(), zap.NewNop())

	id := m.Ensure(context.Background(), "not-a-uuid")
	assert.True(t, id.NewVisitor)
	assert.NotEqual(t, "not-a-uuid", id.VisitorID)
}
