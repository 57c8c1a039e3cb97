package attribution

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FallbackTTL is the fixed expiry of the compact fallback encoding.
const FallbackTTL = 30 * 24 * time.Hour

// Entries are keyed per visitor: attribution is the claim of who referred
// one visitor, so one visitor's persisted state must never be read back for
// another.
const (
	keyStatePrefix   = "attribution:state:"
	keyCompactPrefix = "attribution:compact:"
	keyUTMPrefix     = "attribution:utm:"
)

// Store persists resolved referral state for a visitor.
type Store interface {
	Load(ctx context.Context, visitorID string) (*ReferralState, error)
	Save(ctx context.Context, visitorID string, state *ReferralState) error
}

// PrimaryStore keeps the full referral state as one JSON document.
type PrimaryStore struct {
	kv store.KV
}

func NewPrimaryStore(kv store.KV) *PrimaryStore {
	return &PrimaryStore{kv: kv}
}

func (s *PrimaryStore) Load(ctx context.Context, visitorID string) (*ReferralState, error) {
	raw, ok, err := s.kv.Get(ctx, keyStatePrefix+visitorID)
	if err != nil || !ok {
		return nil, err
	}
	var state ReferralState
	if err := json.UnmarshalFromString(raw, &state); err != nil {
		return nil, fmt.Errorf("decode referral state: %w", err)
	}
	return &state, nil
}

func (s *PrimaryStore) Save(ctx context.Context, visitorID string, state *ReferralState) error {
	raw, err := json.MarshalToString(state)
	if err != nil {
		return fmt.Errorf("encode referral state: %w", err)
	}
	return s.kv.Set(ctx, keyStatePrefix+visitorID, raw, 0)
}

// CompactStore keeps a scalar-friendly "referrer|inviteCode" entry plus a
// separate UTM entry, both expiring after FallbackTTL. It survives
// environments where the structured entry gets cleared.
type CompactStore struct {
	kv store.KV
}

func NewCompactStore(kv store.KV) *CompactStore {
	return &CompactStore{kv: kv}
}

func (s *CompactStore) Load(ctx context.Context, visitorID string) (*ReferralState, error) {
	raw, ok, err := s.kv.Get(ctx, keyCompactPrefix+visitorID)
	if err != nil || !ok {
		return nil, err
	}
	referrer, inviteCode, _ := strings.Cut(raw, "|")
	if referrer == "" && inviteCode == "" {
		return nil, nil
	}
	state := &ReferralState{
		Referrer:   referrer,
		InviteCode: inviteCode,
		Source:     SourceCookie,
		Timestamp:  time.Now().UTC(),
	}
	if rawUTM, ok, err := s.kv.Get(ctx, keyUTMPrefix+visitorID); err == nil && ok {
		// Best effort: a corrupt UTM entry leaves the defaults in place.
		_ = json.UnmarshalFromString(rawUTM, &state.UTM)
	}
	return state, nil
}

func (s *CompactStore) Save(ctx context.Context, visitorID string, state *ReferralState) error {
	compact := state.Referrer + "|" + state.InviteCode
	if err := s.kv.Set(ctx, keyCompactPrefix+visitorID, compact, FallbackTTL); err != nil {
		return err
	}
	if state.UTM.Empty() {
		return nil
	}
	rawUTM, err := json.MarshalToString(state.UTM)
	if err != nil {
		return fmt.Errorf("encode utm: %w", err)
	}
	return s.kv.Set(ctx, keyUTMPrefix+visitorID, rawUTM, FallbackTTL)
}

// Chain is the ordered primary-then-fallback persistence: Save dual-writes
// to every member, Load returns the first hit. Write
// failures degrade to "resolved this page load only" and are never surfaced.
type Chain struct {
	stores []Store
	log    *zap.Logger
}

func NewChain(log *zap.Logger, stores ...Store) *Chain {
	return &Chain{stores: stores, log: log.With(zap.String("module", "attribution"))}
}

func (c *Chain) Load(ctx context.Context, visitorID string) (*ReferralState, error) {
	for _, s := range c.stores {
		state, err := s.Load(ctx, visitorID)
		if err != nil {
			c.log.Debug("attribution store load failed, trying next", zap.Error(err))
			continue
		}
		if state != nil {
			return state, nil
		}
	}
	return nil, nil
}

func (c *Chain) Save(ctx context.Context, visitorID string, state *ReferralState) error {
	for _, s := range c.stores {
		if err := s.Save(ctx, visitorID, state); err != nil {
			c.log.Debug("attribution store save failed", zap.Error(err))
		}
	}
	return nil
}
