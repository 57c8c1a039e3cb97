package server

import (
	"context"
	"strconv"
	"sync"

	"github.com/visitrail/visitrail/internal/milestone"
	"github.com/visitrail/visitrail/internal/store"
)

// Aggregate counter names, doubling as KV key suffixes.
const (
	CounterVisitors      = "visitors"
	CounterRegistrations = "registrations"
	CounterReferrals     = "referrals"
)

// StatsStore keeps the aggregate counters the milestone engine polls. The
// backing KV has no atomic increment, so read-modify-write is serialized
// behind a mutex; this process is the single writer for these keys.
type StatsStore struct {
	kv store.KV
	mu sync.Mutex
}

func NewStatsStore(kv store.KV) *StatsStore {
	return &StatsStore{kv: kv}
}

// Increment bumps one counter. Storage failures are swallowed; the counter
// resumes from its last persisted value.
func (s *StatsStore) Increment(ctx context.Context, counter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.read(ctx, counter)
	_ = s.kv.Set(ctx, statsKey(counter), strconv.Itoa(n+1), 0)
}

// Snapshot is the StatsFunc the milestone engine polls.
func (s *StatsStore) Snapshot(ctx context.Context) (milestone.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return milestone.Stats{
		Visitors:      s.read(ctx, CounterVisitors),
		Registrations: s.read(ctx, CounterRegistrations),
		Referrals:     s.read(ctx, CounterReferrals),
	}, nil
}

func (s *StatsStore) read(ctx context.Context, counter string) int {
	raw, ok, err := s.kv.Get(ctx, statsKey(counter))
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func statsKey(counter string) string {
	return "stats:" + counter
}
