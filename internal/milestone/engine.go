// Package milestone polls aggregate stats and fires a one-time webhook per
// threshold crossed, deduplicated through persisted achievement markers.
package milestone

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/store"
	"github.com/visitrail/visitrail/internal/webhook"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const achievedKey = "milestone:achieved"

// Tracked stat categories.
const (
	TypeVisitors      = "visitors"
	TypeRegistrations = "registrations"
	TypeReferrals     = "referrals"
)

// Stats is a point-in-time snapshot of the aggregate counters the engine
// checks thresholds against.
type Stats struct {
	Visitors      int `json:"visitors"`
	Registrations int `json:"registrations"`
	Referrals     int `json:"referrals"`
}

// StatsFunc supplies the current snapshot. The engine never computes stats
// itself.
type StatsFunc func(ctx context.Context) (Stats, error)

// Engine runs the periodic milestone check. Achievement markers are persisted
// as a single JSON mapping keyed "{type}_{threshold}", so a marker's presence
// is the dedup signal across restarts.
type Engine struct {
	kv         store.KV
	stats      StatsFunc
	hooks      *webhook.Dispatcher
	thresholds []int
	interval   time.Duration
	log        *zap.Logger
	now        func() time.Time

	mu sync.Mutex
}

func NewEngine(kv store.KV, stats StatsFunc, hooks *webhook.Dispatcher, thresholds []int, interval time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		kv:         kv,
		stats:      stats,
		hooks:      hooks,
		thresholds: thresholds,
		interval:   interval,
		log:        log.With(zap.String("module", "milestone")),
		now:        time.Now,
	}
}

// Run starts the polling schedule and blocks until the context is cancelled.
// An immediate first check runs before the schedule takes over so a restart
// does not wait a full interval to catch up.
func (e *Engine) Run(ctx context.Context) error {
	e.Check(ctx)

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
		e.Check(ctx)
	}); err != nil {
		return fmt.Errorf("schedule milestone check: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Check runs one pass: snapshot stats, fire every threshold newly reached in
// each tracked category, persist the markers. Safe to call concurrently with
// the schedule; checks are serialized.
func (e *Engine) Check(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, err := e.stats(ctx)
	if err != nil {
		e.log.Debug("stats snapshot unavailable", zap.Error(err))
		return
	}

	achieved := e.loadAchieved(ctx)
	fired := false
	for _, cat := range []struct {
		name  string
		value int
	}{
		{TypeVisitors, stats.Visitors},
		{TypeRegistrations, stats.Registrations},
		{TypeReferrals, stats.Referrals},
	} {
		for _, threshold := range e.thresholds {
			if cat.value < threshold {
				continue
			}
			key := fmt.Sprintf("%s_%d", cat.name, threshold)
			if _, done := achieved[key]; done {
				continue
			}
			e.fire(ctx, cat.name, threshold, stats)
			achieved[key] = e.now().UTC().Format(time.RFC3339)
			fired = true
		}
	}
	if fired {
		e.saveAchieved(ctx, achieved)
	}
}

func (e *Engine) fire(ctx context.Context, milestoneType string, threshold int, stats Stats) {
	e.log.Info("milestone achieved",
		zap.String("type", milestoneType),
		zap.Int("value", threshold),
	)
	milestonesFired.WithLabelValues(milestoneType).Inc()
	e.hooks.SendSync(ctx, webhook.EventMilestoneAchieved, map[string]any{
		"milestone": map[string]any{
			"type":  milestoneType,
			"value": threshold,
		},
		"stats": stats,
	})
}

func (e *Engine) loadAchieved(ctx context.Context) map[string]string {
	achieved := map[string]string{}
	raw, ok, err := e.kv.Get(ctx, achievedKey)
	if err != nil || !ok {
		return achieved
	}
	if err := json.Unmarshal([]byte(raw), &achieved); err != nil {
		e.log.Debug("discarding unreadable milestone markers", zap.Error(err))
		return map[string]string{}
	}
	return achieved
}

func (e *Engine) saveAchieved(ctx context.Context, achieved map[string]string) {
	raw, err := json.Marshal(achieved)
	if err != nil {
		return
	}
	if err := e.kv.Set(ctx, achievedKey, string(raw), 0); err != nil {
		e.log.Debug("milestone markers not persisted", zap.Error(err))
	}
}
