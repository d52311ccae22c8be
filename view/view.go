// Package view holds the dashboard's read replicas. Each view owns its
// own dispatcher subscription and its own cached copy of the underlying
// aggregate; on every notification it re-reads the store and recomputes,
// so derived totals are never carried across change events. A failed
// refresh keeps the last good snapshot and records the error; one view's
// failure never blocks another view's refresh cycle.
package view

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/salesboard/salesboard/dispatch"
	"github.com/salesboard/salesboard/metrics"
	"github.com/salesboard/salesboard/models"
)

// Board replicates the aggregated metrics, the user list, and the
// active target for the main dashboard view.
type Board struct {
	store models.Store
	log   *zap.Logger

	sub *dispatch.Subscription

	mu          sync.RWMutex
	users       []models.User
	metrics     []models.Metric
	target      float64
	hasTarget   bool
	refreshedAt time.Time
	lastErr     error
}

// BoardSnapshot is a point-in-time copy safe for the caller to keep.
type BoardSnapshot struct {
	Metrics     []models.Metric `json:"metrics"`
	Leaderboard []models.Metric `json:"leaderboard"`
	Target      float64         `json:"target"`
	HasTarget   bool            `json:"has_target"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

func NewBoard(store models.Store, log *zap.Logger) *Board {
	if log == nil {
		log = zap.NewNop()
	}

	return &Board{store: store, log: log}
}

// Attach subscribes the board to change notifications. Refreshes
// triggered by the subscription use ctx; Close releases the
// subscription.
func (b *Board) Attach(ctx context.Context, d *dispatch.Dispatcher) {
	b.sub = d.Subscribe(
		[]dispatch.Topic{dispatch.TopicDeals, dispatch.TopicTargets, dispatch.TopicUsers},
		func() {
			if err := b.Refresh(ctx); err != nil {
				b.log.Warn("board refresh failed", zap.Error(err))
			}
		},
	)
}

// Refresh re-reads users, deals, and targets and recomputes the derived
// aggregates. On error the previous snapshot stays in place.
func (b *Board) Refresh(ctx context.Context) error {
	users, err := b.store.Users().Select(ctx)
	if err != nil {
		return b.fail(err)
	}

	deals, err := b.store.Deals().Select(ctx, models.DealSelectParams{})
	if err != nil {
		return b.fail(err)
	}

	targets, err := b.store.Targets().Select(ctx)
	if err != nil {
		return b.fail(err)
	}

	computed := metrics.Compute(users, deals)
	target, hasTarget := metrics.ActiveTarget(targets)

	b.mu.Lock()
	b.users = users
	b.metrics = computed
	b.target = target
	b.hasTarget = hasTarget
	b.refreshedAt = time.Now()
	b.lastErr = nil
	b.mu.Unlock()

	return nil
}

func (b *Board) fail(err error) error {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	return err
}

func (b *Board) Snapshot() BoardSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BoardSnapshot{
		Metrics:     append([]models.Metric(nil), b.metrics...),
		Leaderboard: metrics.Rank(b.metrics, 0),
		Target:      b.target,
		HasTarget:   b.hasTarget,
		RefreshedAt: b.refreshedAt,
	}
}

// Users returns a copy of the most recently fetched user list. The
// submission form reads through this accessor so it always validates
// against current membership.
func (b *Board) Users() []models.User {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]models.User(nil), b.users...)
}

// Err reports the last refresh failure, nil after a successful refresh.
func (b *Board) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lastErr
}

// Close cancels the board's subscription. No refresh callback fires
// afterwards.
func (b *Board) Close() {
	if b.sub != nil {
		b.sub.Cancel()
	}
}

// ActivityFeed replicates the full deal history, newest first, for the
// admin activity view. It carries its own user-list snapshot so names
// resolve against data from the same refresh as the rows, never against
// another view's replica.
type ActivityFeed struct {
	store models.Store
	log   *zap.Logger

	sub *dispatch.Subscription

	mu          sync.RWMutex
	users       []models.User
	deals       []models.Deal
	refreshedAt time.Time
	lastErr     error
}

func NewActivityFeed(store models.Store, log *zap.Logger) *ActivityFeed {
	if log == nil {
		log = zap.NewNop()
	}

	return &ActivityFeed{store: store, log: log}
}

func (f *ActivityFeed) Attach(ctx context.Context, d *dispatch.Dispatcher) {
	f.sub = d.Subscribe([]dispatch.Topic{dispatch.TopicDeals, dispatch.TopicUsers}, func() {
		if err := f.Refresh(ctx); err != nil {
			f.log.Warn("activity feed refresh failed", zap.Error(err))
		}
	})
}

func (f *ActivityFeed) Refresh(ctx context.Context) error {
	users, err := f.store.Users().Select(ctx)
	if err != nil {
		return f.fail(err)
	}

	deals, err := f.store.Deals().Select(ctx, models.DealSelectParams{})
	if err != nil {
		return f.fail(err)
	}

	f.mu.Lock()
	f.users = users
	f.deals = deals
	f.refreshedAt = time.Now()
	f.lastErr = nil
	f.mu.Unlock()

	return nil
}

func (f *ActivityFeed) fail(err error) error {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()

	return err
}

// Deals returns a copy of the replicated deal list, optionally filtered
// to a selected rep.
func (f *ActivityFeed) Deals(userID string) []models.Deal {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if userID == "" {
		return append([]models.Deal(nil), f.deals...)
	}

	ans := make([]models.Deal, 0, len(f.deals))

	for i := range f.deals {
		if f.deals[i].UserID == userID {
			ans = append(ans, f.deals[i])
		}
	}

	return ans
}

// Users returns a copy of the user list captured by the same refresh
// that produced the deal snapshot.
func (f *ActivityFeed) Users() []models.User {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]models.User(nil), f.users...)
}

func (f *ActivityFeed) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.lastErr
}

func (f *ActivityFeed) Close() {
	if f.sub != nil {
		f.sub.Cancel()
	}
}
