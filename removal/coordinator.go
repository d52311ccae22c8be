// Package removal removes a user and all dependent records as one
// logical operation, then drives the refresh of every view that depends
// on the removed data.
package removal

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/salesboard/salesboard/models"
	"github.com/salesboard/salesboard/policy"
)

// Coordinator deletes a user together with their deals through the
// store's cascade operation. Afterwards it triggers the user-list
// refresh and the metrics refresh: two independent derived views that
// must both observe the removal.
type Coordinator struct {
	store          models.Store
	refreshUsers   func(context.Context) error
	refreshMetrics func(context.Context) error
}

func NewCoordinator(store models.Store, refreshUsers, refreshMetrics func(context.Context) error) *Coordinator {
	return &Coordinator{
		store:          store,
		refreshUsers:   refreshUsers,
		refreshMetrics: refreshMetrics,
	}
}

// RemoveUser removes targetUserID and every deal they own. The caller
// must pass confirmed=true after an explicit destructive-intent
// confirmation; a single ambiguous signal never removes anyone.
func (c *Coordinator) RemoveUser(ctx context.Context, identity policy.Identity, targetUserID string, confirmed bool) error {
	if !policy.CanRemoveUser(identity, targetUserID) {
		return models.ErrUnauthorized
	}

	if !confirmed {
		return models.ErrNotConfirmed
	}

	if err := c.store.RemoveUserCascade(ctx, targetUserID); err != nil {
		return &models.StoreError{Op: "remove user", Err: err}
	}

	// Both refreshes run regardless of each other's outcome; a stale
	// view after a removal is a correctness bug, not cosmetic.
	var usersErr, metricsErr error

	var g errgroup.Group

	g.Go(func() error {
		if c.refreshUsers != nil {
			usersErr = c.refreshUsers(ctx)
		}

		return nil
	})

	g.Go(func() error {
		if c.refreshMetrics != nil {
			metricsErr = c.refreshMetrics(ctx)
		}

		return nil
	})

	_ = g.Wait()

	if err := multierr.Combine(usersErr, metricsErr); err != nil {
		return fmt.Errorf("user removed, refresh incomplete: %w", err)
	}

	return nil
}
