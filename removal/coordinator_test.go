package removal_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesboard/salesboard/internal/testutils"
	"github.com/salesboard/salesboard/models"
	"github.com/salesboard/salesboard/policy"
	"github.com/salesboard/salesboard/removal"
)

var (
	admin = policy.Identity{UserID: "u3", AccountType: models.AccountTypeAdmin, Resolved: true}
	rep   = policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}
)

func seededStore(t *testing.T) *testutils.MemoryStore {
	t.Helper()

	store := testutils.NewMemoryStore()
	users, deals, targets := testutils.SeedTeam(time.Now())
	store.Seed(users, deals, targets)

	return store
}

func TestRemoveUserCascades(t *testing.T) {
	store := seededStore(t)

	var usersRefreshed, metricsRefreshed atomic.Int32

	c := removal.NewCoordinator(store,
		func(context.Context) error { usersRefreshed.Add(1); return nil },
		func(context.Context) error { metricsRefreshed.Add(1); return nil },
	)

	err := c.RemoveUser(context.Background(), admin, "u1", true)
	require.NoError(t, err)

	users, err := store.Users().Select(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)

	deals, err := store.Deals().Select(context.Background(), models.DealSelectParams{})
	require.NoError(t, err)

	for _, d := range deals {
		assert.NotEqual(t, "u1", d.UserID, "deal %s survived the cascade", d.ID)
	}

	assert.Equal(t, int32(1), usersRefreshed.Load())
	assert.Equal(t, int32(1), metricsRefreshed.Load())
}

func TestRemoveUserUnauthorized(t *testing.T) {
	store := seededStore(t)

	c := removal.NewCoordinator(store, refuse(t), refuse(t))

	err := c.RemoveUser(context.Background(), rep, "u2", true)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	err = c.RemoveUser(context.Background(), admin, "u3", true)
	assert.ErrorIs(t, err, models.ErrUnauthorized, "self removal denied")

	users, selErr := store.Users().Select(context.Background())
	require.NoError(t, selErr)
	assert.Len(t, users, 3, "nothing removed")
}

func TestRemoveUserRequiresConfirmation(t *testing.T) {
	store := seededStore(t)

	c := removal.NewCoordinator(store, refuse(t), refuse(t))

	err := c.RemoveUser(context.Background(), admin, "u1", false)
	assert.ErrorIs(t, err, models.ErrNotConfirmed)

	users, selErr := store.Users().Select(context.Background())
	require.NoError(t, selErr)
	assert.Len(t, users, 3)
}

func TestRemoveUserStoreFailure(t *testing.T) {
	store := seededStore(t)
	store.CascadeErr = errors.New("deadlock detected")

	c := removal.NewCoordinator(store, refuse(t), refuse(t))

	err := c.RemoveUser(context.Background(), admin, "u1", true)

	var serr *models.StoreError

	require.ErrorAs(t, err, &serr)
}

func TestRemoveUserMissingTarget(t *testing.T) {
	store := seededStore(t)

	c := removal.NewCoordinator(store, refuse(t), refuse(t))

	err := c.RemoveUser(context.Background(), admin, "nope", true)
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestBothRefreshesRunWhenOneFails(t *testing.T) {
	store := seededStore(t)

	var metricsRefreshed atomic.Int32

	c := removal.NewCoordinator(store,
		func(context.Context) error { return errors.New("users view unavailable") },
		func(context.Context) error { metricsRefreshed.Add(1); return nil },
	)

	err := c.RemoveUser(context.Background(), admin, "u1", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user removed")

	assert.Equal(t, int32(1), metricsRefreshed.Load(), "metrics refresh ran despite users refresh failing")

	users, selErr := store.Users().Select(context.Background())
	require.NoError(t, selErr)
	assert.Len(t, users, 2, "removal itself went through")
}

func TestBothRefreshFailuresReported(t *testing.T) {
	store := seededStore(t)

	usersErr := errors.New("users boom")
	metricsErr := errors.New("metrics boom")

	c := removal.NewCoordinator(store,
		func(context.Context) error { return usersErr },
		func(context.Context) error { return metricsErr },
	)

	err := c.RemoveUser(context.Background(), admin, "u1", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, usersErr)
	assert.ErrorIs(t, err, metricsErr)
}

// refuse returns a refresh func that fails the test when called; used
// where the removal must abort before touching any view.
func refuse(t *testing.T) func(context.Context) error {
	t.Helper()

	return func(context.Context) error {
		t.Error("refresh ran for an aborted removal")

		return nil
	}
}
