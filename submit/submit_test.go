package submit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesboard/salesboard/internal/testutils"
	"github.com/salesboard/salesboard/models"
	"github.com/salesboard/salesboard/policy"
	"github.com/salesboard/salesboard/submit"
)

func newTestForm(t *testing.T) (*submit.Form, *testutils.MemoryStore) {
	t.Helper()

	store := testutils.NewMemoryStore()
	users, deals, targets := testutils.SeedTeam(time.Now())
	store.Seed(users, deals, targets)

	usersNow := func() []models.User {
		ans, err := store.Users().Select(context.Background())
		require.NoError(t, err)

		return ans
	}

	return submit.NewForm(store.Deals(), usersNow, nil), store
}

func dealCount(t *testing.T, store *testutils.MemoryStore) int {
	t.Helper()

	deals, err := store.Deals().Select(context.Background(), models.DealSelectParams{})
	require.NoError(t, err)

	return len(deals)
}

func TestSubmitSuccess(t *testing.T) {
	form, store := newTestForm(t)
	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	err := form.Submit(context.Background(), rep, submit.Input{
		UserID:     "u1",
		ClientName: "Hooli",
		Value:      300,
	})

	require.NoError(t, err)
	assert.Equal(t, submit.StateSuccess, form.State())
	assert.NoError(t, form.Err())
	assert.Equal(t, 4, dealCount(t, store))
}

func TestSubmitRunsCallbackOnSuccess(t *testing.T) {
	store := testutils.NewMemoryStore()
	users, _, _ := testutils.SeedTeam(time.Now())
	store.Seed(users, nil, nil)

	var submitted int

	usersNow := func() []models.User { return users }
	form := submit.NewForm(store.Deals(), usersNow, func() { submitted++ })

	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	err := form.Submit(context.Background(), rep, submit.Input{UserID: "u1", ClientName: "Hooli", Value: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, submitted)

	// No callback on failure.
	err = form.Submit(context.Background(), rep, submit.Input{UserID: "u1", ClientName: "", Value: 1})
	require.Error(t, err)
	assert.Equal(t, 1, submitted)
}

func TestSubmitUnauthorized(t *testing.T) {
	form, store := newTestForm(t)
	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	err := form.Submit(context.Background(), rep, submit.Input{
		UserID:     "u2",
		ClientName: "Hooli",
		Value:      300,
	})

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, submit.StateFailed, form.State())
	assert.Equal(t, 3, dealCount(t, store), "no deal written")
}

func TestSubmitAdminForOtherUser(t *testing.T) {
	form, store := newTestForm(t)
	admin := policy.Identity{UserID: "u3", AccountType: models.AccountTypeAdmin, Resolved: true}

	err := form.Submit(context.Background(), admin, submit.Input{
		UserID:     "u2",
		ClientName: "Hooli",
		Value:      300,
	})

	require.NoError(t, err)
	assert.Equal(t, 4, dealCount(t, store))
}

func TestSubmitValidation(t *testing.T) {
	form, store := newTestForm(t)
	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	cases := []struct {
		name string
		in   submit.Input
	}{
		{name: "missing client name", in: submit.Input{UserID: "u1", Value: 10}},
		{name: "negative value", in: submit.Input{UserID: "u1", ClientName: "Hooli", Value: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := form.Submit(context.Background(), rep, tc.in)

			var verr *models.ValidationError

			require.ErrorAs(t, err, &verr)
			assert.Equal(t, submit.StateFailed, form.State())
			assert.Equal(t, 3, dealCount(t, store))
		})
	}
}

func TestSubmitValidatesAgainstCurrentUsers(t *testing.T) {
	store := testutils.NewMemoryStore()
	users, _, _ := testutils.SeedTeam(time.Now())
	store.Seed(users, nil, nil)

	// The user list the form sees shrinks after construction.
	current := users

	form := submit.NewForm(store.Deals(), func() []models.User { return current }, nil)

	admin := policy.Identity{UserID: "u3", AccountType: models.AccountTypeAdmin, Resolved: true}

	current = []models.User{users[1], users[2]} // u1 removed

	err := form.Submit(context.Background(), admin, submit.Input{
		UserID:     "u1",
		ClientName: "Hooli",
		Value:      10,
	})

	var verr *models.ValidationError

	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid user selected", verr.Reason)
	assert.Equal(t, 0, dealCount(t, store))
}

func TestSubmitMapsStoreReferenceFailureToValidation(t *testing.T) {
	store := testutils.NewMemoryStore()
	users, _, _ := testutils.SeedTeam(time.Now())
	store.Seed(users, nil, nil)
	store.CreateDealErr = models.ErrUserNotFound

	form := submit.NewForm(store.Deals(), func() []models.User { return users }, nil)

	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	err := form.Submit(context.Background(), rep, submit.Input{UserID: "u1", ClientName: "Hooli", Value: 10})

	var verr *models.ValidationError

	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid user selected", verr.Reason)
}

func TestSubmitStoreFailure(t *testing.T) {
	store := testutils.NewMemoryStore()
	users, _, _ := testutils.SeedTeam(time.Now())
	store.Seed(users, nil, nil)
	store.CreateDealErr = errors.New("connection reset")

	form := submit.NewForm(store.Deals(), func() []models.User { return users }, nil)

	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	err := form.Submit(context.Background(), rep, submit.Input{UserID: "u1", ClientName: "Hooli", Value: 10})

	var serr *models.StoreError

	require.ErrorAs(t, err, &serr)
	assert.Equal(t, submit.StateFailed, form.State())
	assert.Equal(t, err, form.Err())
}

func TestSubmitRejectsSecondInFlight(t *testing.T) {
	store := testutils.NewMemoryStore()
	users, _, _ := testutils.SeedTeam(time.Now())
	store.Seed(users, nil, nil)

	release := make(chan struct{})
	started := make(chan struct{})

	var once sync.Once

	// usersNow blocks the first submission inside the pending state.
	usersNow := func() []models.User {
		once.Do(func() { close(started) })
		<-release

		return users
	}

	form := submit.NewForm(store.Deals(), usersNow, nil)

	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = form.Submit(context.Background(), rep, submit.Input{UserID: "u1", ClientName: "Hooli", Value: 1})
	}()

	<-started

	assert.Equal(t, submit.StatePending, form.State())

	err := form.Submit(context.Background(), rep, submit.Input{UserID: "u1", ClientName: "Hooli", Value: 1})
	assert.ErrorIs(t, err, submit.ErrSubmissionInFlight)

	close(release)
	wg.Wait()

	assert.Equal(t, submit.StateSuccess, form.State())
	assert.Equal(t, 1, dealCount(t, store), "the rejected attempt wrote nothing")
}

func TestFailedStateIsNotSticky(t *testing.T) {
	form, _ := newTestForm(t)
	rep := policy.Identity{UserID: "u1", AccountType: models.AccountTypeRep, Resolved: true}

	err := form.Submit(context.Background(), rep, submit.Input{UserID: "u1", Value: 10})
	require.Error(t, err)
	require.Equal(t, submit.StateFailed, form.State())

	err = form.Submit(context.Background(), rep, submit.Input{UserID: "u1", ClientName: "Hooli", Value: 10})
	require.NoError(t, err)
	assert.Equal(t, submit.StateSuccess, form.State())
	assert.NoError(t, form.Err())
}
