// Package testutils provides an in-memory record store and seed data
// for tests.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/salesboard/salesboard/models"
)

// MemoryStore implements models.Store in memory. Optional error hooks
// let tests inject store failures per operation.
type MemoryStore struct {
	mu      sync.Mutex
	users   []models.User
	deals   []models.Deal
	targets []models.Target

	// OnChange, if set, runs after every successful mutation with the
	// affected table name (users, deals, targets).
	OnChange func(table string)

	// Error hooks. A non-nil value makes the matching operation fail.
	SelectUsersErr   error
	SelectDealsErr   error
	SelectTargetsErr error
	CreateDealErr    error
	CascadeErr       error

	// CreateDealHook, if set, runs before every deal write. Tests use
	// it to hold a submission in flight.
	CreateDealHook func()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Seed replaces the store contents.
func (s *MemoryStore) Seed(users []models.User, deals []models.Deal, targets []models.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = append([]models.User(nil), users...)
	s.deals = append([]models.Deal(nil), deals...)
	s.targets = append([]models.Target(nil), targets...)
}

func (s *MemoryStore) Users() models.UserRepository     { return (*memoryUsers)(s) }
func (s *MemoryStore) Deals() models.DealRepository     { return (*memoryDeals)(s) }
func (s *MemoryStore) Targets() models.TargetRepository { return (*memoryTargets)(s) }

func (s *MemoryStore) RemoveUserCascade(_ context.Context, userID string) error {
	if s.CascadeErr != nil {
		return s.CascadeErr
	}

	s.mu.Lock()

	idx := -1

	for i := range s.users {
		if s.users[i].ID == userID {
			idx = i
			break
		}
	}

	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}

	s.users = append(s.users[:idx], s.users[idx+1:]...)

	kept := s.deals[:0]

	for i := range s.deals {
		if s.deals[i].UserID != userID {
			kept = append(kept, s.deals[i])
		}
	}

	s.deals = kept
	s.mu.Unlock()

	s.changed("deals")
	s.changed("users")

	return nil
}

func (s *MemoryStore) changed(table string) {
	if s.OnChange != nil {
		s.OnChange(table)
	}
}

type memoryUsers MemoryStore

func (m *memoryUsers) GetByID(_ context.Context, id string) (models.User, error) {
	s := (*MemoryStore)(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.users {
		if s.users[i].ID == id {
			return s.users[i], nil
		}
	}

	return models.User{}, fmt.Errorf("%w: %s", models.ErrUserNotFound, id)
}

func (m *memoryUsers) Select(_ context.Context) ([]models.User, error) {
	s := (*MemoryStore)(m)

	if s.SelectUsersErr != nil {
		return nil, s.SelectUsersErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.User(nil), s.users...), nil
}

func (m *memoryUsers) Create(_ context.Context, user *models.User) error {
	s := (*MemoryStore)(m)

	if err := user.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.users = append(s.users, *user)
	s.mu.Unlock()

	s.changed("users")

	return nil
}

type memoryDeals MemoryStore

func (m *memoryDeals) Create(_ context.Context, deal *models.Deal) error {
	s := (*MemoryStore)(m)

	if s.CreateDealErr != nil {
		return s.CreateDealErr
	}

	if s.CreateDealHook != nil {
		s.CreateDealHook()
	}

	if err := deal.Validate(); err != nil {
		return err
	}

	s.mu.Lock()

	found := false

	for i := range s.users {
		if s.users[i].ID == deal.UserID {
			found = true
			break
		}
	}

	if !found {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrUserNotFound, deal.UserID)
	}

	s.deals = append(s.deals, *deal)
	s.mu.Unlock()

	s.changed("deals")

	return nil
}

func (m *memoryDeals) Delete(_ context.Context, id string) error {
	s := (*MemoryStore)(m)

	s.mu.Lock()

	for i := range s.deals {
		if s.deals[i].ID == id {
			s.deals = append(s.deals[:i], s.deals[i+1:]...)
			s.mu.Unlock()
			s.changed("deals")

			return nil
		}
	}

	s.mu.Unlock()

	return fmt.Errorf("%w: %s", models.ErrDealNotFound, id)
}

func (m *memoryDeals) Select(_ context.Context, params models.DealSelectParams) ([]models.Deal, error) {
	s := (*MemoryStore)(m)

	if s.SelectDealsErr != nil {
		return nil, s.SelectDealsErr
	}

	s.mu.Lock()

	ans := make([]models.Deal, 0, len(s.deals))

	for i := range s.deals {
		if params.UserID != "" && s.deals[i].UserID != params.UserID {
			continue
		}

		ans = append(ans, s.deals[i])
	}

	s.mu.Unlock()

	sort.SliceStable(ans, func(i, j int) bool {
		return ans[i].CreatedAt.After(ans[j].CreatedAt)
	})

	if params.Limit > 0 && len(ans) > params.Limit {
		ans = ans[:params.Limit]
	}

	return ans, nil
}

type memoryTargets MemoryStore

func (m *memoryTargets) Create(_ context.Context, target *models.Target) error {
	s := (*MemoryStore)(m)

	if err := target.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.targets = append(s.targets, *target)
	s.mu.Unlock()

	s.changed("targets")

	return nil
}

func (m *memoryTargets) Select(_ context.Context) ([]models.Target, error) {
	s := (*MemoryStore)(m)

	if s.SelectTargetsErr != nil {
		return nil, s.SelectTargetsErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Target(nil), s.targets...), nil
}

// SeedTeam returns the canonical three-person team used across tests:
// two reps and one admin, with Bob ahead of Alice on closed deals.
func SeedTeam(now time.Time) ([]models.User, []models.Deal, []models.Target) {
	users := []models.User{
		{ID: "u1", Name: "Alice", AccountType: models.AccountTypeRep, CreatedAt: now},
		{ID: "u2", Name: "Bob", AccountType: models.AccountTypeRep, CreatedAt: now},
		{ID: "u3", Name: "Admin", AccountType: models.AccountTypeAdmin, CreatedAt: now},
	}

	deals := []models.Deal{
		{ID: "d1", UserID: "u1", ClientName: "Acme", Value: 100, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "d2", UserID: "u1", ClientName: "Globex", Value: 50, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "d3", UserID: "u2", ClientName: "Initech", Value: 200, CreatedAt: now.Add(-time.Hour)},
	}

	targets := []models.Target{
		{ID: "t1", TargetValue: 500, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "t2", TargetValue: 800, CreatedAt: now.Add(-24 * time.Hour)},
	}

	return users, deals, targets
}
