package models

import "context"

// DealSelectParams filters deal queries. Results are always ordered by
// created_at descending (newest first).
type DealSelectParams struct {
	UserID string
	Limit  int
}

// UserRepository manages user profiles
type UserRepository interface {
	GetByID(ctx context.Context, id string) (User, error)
	Select(ctx context.Context) ([]User, error)
	Create(ctx context.Context, user *User) error
}

// DealRepository manages sales deals
type DealRepository interface {
	Create(ctx context.Context, deal *Deal) error
	Delete(ctx context.Context, id string) error
	Select(ctx context.Context, params DealSelectParams) ([]Deal, error)
}

// TargetRepository manages the append-only quarterly target log
type TargetRepository interface {
	Create(ctx context.Context, target *Target) error
	Select(ctx context.Context) ([]Target, error)
}

// Store is the record store the dashboard consumes. RemoveUserCascade
// deletes a user together with every deal they own as a single atomic
// operation from the caller's perspective.
type Store interface {
	Users() UserRepository
	Deals() DealRepository
	Targets() TargetRepository
	RemoveUserCascade(ctx context.Context, userID string) error
}
