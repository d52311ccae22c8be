package models

import (
	"errors"
	"time"
)

const (
	AccountTypeRep   = "rep"
	AccountTypeAdmin = "admin"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrDealNotFound = errors.New("deal not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotConfirmed = errors.New("removal not confirmed")
)

// User is a team member. Accounts are provisioned out-of-band; the
// dashboard only reads them and removes them through the cascade path.
type User struct {
	ID          string
	Name        string
	AccountType string
	CreatedAt   time.Time
}

func (u *User) IsAdmin() bool {
	return u.AccountType == AccountTypeAdmin
}

func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("missing id")
	}

	if u.Name == "" {
		return errors.New("missing name")
	}

	if u.AccountType != AccountTypeRep && u.AccountType != AccountTypeAdmin {
		return errors.New("invalid account type")
	}

	return nil
}

// Deal is a single recorded sale attributed to one user. Deals are
// immutable after creation; they only go away via an admin delete or
// when their owner is removed.
type Deal struct {
	ID         string
	UserID     string
	ClientName string
	Value      float64
	CreatedAt  time.Time
}

func (d *Deal) Validate() error {
	if d.ID == "" {
		return errors.New("missing id")
	}

	if d.UserID == "" {
		return errors.New("missing user id")
	}

	if d.ClientName == "" {
		return errors.New("missing client name")
	}

	if d.Value < 0 {
		return errors.New("negative value")
	}

	return nil
}

// Target is an admin-set quarterly sales goal. The targets table is an
// append-only log; the newest row is the active target.
type Target struct {
	ID          string
	TargetValue float64
	CreatedAt   time.Time
}

func (t *Target) Validate() error {
	if t.ID == "" {
		return errors.New("missing id")
	}

	if t.TargetValue < 0 {
		return errors.New("negative target value")
	}

	return nil
}

// Metric is the derived per-user sales aggregate. It is recomputed from
// users and deals on every refresh and never persisted.
type Metric struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	AccountType string  `json:"account_type"`
	TotalSales  float64 `json:"total_sales"`
}
