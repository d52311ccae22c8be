// Package policy derives record visibility and mutation rights from the
// authenticated identity. The zero Identity grants nothing: a session
// that has not resolved yet is treated as unauthorized rather than
// falling open.
package policy

import "github.com/salesboard/salesboard/models"

// Identity is the authenticated principal as the session layer resolved
// it. The dashboard treats it as an opaque read-only input.
type Identity struct {
	UserID      string
	AccountType string
	Resolved    bool
}

// FromUser builds a resolved identity from a user profile.
func FromUser(u models.User) Identity {
	return Identity{
		UserID:      u.ID,
		AccountType: u.AccountType,
		Resolved:    u.ID != "",
	}
}

// CanViewAllRecords reports whether the identity may see the admin-only
// views (team management, activity feed, target setting).
func CanViewAllRecords(id Identity) bool {
	return id.Resolved && id.AccountType == models.AccountTypeAdmin
}

// CanSubmitDealFor reports whether the identity may log a deal on behalf
// of candidateUserID. Reps submit only for themselves; admins for anyone.
func CanSubmitDealFor(id Identity, candidateUserID string) bool {
	if !id.Resolved || candidateUserID == "" {
		return false
	}

	switch id.AccountType {
	case models.AccountTypeAdmin:
		return true
	case models.AccountTypeRep:
		return candidateUserID == id.UserID
	default:
		return false
	}
}

func CanSetTarget(id Identity) bool {
	return id.Resolved && id.AccountType == models.AccountTypeAdmin
}

// CanRemoveUser reports whether the identity may remove targetUserID and
// all of their deals. Admins may remove anyone but themselves through
// this path.
func CanRemoveUser(id Identity, targetUserID string) bool {
	if !id.Resolved || targetUserID == "" {
		return false
	}

	if id.AccountType != models.AccountTypeAdmin {
		return false
	}

	return targetUserID != id.UserID
}

func CanDeleteDeal(id Identity) bool {
	return id.Resolved && id.AccountType == models.AccountTypeAdmin
}

// Capabilities is the full set of capability flags for one identity, in
// the shape the presentation layer consumes. Controls whose flag is
// false must not be rendered at all.
type Capabilities struct {
	ViewAllRecords  bool `json:"view_all_records"`
	SubmitForOthers bool `json:"submit_for_others"`
	SetTarget       bool `json:"set_target"`
	RemoveUsers     bool `json:"remove_users"`
	DeleteDeals     bool `json:"delete_deals"`
}

func CapabilitiesFor(id Identity) Capabilities {
	if !id.Resolved {
		return Capabilities{}
	}

	admin := id.AccountType == models.AccountTypeAdmin

	return Capabilities{
		ViewAllRecords:  admin,
		SubmitForOthers: admin,
		SetTarget:       admin,
		RemoveUsers:     admin,
		DeleteDeals:     admin,
	}
}
