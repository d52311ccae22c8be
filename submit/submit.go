// Package submit governs the lifecycle of a single in-flight deal
// submission.
package submit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/salesboard/salesboard/models"
	"github.com/salesboard/salesboard/policy"
)

type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// ErrSubmissionInFlight is returned while a previous submission on the
// same form instance is still pending; the caller keeps the submit
// control disabled rather than retrying.
var ErrSubmissionInFlight = errors.New("submission already in flight")

// Input is one deal submission as it arrives from the form.
type Input struct {
	UserID     string  `validate:"required"`
	ClientName string  `validate:"required"`
	Value      float64 `validate:"gte=0"`
}

// Form is the deal submission state machine:
//
//	Idle -> Pending -> Success | Failed
//
// and back to Pending on the next attempt; a Failed state is not sticky.
// The valid-user set is read through usersNow at submission time, never
// captured at construction, so a long-lived form does not validate
// against stale team membership.
type Form struct {
	deals       models.DealRepository
	usersNow    func() []models.User
	onSubmitted func()
	validate    *validator.Validate
	now         func() time.Time

	mu      sync.Mutex
	state   State
	lastErr error
}

// NewForm builds a form writing through deals. usersNow must return the
// most recently fetched user list. onSubmitted, if set, runs after every
// successful write so dependent aggregates refresh immediately instead
// of waiting for the change-event round trip.
func NewForm(deals models.DealRepository, usersNow func() []models.User, onSubmitted func()) *Form {
	return &Form{
		deals:       deals,
		usersNow:    usersNow,
		onSubmitted: onSubmitted,
		validate:    validator.New(),
		now:         time.Now,
		state:       StateIdle,
	}
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// Err returns the user-facing reason of the last failed submission, or
// nil when the form is not in the Failed state.
func (f *Form) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateFailed {
		return nil
	}

	return f.lastErr
}

// Submit runs one submission attempt. At most one submission is in
// flight per form instance; concurrent calls get ErrSubmissionInFlight
// without touching the store.
func (f *Form) Submit(ctx context.Context, identity policy.Identity, in Input) error {
	f.mu.Lock()

	if f.state == StatePending {
		f.mu.Unlock()
		return ErrSubmissionInFlight
	}

	f.state = StatePending
	f.lastErr = nil
	f.mu.Unlock()

	err := f.submit(ctx, identity, in)

	f.mu.Lock()
	if err != nil {
		f.state = StateFailed
		f.lastErr = err
	} else {
		f.state = StateSuccess
	}
	f.mu.Unlock()

	if err == nil && f.onSubmitted != nil {
		f.onSubmitted()
	}

	return err
}

func (f *Form) submit(ctx context.Context, identity policy.Identity, in Input) error {
	if !policy.CanSubmitDealFor(identity, in.UserID) {
		return models.ErrUnauthorized
	}

	if err := f.validate.Struct(in); err != nil {
		return models.NewValidationError("invalid submission: %v", err)
	}

	user, ok := f.findUser(in.UserID)
	if !ok {
		return models.NewValidationError("invalid user selected")
	}

	deal := models.Deal{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		ClientName: in.ClientName,
		Value:      in.Value,
		CreatedAt:  f.now().UTC(),
	}

	if err := f.deals.Create(ctx, &deal); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			// The store rejected the reference: the user vanished
			// between validation and write.
			return models.NewValidationError("invalid user selected")
		}

		return &models.StoreError{Op: "create deal", Err: err}
	}

	return nil
}

func (f *Form) findUser(id string) (models.User, bool) {
	for _, u := range f.usersNow() {
		if u.ID == id {
			return u, true
		}
	}

	return models.User{}, false
}
