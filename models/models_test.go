package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesboard/salesboard/models"
)

func TestUserValidate(t *testing.T) {
	user := models.User{ID: "u1", Name: "Alice", AccountType: models.AccountTypeRep, CreatedAt: time.Now()}
	assert.NoError(t, user.Validate())

	assert.Error(t, (&models.User{Name: "Alice", AccountType: models.AccountTypeRep}).Validate())
	assert.Error(t, (&models.User{ID: "u1", AccountType: models.AccountTypeRep}).Validate())
	assert.Error(t, (&models.User{ID: "u1", Name: "Alice", AccountType: "boss"}).Validate())
}

func TestDealValidate(t *testing.T) {
	deal := models.Deal{ID: "d1", UserID: "u1", ClientName: "Acme", Value: 10}
	assert.NoError(t, deal.Validate())

	deal.Value = -1
	assert.Error(t, deal.Validate())

	assert.Error(t, (&models.Deal{ID: "d1", UserID: "u1", Value: 10}).Validate())
	assert.Error(t, (&models.Deal{ID: "d1", ClientName: "Acme", Value: 10}).Validate())
}

func TestTargetValidate(t *testing.T) {
	assert.NoError(t, (&models.Target{ID: "t1", TargetValue: 500}).Validate())
	assert.NoError(t, (&models.Target{ID: "t1", TargetValue: 0}).Validate())
	assert.Error(t, (&models.Target{TargetValue: 500}).Validate())
	assert.Error(t, (&models.Target{ID: "t1", TargetValue: -1}).Validate())
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, (&models.User{AccountType: models.AccountTypeAdmin}).IsAdmin())
	assert.False(t, (&models.User{AccountType: models.AccountTypeRep}).IsAdmin())
}

func TestStoreErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &models.StoreError{Op: "create deal", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "create deal")
}

func TestValidationError(t *testing.T) {
	err := models.NewValidationError("invalid %s", "input")

	var verr *models.ValidationError

	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid input", verr.Reason)
}
