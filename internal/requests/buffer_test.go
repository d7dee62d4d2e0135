package requests

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositLifecycle(t *testing.T) {
	b := NewBuffer()
	now := time.Now()

	id, err := b.AddDeposit(1, sdkmath.NewInt(500), sdkmath.NewInt(490), now)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, sdkmath.NewInt(500), b.EscrowedPrincipal())
	assert.Equal(t, 1, b.PendingDeposits())

	request, err := b.GetDeposit(id)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500), request.Amount)
	assert.Equal(t, now, request.CreatedAt)

	taken, err := b.TakeDeposit(id)
	require.NoError(t, err)
	assert.Equal(t, request, taken)
	assert.True(t, b.EscrowedPrincipal().IsZero())

	// The entry is gone: execution and cancellation cannot both happen.
	_, err = b.TakeDeposit(id)
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestWithdrawLifecycle(t *testing.T) {
	b := NewBuffer()
	now := time.Now()

	id, err := b.AddWithdraw(7, sdkmath.NewInt(100), sdkmath.NewInt(95), now)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, sdkmath.NewInt(100), b.EscrowedShares())

	taken, err := b.TakeWithdraw(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), taken.ReceiptID)
	assert.True(t, b.EscrowedShares().IsZero())
}

func TestIndependentIDSequences(t *testing.T) {
	b := NewBuffer()
	now := time.Now()

	d1, _ := b.AddDeposit(1, sdkmath.NewInt(10), sdkmath.ZeroInt(), now)
	w1, _ := b.AddWithdraw(1, sdkmath.NewInt(10), sdkmath.ZeroInt(), now)
	d2, _ := b.AddDeposit(1, sdkmath.NewInt(10), sdkmath.ZeroInt(), now)

	assert.Equal(t, uint64(1), d1)
	assert.Equal(t, uint64(1), w1)
	assert.Equal(t, uint64(2), d2)
}

func TestAddValidation(t *testing.T) {
	b := NewBuffer()
	now := time.Now()

	_, err := b.AddDeposit(1, sdkmath.ZeroInt(), sdkmath.ZeroInt(), now)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = b.AddWithdraw(1, sdkmath.NewInt(-5), sdkmath.ZeroInt(), now)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = b.AddDeposit(1, sdkmath.NewInt(5), sdkmath.NewInt(-1), now)
	require.ErrorIs(t, err, ErrInvalidRequest)
}
