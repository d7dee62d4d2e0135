package vault_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openyield/vault/internal/oracle"
	"github.com/openyield/vault/internal/vault"
)

func TestFirstDepositMintsAtUnitRatio(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 1_000, now)

	id, err := v.RequestDeposit("alice", sdkmath.NewInt(100*oneUnit), sdkmath.NewInt(100*oneBase), now)
	require.NoError(t, err)

	shares, err := v.ExecuteDeposit(operator, id, sdkmath.NewInt(100*oneBase), now)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(100*oneBase), shares)
	assert.Equal(t, sdkmath.NewInt(100*oneBase), v.TotalShares())
	assert.Equal(t, sdkmath.NewInt(100*oneUnit), v.FreePrincipal())
}

func TestDepositRequiresNormalStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 1_000, now)
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	id, err := v.RequestDeposit("bob", sdkmath.NewInt(oneUnit), sdkmath.ZeroInt(), now)
	require.NoError(t, err)

	_, err = v.StartOperation(operator, []string{principal}, now.Add(time.Minute))
	require.NoError(t, err)

	// Neither new requests nor executions are admitted mid-operation.
	_, err = v.RequestDeposit("carol", sdkmath.NewInt(oneUnit), sdkmath.ZeroInt(), now.Add(time.Minute))
	require.ErrorIs(t, err, vault.ErrNotNormal)
	_, err = v.ExecuteDeposit(operator, id, sdkmath.NewInt(oneBase), now.Add(time.Minute))
	require.ErrorIs(t, err, vault.ErrNotNormal)
}

func TestScenarioRatioDriftFailsSlippageAndStaysCancellable(t *testing.T) {
	// Scenario: a deposit is requested at ratio 1.0 expecting 100 shares.
	// Before execution an operator compounding event doubles total value
	// without minting shares (ratio 2.0). Execution must fail with the
	// slippage error, not abort, and the request must remain cancellable.
	now := time.Unix(1_700_000_000, 0)
	v, admin, operator, _ := newTestVault(t, 1_000, now)
	require.NoError(t, v.TrackAsset(admin, "lend-position", now))
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	id, err := v.RequestDeposit("bob", sdkmath.NewInt(100*oneUnit), sdkmath.NewInt(100*oneBase), now)
	require.NoError(t, err)

	// Compounding: the lend position is now worth as much as the principal.
	require.NoError(t, v.RecordValue("lend-position", sdkmath.NewInt(100*oneBase), now.Add(time.Minute)))

	// At ratio 2.0 the deposit only mints 50 shares, below the expected 100.
	_, err = v.ExecuteDeposit(operator, id, sdkmath.NewInt(1_000*oneBase), now.Add(2*time.Minute))
	require.ErrorIs(t, err, vault.ErrSlippage)

	// The request survived the rejection and can be cancelled after the lock.
	refund, err := v.CancelDeposit(id, now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(100*oneUnit), refund)
}

func TestScenarioFreshZeroPriceIsTypedError(t *testing.T) {
	// Scenario: the oracle serves a fresh price of exactly zero. Every
	// downstream division must reject with a typed error, never trap.
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, gateway := newTestVault(t, 1_000, now)

	id, err := v.RequestDeposit("alice", sdkmath.NewInt(100*oneUnit), sdkmath.ZeroInt(), now)
	require.NoError(t, err)

	require.NoError(t, gateway.SetPrice(principal, sdkmath.ZeroInt(), now.Add(time.Minute)))

	_, err = v.ExecuteDeposit(operator, id, sdkmath.NewInt(1_000*oneBase), now.Add(2*time.Minute))
	require.ErrorIs(t, err, oracle.ErrZeroPrice)
}

func TestZeroShareRatioIsRecoverable(t *testing.T) {
	// Shares outstanding against a zero total value (total loss within
	// tolerance) must surface the distinct zero-ratio error on the next
	// deposit attempt, not an arithmetic fault.
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 10_000, now)
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	// Total loss: principal revalued to zero.
	require.NoError(t, v.RecordValue(principal, sdkmath.ZeroInt(), now.Add(time.Minute)))

	id, err := v.RequestDeposit("bob", sdkmath.NewInt(oneUnit), sdkmath.ZeroInt(), now.Add(time.Minute))
	require.NoError(t, err)
	_, err = v.ExecuteDeposit(operator, id, sdkmath.NewInt(oneBase), now.Add(2*time.Minute))
	require.ErrorIs(t, err, vault.ErrZeroShareRatio)

	// Withdrawals hit the same guard.
	wid, err := v.RequestWithdraw("alice", sdkmath.NewInt(oneBase), sdkmath.ZeroInt(), now.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = v.ExecuteWithdraw(operator, wid, sdkmath.NewInt(oneUnit), now.Add(3*time.Minute))
	require.ErrorIs(t, err, vault.ErrZeroShareRatio)
}

func TestWithdrawRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 1_000, now)
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	id, err := v.RequestWithdraw("alice", sdkmath.NewInt(50*oneBase), sdkmath.NewInt(49*oneUnit), now)
	require.NoError(t, err)

	amount, err := v.ExecuteWithdraw(operator, id, sdkmath.NewInt(51*oneUnit), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(50*oneUnit), amount)
	assert.Equal(t, sdkmath.NewInt(50*oneBase), v.TotalShares())
	assert.Equal(t, sdkmath.NewInt(50*oneUnit), v.FreePrincipal())
}

func TestWithdrawExceedingReceiptShares(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 1_000, now)
	deposit(t, v, operator, "alice", 10*oneUnit, now)

	_, err := v.RequestWithdraw("alice", sdkmath.NewInt(11*oneBase), sdkmath.ZeroInt(), now)
	require.Error(t, err)
}

func TestWithdrawInsufficientLiquidity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, admin, operator, _ := newTestVault(t, 1_000, now)
	require.NoError(t, v.TrackAsset(admin, "lend-position", now))
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	// Most of the value sits in the lend position; free principal cannot
	// cover a proportional withdrawal of half the shares.
	require.NoError(t, v.RecordValue("lend-position", sdkmath.NewInt(900*oneBase), now.Add(time.Minute)))

	id, err := v.RequestWithdraw("alice", sdkmath.NewInt(50*oneBase), sdkmath.ZeroInt(), now.Add(time.Minute))
	require.NoError(t, err)

	_, err = v.ExecuteWithdraw(operator, id, sdkmath.NewInt(1_000*oneUnit), now.Add(2*time.Minute))
	require.ErrorIs(t, err, vault.ErrInsufficientLiquidity)

	// The escrowed shares are refundable after the lock delay.
	require.NoError(t, v.CancelWithdraw(id, now.Add(15*time.Minute)))
}

func TestCancelRespectsLockDelay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _, _, _ := newTestVault(t, 1_000, now)

	id, err := v.RequestDeposit("alice", sdkmath.NewInt(oneUnit), sdkmath.ZeroInt(), now)
	require.NoError(t, err)

	_, err = v.CancelDeposit(id, now.Add(9*time.Minute))
	require.ErrorIs(t, err, vault.ErrCancelLocked)

	_, err = v.CancelDeposit(id, now.Add(10*time.Minute))
	require.NoError(t, err)
}

func TestCancelAllowedDuringOperation(t *testing.T) {
	// Cancellation must not require Normal: users need the exit exactly when
	// the vault is stuck mid-operation.
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 1_000, now)
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	id, err := v.RequestDeposit("bob", sdkmath.NewInt(oneUnit), sdkmath.ZeroInt(), now)
	require.NoError(t, err)

	_, err = v.StartOperation(operator, []string{principal}, now.Add(time.Minute))
	require.NoError(t, err)

	refund, err := v.CancelDeposit(id, now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(oneUnit), refund)
}

func TestCancelledWithdrawRestoresShares(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 1_000, now)
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	id, err := v.RequestWithdraw("alice", sdkmath.NewInt(40*oneBase), sdkmath.ZeroInt(), now)
	require.NoError(t, err)

	// Escrowed out of the receipt, still part of the total supply.
	assert.Equal(t, sdkmath.NewInt(100*oneBase), v.TotalShares())

	require.NoError(t, v.CancelWithdraw(id, now.Add(15*time.Minute)))

	// A fresh withdrawal of the full balance works again.
	_, err = v.RequestWithdraw("alice", sdkmath.NewInt(100*oneBase), sdkmath.ZeroInt(), now.Add(16*time.Minute))
	require.NoError(t, err)
}
