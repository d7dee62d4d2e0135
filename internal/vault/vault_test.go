package vault_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/oracle"
	"github.com/openyield/vault/internal/vault"
)

func init() {
	logger.Initialize("error")
}

const (
	principal = "usdc"
	// one whole principal unit at 6 decimals / at the 9-decimal base
	oneUnit = 1_000_000
	oneBase = 1_000_000_000
)

// newTestVault builds a vault over a 6-decimal principal priced at 1.00 USD,
// with an hour of valuation freshness and a 10 minute cancel lock.
func newTestVault(t *testing.T, toleranceBps uint32, now time.Time) (*vault.Vault, vault.AdminCap, vault.OperatorCap, *oracle.Gateway) {
	t.Helper()

	gateway := oracle.NewGateway()
	require.NoError(t, gateway.RegisterFeed(principal, 6, time.Hour, 0))
	require.NoError(t, gateway.SetPrice(principal, sdkmath.NewInt(oneUnit), now))

	v, admin, operator, err := vault.New(vault.Config{
		ID:                "vault-1",
		PrincipalAsset:    principal,
		PrincipalDecimals: 6,
		ValueFreshness:    time.Hour,
		CancelLockDelay:   10 * time.Minute,
		LossToleranceBps:  toleranceBps,
		EpochLength:       24 * time.Hour,
	}, gateway, now)
	require.NoError(t, err)

	return v, admin, operator, gateway
}

// deposit runs a full request+execute cycle and returns the minted shares.
func deposit(t *testing.T, v *vault.Vault, operator vault.OperatorCap, owner string, amount int64, now time.Time) sdkmath.Int {
	t.Helper()

	id, err := v.RequestDeposit(owner, sdkmath.NewInt(amount), sdkmath.ZeroInt(), now)
	require.NoError(t, err)
	shares, err := v.ExecuteDeposit(operator, id, sdkmath.NewInt(1).MulRaw(1_000_000_000_000_000_000), now)
	require.NoError(t, err)
	return shares
}

func TestCapabilitiesAreVaultBound(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v1, admin1, op1, _ := newTestVault(t, 100, now)
	_ = v1

	// Caps minted for a different vault instance do not authorize anything
	// here, even though the ids could collide.
	v2, admin2, op2, _ := newTestVault(t, 100, now)
	require.ErrorIs(t, v2.Disable(admin1), vault.ErrUnauthorized)
	_, err := v2.StartOperation(op1, []string{principal}, now)
	require.ErrorIs(t, err, vault.ErrUnauthorized)

	require.NoError(t, v2.Disable(admin2))
	require.NoError(t, v2.Enable(admin2))
	_, err = v2.StartOperation(op2, []string{principal}, now)
	require.NoError(t, err)
}

func TestDisableOnlyFromNormal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, admin, operator, _ := newTestVault(t, 100, now)

	_, err := v.StartOperation(operator, []string{principal}, now)
	require.NoError(t, err)

	// Disabled is orthogonal: it cannot be entered mid-operation.
	require.ErrorIs(t, v.Disable(admin), vault.ErrNotNormal)

	require.NoError(t, v.ForceNormal(admin, now))
	require.NoError(t, v.Disable(admin))
	require.Equal(t, vault.StatusDisabled, v.Status())

	// Nothing moves while disabled.
	_, err = v.RequestDeposit("alice", sdkmath.NewInt(oneUnit), sdkmath.ZeroInt(), now)
	require.ErrorIs(t, err, vault.ErrNotNormal)
	require.ErrorIs(t, v.RecordValue(principal, sdkmath.ZeroInt(), now), vault.ErrVaultDisabled)

	require.NoError(t, v.Enable(admin))
	require.Equal(t, vault.StatusNormal, v.Status())
}

func TestTrackAssetStartsAtZeroValue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, admin, _, _ := newTestVault(t, 100, now)

	require.NoError(t, v.TrackAsset(admin, "lend-position", now))

	total, err := v.TotalValue(now)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestSummaryReportsStaleValuation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _, operator, _ := newTestVault(t, 100, now)
	deposit(t, v, operator, "alice", 100*oneUnit, now)

	fresh := v.Summary(now.Add(time.Minute))
	require.True(t, fresh.ValuationFresh)
	require.Equal(t, sdkmath.NewInt(100*oneBase), fresh.TotalValue)

	stale := v.Summary(now.Add(2 * time.Hour))
	require.False(t, stale.ValuationFresh)
}
