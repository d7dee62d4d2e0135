package guard

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openyield/vault/internal/logger"
)

func init() {
	logger.Initialize("error")
}

func TestChargeWithinBudget(t *testing.T) {
	now := time.Now()
	// 5% tolerance on a 10_000 base -> 500 budget
	g, err := New(500, 24*time.Hour, now, sdkmath.NewInt(10_000))
	require.NoError(t, err)

	require.NoError(t, g.Charge(sdkmath.NewInt(200)))
	require.NoError(t, g.Charge(sdkmath.NewInt(300)))
	assert.Equal(t, sdkmath.NewInt(500), g.EpochLoss())

	// The next unit tips over the budget and is not recorded.
	err = g.Charge(sdkmath.OneInt())
	require.ErrorIs(t, err, ErrExceedsTolerance)
	assert.Equal(t, sdkmath.NewInt(500), g.EpochLoss())
}

func TestZeroToleranceRejectsAnyLoss(t *testing.T) {
	now := time.Now()
	g, err := New(0, 24*time.Hour, now, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, g.Charge(sdkmath.ZeroInt()))
	require.ErrorIs(t, g.Charge(sdkmath.OneInt()), ErrExceedsTolerance)
}

func TestToleranceRangeChecked(t *testing.T) {
	now := time.Now()
	_, err := New(10_001, time.Hour, now, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrInvalidTolerance)

	g, err := New(10_000, time.Hour, now, sdkmath.NewInt(100))
	require.NoError(t, err)
	// 100% tolerance: the whole base may be lost.
	require.NoError(t, g.Charge(sdkmath.NewInt(100)))
	require.ErrorIs(t, g.SetTolerance(10_001), ErrInvalidTolerance)
}

func TestEpochRollover(t *testing.T) {
	now := time.Now()
	g, err := New(1_000, time.Hour, now, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.NoError(t, g.Charge(sdkmath.NewInt(100)))

	// Not elapsed yet: nothing changes.
	assert.False(t, g.RolloverIfElapsed(now.Add(30*time.Minute), sdkmath.NewInt(2_000)))
	assert.Equal(t, sdkmath.NewInt(100), g.EpochLoss())

	// Elapsed: cumulative resets, base re-snapshots.
	assert.True(t, g.RolloverIfElapsed(now.Add(2*time.Hour), sdkmath.NewInt(2_000)))
	assert.True(t, g.EpochLoss().IsZero())
	assert.Equal(t, sdkmath.NewInt(2_000), g.EpochLossBase())

	// New budget is computed from the new base: 10% of 2000 = 200.
	require.NoError(t, g.Charge(sdkmath.NewInt(200)))
	require.ErrorIs(t, g.Charge(sdkmath.OneInt()), ErrExceedsTolerance)
}

func TestChargeRejectsNegative(t *testing.T) {
	g, err := New(100, time.Hour, time.Now(), sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.ErrorIs(t, g.Charge(sdkmath.NewInt(-1)), ErrInvalidLoss)
}
