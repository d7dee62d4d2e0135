package oracle

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

func TestNormalizedPriceRescalesToBase(t *testing.T) {
	g := NewGateway()
	require.NoError(t, g.RegisterFeed("usdc", 6, time.Hour, 0))

	now := time.Now()
	// 1.000000 USD at 6 decimals
	require.NoError(t, g.SetPrice("usdc", sdkmath.NewInt(1_000_000), now))

	price, err := g.NormalizedPrice("usdc", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000_000), price.Value)
	assert.Equal(t, now, price.UpdatedAt)
}

func TestNormalizedPriceUnknownAsset(t *testing.T) {
	g := NewGateway()
	_, err := g.NormalizedPrice("ghost", time.Now())
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestNormalizedPriceStale(t *testing.T) {
	g := NewGateway()
	require.NoError(t, g.RegisterFeed("atom", 6, time.Hour, 0))

	now := time.Now()
	require.NoError(t, g.SetPrice("atom", sdkmath.NewInt(9_500_000), now))

	// Exactly at the staleness bound fails (now - updated >= interval).
	_, err := g.NormalizedPrice("atom", now.Add(time.Hour))
	require.ErrorIs(t, err, ErrStalePrice)

	// No sample at all is also stale.
	require.NoError(t, g.RegisterFeed("osmo", 6, time.Hour, 0))
	_, err = g.NormalizedPrice("osmo", now)
	require.ErrorIs(t, err, ErrStalePrice)
}

func TestFreshZeroPriceIsTypedError(t *testing.T) {
	// A compromised feed can deliver a fresh-but-zero sample; the lookup must
	// reject it with a typed error, never let it reach a division.
	g := NewGateway()
	require.NoError(t, g.RegisterFeed("atom", 6, time.Hour, 0))

	now := time.Now()
	require.NoError(t, g.SetPrice("atom", sdkmath.ZeroInt(), now))

	_, err := g.NormalizedPrice("atom", now.Add(time.Second))
	require.ErrorIs(t, err, ErrZeroPrice)
}

func TestSetPriceRejectsNegative(t *testing.T) {
	g := NewGateway()
	require.NoError(t, g.RegisterFeed("atom", 6, time.Hour, 0))
	err := g.SetPrice("atom", sdkmath.NewInt(-1), time.Now())
	require.ErrorIs(t, err, ErrNegativePrice)
}

func TestDeviationGuard(t *testing.T) {
	g := NewGateway()
	// 10% deviation bound
	require.NoError(t, g.RegisterFeed("atom", 6, time.Hour, 1_000))

	now := time.Now()
	require.NoError(t, g.SetPrice("atom", sdkmath.NewInt(10_000_000), now))

	// +10% exactly is allowed
	require.NoError(t, g.SetPrice("atom", sdkmath.NewInt(11_000_000), now.Add(time.Minute)))

	// A wild jump is refused and the previous sample survives
	err := g.SetPrice("atom", sdkmath.NewInt(50_000_000), now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrPriceDeviation)

	price, err := g.NormalizedPrice("atom", now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(11_000_000_000), price.Value)
}

func TestRegisterFeedValidation(t *testing.T) {
	g := NewGateway()
	require.ErrorIs(t, g.RegisterFeed("", 6, time.Hour, 0), ErrInvalidFeed)
	require.ErrorIs(t, g.RegisterFeed("atom", 19, time.Hour, 0), ErrInvalidFeed)
	require.ErrorIs(t, g.RegisterFeed("atom", 6, 0, 0), ErrInvalidFeed)

	require.NoError(t, g.RegisterFeed("atom", 6, time.Hour, 0))
	require.ErrorIs(t, g.RegisterFeed("atom", 6, time.Hour, 0), ErrFeedExists)
}

func TestStalenessLevels(t *testing.T) {
	g := NewGateway()
	require.NoError(t, g.RegisterFeed("atom", 6, 4*time.Hour, 0))

	now := time.Now()
	require.NoError(t, g.SetPrice("atom", sdkmath.NewInt(1_000_000), now))

	level, err := g.StalenessLevel("atom", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StalenessFresh, level)

	level, _ = g.StalenessLevel("atom", now.Add(2*time.Hour))
	assert.Equal(t, StalenessWarning, level)

	level, _ = g.StalenessLevel("atom", now.Add(3*time.Hour))
	assert.Equal(t, StalenessCritical, level)

	level, _ = g.StalenessLevel("atom", now.Add(5*time.Hour))
	assert.Equal(t, StalenessStale, level)
}
