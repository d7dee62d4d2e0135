package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToBase(t *testing.T) {
	// 6-decimal token: 1.5 units -> 1.5 * 10^9
	out, err := NormalizeToBase(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_500_000_000), out)

	// 18-decimal token: floor division truncates sub-base dust
	out, err = NormalizeToBase(sdkmath.NewInt(1_000_000_000_999_999_999), 18)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000_000), out)

	// Already at base precision
	out, err = NormalizeToBase(sdkmath.NewInt(42), BaseDecimals)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(42), out)
}

func TestNormalizeToBaseRejectsBadInput(t *testing.T) {
	_, err := NormalizeToBase(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = NormalizeToBase(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, ErrAmountNil)

	_, err = NormalizeToBase(sdkmath.NewInt(-1), 6)
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestRoundTripAllPrecisions(t *testing.T) {
	// normalize(denormalize(x, d), d) == x for every supported precision, for
	// values that are exact at the base precision. Covers 18-decimal tokens at
	// amounts up to 10^12 whole units.
	values := []sdkmath.Int{
		sdkmath.ZeroInt(),
		sdkmath.NewInt(1_000_000_000),
		sdkmath.NewInt(123_456_789_000),
		sdkmath.NewInt(1_000_000_000).Mul(sdkmath.NewInt(1_000_000_000_000)), // 10^12 whole units
	}

	for d := uint8(0); d <= MaxDecimals; d++ {
		for _, v := range values {
			if d < BaseDecimals {
				// Values with sub-precision digits cannot survive a trip below
				// base precision; restrict to whole-unit multiples.
				if !v.Mod(pow10(BaseDecimals - d)).IsZero() {
					continue
				}
			}
			down, err := DenormalizeFromBase(v, d)
			require.NoError(t, err)
			up, err := NormalizeToBase(down, d)
			require.NoError(t, err)
			assert.Equal(t, v, up, "round trip failed at %d decimals for %s", d, v)
		}
	}
}

func TestMulDiv(t *testing.T) {
	out, err := MulDiv(sdkmath.NewInt(7), sdkmath.NewInt(3), sdkmath.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(10), out) // floor(21/2)

	_, err = MulDiv(sdkmath.NewInt(1), sdkmath.NewInt(1), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestBpsOf(t *testing.T) {
	assert.Equal(t, sdkmath.NewInt(50), BpsOf(sdkmath.NewInt(10_000), 50))
	assert.Equal(t, sdkmath.ZeroInt(), BpsOf(sdkmath.NewInt(10_000), 0))
	assert.Equal(t, sdkmath.NewInt(10_000), BpsOf(sdkmath.NewInt(10_000), 10_000))
}

func TestValueOf(t *testing.T) {
	// 2.5 units at base precision, price 4.00 USD -> 10.00 USD
	amount := sdkmath.NewInt(2_500_000_000)
	price := sdkmath.NewInt(4_000_000_000)
	out, err := ValueOf(amount, price)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(10_000_000_000), out)
}
