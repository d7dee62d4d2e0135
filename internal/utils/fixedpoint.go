/*
This file contains the fixed-point arithmetic helpers shared by the valuation
and pricing code. All monetary values in the vault are carried as sdkmath.Int
scaled to a common 9-decimal base; the helpers here are the only place where
decimal rescaling happens, so no call site carries an implicit rounding policy.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// BaseDecimals is the reference precision every price and USD value is scaled
// to before any arithmetic is performed on it.
const BaseDecimals = 9

// MaxDecimals is the largest source precision accepted from tokens or feeds.
const MaxDecimals = 18

// BpsDenominator is the divisor for basis-point fractions.
const BpsDenominator = 10_000

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrDivisionByZero   = errors.New("division by zero")
)

// pow10 returns 10^n as an Int. Only defined for 0 <= n <= MaxDecimals.
func pow10(n uint8) sdkmath.Int {
	result := sdkmath.OneInt()
	ten := sdkmath.NewInt(10)
	for i := uint8(0); i < n; i++ {
		result = result.Mul(ten)
	}
	return result
}

// OneBase is 10^BaseDecimals, the representation of 1.0 in the common base.
func OneBase() sdkmath.Int {
	return pow10(BaseDecimals)
}

// NormalizeToBase rescales an integer amount expressed at the given source
// precision into the common 9-decimal base. Amounts at a precision above the
// base are floor-divided, so sub-base dust is truncated.
func NormalizeToBase(amount sdkmath.Int, decimals uint8) (sdkmath.Int, error) {
	if decimals > MaxDecimals {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, decimals, MaxDecimals)
	}
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	if decimals < BaseDecimals {
		return amount.Mul(pow10(BaseDecimals - decimals)), nil
	}
	if decimals > BaseDecimals {
		return amount.Quo(pow10(decimals - BaseDecimals)), nil
	}
	return amount, nil
}

// DenormalizeFromBase rescales a value from the common 9-decimal base back to
// the given target precision. Targets below the base floor-divide.
func DenormalizeFromBase(value sdkmath.Int, decimals uint8) (sdkmath.Int, error) {
	if decimals > MaxDecimals {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, decimals, MaxDecimals)
	}
	if value.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if value.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	if decimals < BaseDecimals {
		return value.Quo(pow10(BaseDecimals - decimals)), nil
	}
	if decimals > BaseDecimals {
		return value.Mul(pow10(decimals - BaseDecimals)), nil
	}
	return value, nil
}

// MulDiv computes floor(a * b / den) without intermediate overflow. The
// denominator must be positive; a zero denominator is reported as an error
// rather than left to trap.
func MulDiv(a, b, den sdkmath.Int) (sdkmath.Int, error) {
	if a.IsNil() || b.IsNil() || den.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if den.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	return a.Mul(b).Quo(den), nil
}

// BpsOf returns floor(value * bps / 10_000).
func BpsOf(value sdkmath.Int, bps uint32) sdkmath.Int {
	if value.IsNil() {
		return sdkmath.ZeroInt()
	}
	return value.Mul(sdkmath.NewInt(int64(bps))).Quo(sdkmath.NewInt(BpsDenominator))
}

// ValueOf computes the USD value (9-decimal base) of an amount already in the
// 9-decimal base, given a price in USD per whole unit at the 9-decimal base.
func ValueOf(amountBase, priceBase sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(amountBase, priceBase, OneBase())
}
