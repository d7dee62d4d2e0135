// Package guard implements the epoch-scoped loss-tolerance budget consulted
// when an operation is finalized. Losses accumulate against a base value
// snapshotted at epoch start; a charge that would push the cumulative loss
// past tolerance is refused without being recorded.
package guard

import (
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/utils"
)

var (
	ErrExceedsTolerance = sdkerrors.Register("guard", 2, "loss exceeds epoch tolerance")
	ErrInvalidTolerance = sdkerrors.Register("guard", 3, "tolerance out of range")
	ErrInvalidLoss      = sdkerrors.Register("guard", 4, "invalid loss amount")
)

// Guard tracks cumulative losses against a per-epoch budget.
type Guard struct {
	toleranceBps uint32
	epochLength  time.Duration

	epochStart          time.Time
	epochLossBase       sdkmath.Int
	epochCumulativeLoss sdkmath.Int

	log zerolog.Logger
}

// New creates a guard with the given tolerance (basis points, 0..10_000
// inclusive) and epoch length. A tolerance of zero is legal but degenerate:
// every positive loss will be rejected, which is only appropriate for a
// quiescent vault. The caller is warned through the log when configuring it.
func New(toleranceBps uint32, epochLength time.Duration, now time.Time, baseValue sdkmath.Int) (*Guard, error) {
	if toleranceBps > utils.BpsDenominator {
		return nil, sdkerrors.Wrapf(ErrInvalidTolerance, "%d bps", toleranceBps)
	}

	g := &Guard{
		toleranceBps:        toleranceBps,
		epochLength:         epochLength,
		epochStart:          now,
		epochLossBase:       baseValue,
		epochCumulativeLoss: sdkmath.ZeroInt(),
		log:                 logger.GetForComponent("loss_guard"),
	}
	if toleranceBps == 0 {
		g.log.Warn().Msg("Loss tolerance configured to 0 bps: any positive loss will be rejected")
	}
	return g, nil
}

// SetTolerance updates the tolerance, range-checked at configuration time.
func (g *Guard) SetTolerance(toleranceBps uint32) error {
	if toleranceBps > utils.BpsDenominator {
		return sdkerrors.Wrapf(ErrInvalidTolerance, "%d bps", toleranceBps)
	}
	if toleranceBps == 0 {
		g.log.Warn().Msg("Loss tolerance set to 0 bps: any positive loss will be rejected")
	}
	g.toleranceBps = toleranceBps
	return nil
}

// Charge asks the guard to absorb a loss. On acceptance the cumulative loss is
// persisted; on rejection nothing changes and the caller decides whether to
// escalate. A zero loss is always accepted.
func (g *Guard) Charge(loss sdkmath.Int) error {
	if loss.IsNil() || loss.IsNegative() {
		return sdkerrors.Wrap(ErrInvalidLoss, "loss must be non-negative")
	}
	if loss.IsZero() {
		return nil
	}

	limit := utils.BpsOf(g.epochLossBase, g.toleranceBps)
	next := g.epochCumulativeLoss.Add(loss)
	if next.GT(limit) {
		return sdkerrors.Wrapf(ErrExceedsTolerance,
			"loss %s would bring epoch total to %s, limit %s", loss, next, limit)
	}

	g.epochCumulativeLoss = next
	g.log.Info().
		Str("loss", loss.String()).
		Str("epoch_total", next.String()).
		Str("limit", limit.String()).
		Msg("Loss charged against epoch budget")
	return nil
}

// RolloverIfElapsed resets the epoch when its length has passed: cumulative
// loss returns to zero and the base is re-snapshotted to the supplied current
// total value. Returns true if a rollover happened.
func (g *Guard) RolloverIfElapsed(now time.Time, baseValue sdkmath.Int) bool {
	if now.Sub(g.epochStart) < g.epochLength {
		return false
	}
	g.Reset(now, baseValue)
	return true
}

// Reset starts a fresh epoch immediately. This is also the explicit
// administrative reset path.
func (g *Guard) Reset(now time.Time, baseValue sdkmath.Int) {
	g.epochStart = now
	g.epochLossBase = baseValue
	g.epochCumulativeLoss = sdkmath.ZeroInt()
	g.log.Info().
		Time("epoch_start", now).
		Str("loss_base", baseValue.String()).
		Msg("Loss epoch reset")
}

// ToleranceBps returns the configured tolerance.
func (g *Guard) ToleranceBps() uint32 {
	return g.toleranceBps
}

// EpochStart returns the current epoch's start time.
func (g *Guard) EpochStart() time.Time {
	return g.epochStart
}

// EpochLoss returns the cumulative loss charged in the current epoch.
func (g *Guard) EpochLoss() sdkmath.Int {
	return g.epochCumulativeLoss
}

// EpochLossBase returns the value snapshot the budget is computed from.
func (g *Guard) EpochLossBase() sdkmath.Int {
	return g.epochLossBase
}
