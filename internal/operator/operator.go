// Package operator drives the vault on a fixed interval: it drains the
// request queues, runs the operation window across all registered adaptors
// and persists the outcome. It is the only component holding the operator
// capability.
package operator

import (
	"context"
	"fmt"
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/guard"
	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/state"
	"github.com/openyield/vault/internal/utils"
	"github.com/openyield/vault/internal/vault"
)

// Config holds the dependencies for creating a new Operator instance.
type Config struct {
	Vault       *vault.Vault
	OperatorCap vault.OperatorCap
	Adaptors    []vault.Adaptor

	// MaxSlippageBps bounds how far an executed request may land above the
	// operator's own quote before it is skipped and left in the queue.
	MaxSlippageBps uint32

	// Work is an optional hook run inside the operation window, between start
	// and the returned-assets mark. Strategies deploy the borrowed assets here.
	// A hook error is logged and the window still closes through revaluation.
	Work func(ctx context.Context, operationID string) error
}

// Operator owns the periodic vault cycle.
type Operator struct {
	logger   zerolog.Logger
	vault    *vault.Vault
	cap      vault.OperatorCap
	adaptors []vault.Adaptor

	maxSlippageBps uint32
	work           func(ctx context.Context, operationID string) error
	cycleCount     int
	halted         bool
}

// New creates an operator instance.
func New(cfg Config) (*Operator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("operator configuration validation failed: %w", err)
	}

	op := &Operator{
		logger:         logger.GetForComponent("operator_core"),
		vault:          cfg.Vault,
		cap:            cfg.OperatorCap,
		adaptors:       cfg.Adaptors,
		maxSlippageBps: cfg.MaxSlippageBps,
		work:           cfg.Work,
	}

	op.logger.Info().
		Str("vault", cfg.Vault.ID()).
		Int("adaptors", len(cfg.Adaptors)).
		Msg("Operator instance created")

	return op, nil
}

func validateConfig(cfg Config) error {
	if cfg.Vault == nil {
		return fmt.Errorf("vault cannot be nil")
	}
	if cfg.MaxSlippageBps == 0 || cfg.MaxSlippageBps > utils.BpsDenominator {
		return fmt.Errorf("max slippage must be in (0, %d] bps", utils.BpsDenominator)
	}
	seen := make(map[string]struct{}, len(cfg.Adaptors))
	for _, adaptor := range cfg.Adaptors {
		if adaptor == nil {
			return fmt.Errorf("adaptor cannot be nil")
		}
		if _, dup := seen[adaptor.AssetID()]; dup {
			return fmt.Errorf("duplicate adaptor for asset %s", adaptor.AssetID())
		}
		seen[adaptor.AssetID()] = struct{}{}
	}
	return nil
}

// RunLoop runs cycles on the given interval until the context is cancelled or
// a loss-tolerance rejection halts the loop for admin intervention.
func (o *Operator) RunLoop(ctx context.Context, interval time.Duration) {
	o.logger.Info().Dur("interval", interval).Msg("Starting operator loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.runCycleLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Operator loop stopped due to context cancellation")
			return
		case <-ticker.C:
			if o.halted {
				o.logger.Error().Msg("Operator loop halted pending admin intervention, skipping cycle")
				continue
			}
			o.runCycleLogged(ctx)
		}
	}
}

func (o *Operator) runCycleLogged(ctx context.Context) {
	o.cycleCount++
	o.logger.Info().Int("cycle", o.cycleCount).Msg("Initiating operator cycle")
	if err := o.RunCycle(ctx); err != nil {
		o.logger.Error().Err(err).Int("cycle", o.cycleCount).Msg("Operator cycle failed")
	} else {
		o.logger.Info().Int("cycle", o.cycleCount).Msg("Operator cycle completed")
	}
}

// RunCycle performs one full pass: drain queues, run the operation window,
// persist a snapshot. Each stage logs and proceeds; only a loss-tolerance
// rejection halts the operator.
func (o *Operator) RunCycle(ctx context.Context) error {
	now := time.Now()

	switch o.vault.Status() {
	case vault.StatusDuringOperation:
		// A previous cycle left the window open (an adaptor kept aborting or
		// the process restarted). Finish it before anything else.
		if err := o.resumeOperation(ctx); err != nil {
			return err
		}
	case vault.StatusNormal:
		o.drainRequests(now)
		if len(o.adaptors) > 0 {
			if err := o.runOperation(ctx, now); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("vault status is %s, cycle skipped", o.vault.Status())
	}

	summary := o.vault.Summary(time.Now())
	if _, err := state.SaveVaultSnapshot(summary, time.Now()); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to persist vault snapshot")
	}
	return nil
}

// drainRequests executes every queued deposit and withdrawal against the
// operator's own quote. A request that fails stays in the queue for the user
// to cancel or a later cycle to retry.
func (o *Operator) drainRequests(now time.Time) {
	pending := o.vault.PendingRequests()

	for _, request := range pending.Deposits {
		maxShares, err := o.quoteDepositShares(request.Amount, now)
		if err != nil {
			o.logger.Warn().Err(err).Uint64("request", request.ID).Msg("Cannot quote deposit, leaving queued")
			continue
		}
		shares, err := o.vault.ExecuteDeposit(o.cap, request.ID, maxShares, now)
		if err != nil {
			o.logger.Warn().Err(err).Uint64("request", request.ID).Msg("Deposit execution refused, leaving queued")
			continue
		}
		o.logger.Info().Uint64("request", request.ID).Str("shares", shares.String()).Msg("Deposit executed")
	}

	for _, request := range pending.Withdrawals {
		maxAmount, err := o.quoteWithdrawAmount(request.Shares, now)
		if err != nil {
			o.logger.Warn().Err(err).Uint64("request", request.ID).Msg("Cannot quote withdrawal, leaving queued")
			continue
		}
		amount, err := o.vault.ExecuteWithdraw(o.cap, request.ID, maxAmount, now)
		if err != nil {
			o.logger.Warn().Err(err).Uint64("request", request.ID).Msg("Withdrawal execution refused, leaving queued")
			continue
		}
		o.logger.Info().Uint64("request", request.ID).Str("amount", amount.String()).Msg("Withdrawal executed")
	}
}

// runOperation opens an operation window over all adaptor-managed assets,
// revalues each of them plus the principal, and finalizes against the share
// count observed at start.
func (o *Operator) runOperation(ctx context.Context, now time.Time) error {
	borrowed := make([]string, 0, len(o.adaptors))
	for _, adaptor := range o.adaptors {
		borrowed = append(borrowed, adaptor.AssetID())
	}

	opID, err := o.vault.StartOperation(o.cap, borrowed, now)
	if err != nil {
		return fmt.Errorf("failed to start operation: %w", err)
	}
	sharesAtStart := o.vault.TotalShares()

	startRecord := state.OperationLogEntry{
		OperationID:    opID.String(),
		VaultID:        o.vault.ID(),
		BorrowedAssets: borrowed,
		ValueBefore:    sdkmath.ZeroInt(),
		ValueAfter:     sdkmath.ZeroInt(),
		Loss:           sdkmath.ZeroInt(),
		Outcome:        state.OutcomeStarted,
		StartedAt:      now,
	}
	if before, verr := o.vault.TotalValue(now); verr == nil {
		startRecord.ValueBefore = before
	}
	if err := state.SaveOperationRecord(startRecord); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to persist operation start")
	}

	if o.work != nil {
		if err := o.work(ctx, opID.String()); err != nil {
			o.logger.Error().Err(err).Str("operation", opID.String()).
				Msg("Operation work hook failed, closing window with current valuations")
		}
	}

	if err := o.vault.ReturnAssets(o.cap); err != nil {
		return fmt.Errorf("failed to mark assets returned: %w", err)
	}

	return o.closeWindow(ctx, opID.String(), borrowed, now, sharesAtStart)
}

// resumeOperation picks up an operation window a previous cycle (or process)
// left open: it re-marks the assets returned, revalues everything and
// finalizes.
func (o *Operator) resumeOperation(ctx context.Context) error {
	summary := o.vault.Summary(time.Now())
	o.logger.Warn().
		Str("operation", summary.OperationID).
		Strs("borrowed", summary.BorrowedAssets).
		Msg("Operation window still open, resuming")

	if err := o.vault.ReturnAssets(o.cap); err != nil {
		return fmt.Errorf("failed to mark assets returned: %w", err)
	}
	return o.closeWindow(ctx, summary.OperationID, summary.BorrowedAssets, time.Now(), o.vault.TotalShares())
}

// closeWindow revalues every adaptor asset plus the principal and finalizes
// the open operation, persisting the outcome. A guard rejection halts the
// operator for admin intervention.
func (o *Operator) closeWindow(ctx context.Context, opID string, borrowed []string, startedAt time.Time, expectedShares sdkmath.Int) error {
	for _, adaptor := range o.adaptors {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.valueWithRetry(adaptor); err != nil {
			o.logger.Error().Err(err).Str("asset", adaptor.AssetID()).
				Msg("Adaptor valuation failed twice, operation stays open for next cycle")
		}
	}

	if err := o.vault.RefreshPrincipalValue(time.Now()); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to refresh principal valuation")
	}

	finalizedAt := time.Now()
	result, err := o.vault.FinalizeOperation(o.cap, expectedShares, finalizedAt)
	if err != nil {
		if sdkerrors.IsOf(err, guard.ErrExceedsTolerance) {
			o.halted = true
			o.logger.Error().Err(err).Str("operation", opID).
				Msg("LOSS TOLERANCE EXCEEDED: operator halted, admin must force-normal or raise tolerance")
			record := state.OperationLogEntry{
				OperationID:    opID,
				VaultID:        o.vault.ID(),
				BorrowedAssets: borrowed,
				ValueBefore:    sdkmath.ZeroInt(),
				ValueAfter:     sdkmath.ZeroInt(),
				Loss:           sdkmath.ZeroInt(),
				Outcome:        state.OutcomeToleranceExceeded,
				Detail:         err.Error(),
				StartedAt:      startedAt,
				FinalizedAt:    &finalizedAt,
			}
			if perr := state.SaveOperationRecord(record); perr != nil {
				o.logger.Warn().Err(perr).Msg("Failed to persist operation outcome")
			}
		}
		return fmt.Errorf("failed to finalize operation: %w", err)
	}

	endRecord := state.OperationLogEntry{
		OperationID:    result.ID.String(),
		VaultID:        o.vault.ID(),
		BorrowedAssets: borrowed,
		ValueBefore:    result.ValueBefore,
		ValueAfter:     result.ValueAfter,
		Loss:           result.Loss,
		Outcome:        state.OutcomeFinalized,
		StartedAt:      result.StartedAt,
		FinalizedAt:    &result.FinalizedAt,
	}
	if err := state.SaveOperationRecord(endRecord); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to persist operation outcome")
	}
	return nil
}

// valueWithRetry runs an adaptor valuation, retrying once on abort.
func (o *Operator) valueWithRetry(adaptor vault.Adaptor) error {
	if err := o.vault.ValueAdaptor(adaptor, time.Now()); err != nil {
		o.logger.Warn().Err(err).Str("asset", adaptor.AssetID()).Msg("Adaptor valuation aborted, retrying once")
		return o.vault.ValueAdaptor(adaptor, time.Now())
	}
	return nil
}

// quoteDepositShares estimates the shares a deposit should mint at the
// current ratio and pads the estimate by the slippage allowance.
func (o *Operator) quoteDepositShares(amount sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	summary := o.vault.Summary(now)
	if !summary.ValuationFresh {
		return sdkmath.ZeroInt(), fmt.Errorf("valuation is stale")
	}

	value, err := o.vault.QuotePrincipalValue(amount, now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	// Unit ratio on an empty vault, pro rata otherwise.
	estimate := value
	if !summary.TotalShares.IsZero() {
		if summary.TotalValue.IsZero() {
			return sdkmath.ZeroInt(), fmt.Errorf("zero total value with shares outstanding")
		}
		estimate, err = utils.MulDiv(value, summary.TotalShares, summary.TotalValue)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
	}
	return estimate.Add(utils.BpsOf(estimate, o.maxSlippageBps)), nil
}

// quoteWithdrawAmount estimates the principal a withdrawal should pay out and
// pads the estimate by the slippage allowance.
func (o *Operator) quoteWithdrawAmount(shares sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	summary := o.vault.Summary(now)
	if !summary.ValuationFresh {
		return sdkmath.ZeroInt(), fmt.Errorf("valuation is stale")
	}
	if summary.TotalShares.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("no shares outstanding")
	}

	value, err := utils.MulDiv(shares, summary.TotalValue, summary.TotalShares)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amount, err := o.vault.QuotePrincipalAmount(value, now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amount.Add(utils.BpsOf(amount, o.maxSlippageBps)), nil
}

// Halted reports whether a loss-tolerance rejection stopped the loop.
func (o *Operator) Halted() bool {
	return o.halted
}

// Resume clears the halted flag once the admin has unwound the stuck
// operation.
func (o *Operator) Resume() {
	o.halted = false
	o.logger.Info().Msg("Operator loop resumed")
}
