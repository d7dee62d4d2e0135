package vault

import (
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/openyield/vault/internal/guard"
	"github.com/openyield/vault/internal/oracle"
)

// PriceSource is the read-only price view handed to adaptor valuation
// callbacks.
type PriceSource interface {
	NormalizedPrice(asset string, now time.Time) (oracle.Price, error)
}

// Adaptor is the valuation callback contract for an external yield source.
// Value reports the USD value (9-decimal base) of everything the adaptor
// currently holds for the vault; it may cross-check pool-internal prices
// against the oracle and abort, in which case the asset simply stays
// un-updated and the call can be retried.
type Adaptor interface {
	AssetID() string
	Value(prices PriceSource, now time.Time) (sdkmath.Int, error)
}

// operationRecord is the transient bookkeeping for one operation window.
// Updated doubles as the borrowed set: an asset is borrowed iff it has an
// entry, updated iff that entry is true.
type operationRecord struct {
	ID          uuid.UUID
	Borrowed    []string
	Updated     map[string]bool
	Enabled     bool
	ValueBefore sdkmath.Int
	StartedAt   time.Time
}

// OperationResult summarizes a finalized operation.
type OperationResult struct {
	ID          uuid.UUID
	ValueBefore sdkmath.Int
	ValueAfter  sdkmath.Int
	Loss        sdkmath.Int
	StartedAt   time.Time
	FinalizedAt time.Time
}

// StartOperation opens an operation window: the listed asset types are
// checked out to adaptors and the vault stops admitting deposits and
// withdrawals until finalization. Requires Normal status. The total value
// snapshot taken here is the baseline the post-operation revaluation is
// compared against, so a stale valuation blocks the start.
func (v *Vault) StartOperation(cap OperatorCap, borrowed []string, now time.Time) (uuid.UUID, error) {
	if err := v.checkOperator(cap); err != nil {
		return uuid.Nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusNormal {
		return uuid.Nil, sdkerrors.Wrapf(ErrNotNormal, "status %s", v.status)
	}
	if len(borrowed) == 0 {
		return uuid.Nil, sdkerrors.Wrap(ErrInvalidArgument, "borrowed asset list cannot be empty")
	}

	updated := make(map[string]bool, len(borrowed))
	deduped := make([]string, 0, len(borrowed))
	for _, asset := range borrowed {
		if !v.ledger.IsTracked(asset) {
			return uuid.Nil, sdkerrors.Wrapf(ErrInvalidArgument, "asset %s is not tracked", asset)
		}
		if _, seen := updated[asset]; seen {
			continue
		}
		updated[asset] = false
		deduped = append(deduped, asset)
	}

	valueBefore, err := v.totalValue(now)
	if err != nil {
		return uuid.Nil, err
	}

	// Lazy epoch rollover: the first operation of a new epoch re-snapshots
	// the loss base before any of this operation's outcome is known.
	if v.guard.RolloverIfElapsed(now, valueBefore) {
		v.log.Info().Msg("Loss epoch rolled over at operation start")
	}

	v.op = &operationRecord{
		ID:          uuid.New(),
		Borrowed:    deduped,
		Updated:     updated,
		Enabled:     false,
		ValueBefore: valueBefore,
		StartedAt:   now,
	}
	v.status = StatusDuringOperation

	v.log.Info().
		Str("operation", v.op.ID.String()).
		Strs("borrowed", deduped).
		Str("value_before", valueBefore.String()).
		Msg("Operation started")
	return v.op.ID, nil
}

// ReturnAssets marks the point where borrowed assets are physically back
// under vault custody and valuation writes start counting toward the
// reconciliation check. Status stays DuringOperation.
func (v *Vault) ReturnAssets(cap OperatorCap) error {
	if err := v.checkOperator(cap); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusDuringOperation || v.op == nil {
		return sdkerrors.Wrapf(ErrNotDuringOperation, "status %s", v.status)
	}

	v.op.Enabled = true
	v.log.Info().Str("operation", v.op.ID.String()).Msg("Borrowed assets returned, valuation tracking enabled")
	return nil
}

// ValueAdaptor runs an adaptor's valuation callback and routes the result
// through the RecordValue gate. An adaptor abort leaves its asset un-updated
// and is retryable.
func (v *Vault) ValueAdaptor(adaptor Adaptor, now time.Time) error {
	if adaptor == nil {
		return sdkerrors.Wrap(ErrInvalidArgument, "adaptor cannot be nil")
	}

	// The callback runs outside the lock; adaptors may do slow price lookups.
	value, err := adaptor.Value(v.prices, now)
	if err != nil {
		v.log.Warn().Err(err).Str("asset", adaptor.AssetID()).Msg("Adaptor valuation aborted")
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recordValue(adaptor.AssetID(), value, now)
}

// FinalizeOperation closes the operation window. It requires that assets were
// returned and every borrowed type revalued, compares total value against the
// start-of-operation snapshot, charges any loss to the tolerance guard, and
// defends against concurrent share mutation via the expected share count.
//
// Failure modes are deliberately distinguishable: ErrIncompleteValuation and a
// stale valuation are retryable with more RecordValue calls; a guard rejection
// (guard.ErrExceedsTolerance) leaves the vault DuringOperation for the admin
// to unwind via ForceNormal. No failure here is unrecoverable.
func (v *Vault) FinalizeOperation(cap OperatorCap, expectedTotalShares sdkmath.Int, now time.Time) (OperationResult, error) {
	if err := v.checkOperator(cap); err != nil {
		return OperationResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusDuringOperation || v.op == nil {
		return OperationResult{}, sdkerrors.Wrapf(ErrNotDuringOperation, "status %s", v.status)
	}
	if !v.op.Enabled {
		return OperationResult{}, ErrReturnNotStarted
	}

	for _, asset := range v.op.Borrowed {
		if !v.op.Updated[asset] {
			return OperationResult{}, sdkerrors.Wrapf(ErrIncompleteValuation, "asset %s", asset)
		}
	}

	valueAfter, err := v.totalValue(now)
	if err != nil {
		return OperationResult{}, err
	}

	if expectedTotalShares.IsNil() || !v.totalShares.Equal(expectedTotalShares) {
		return OperationResult{}, sdkerrors.Wrapf(ErrShareCountMismatch,
			"expected %s, have %s", expectedTotalShares, v.totalShares)
	}

	loss := sdkmath.ZeroInt()
	if valueAfter.LT(v.op.ValueBefore) {
		loss = v.op.ValueBefore.Sub(valueAfter)
	}
	if err := v.guard.Charge(loss); err != nil {
		v.log.Error().
			Err(err).
			Str("operation", v.op.ID.String()).
			Str("loss", loss.String()).
			Msg("Loss tolerance rejected operation, vault stays during-operation pending admin action")
		return OperationResult{}, err
	}

	result := OperationResult{
		ID:          v.op.ID,
		ValueBefore: v.op.ValueBefore,
		ValueAfter:  valueAfter,
		Loss:        loss,
		StartedAt:   v.op.StartedAt,
		FinalizedAt: now,
	}

	v.op = nil
	v.status = StatusNormal

	v.log.Info().
		Str("operation", result.ID.String()).
		Str("value_before", result.ValueBefore.String()).
		Str("value_after", result.ValueAfter.String()).
		Str("loss", loss.String()).
		Msg("Operation finalized")
	return result, nil
}

// ForceNormal is the administrative escape hatch: it returns a stuck
// DuringOperation vault to Normal without the borrowed-asset or loss checks.
// The discarded operation record is logged loudly; whatever loss the epoch
// would have carried is NOT committed to the guard.
func (v *Vault) ForceNormal(cap AdminCap, now time.Time) error {
	if err := v.checkAdmin(cap); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusDuringOperation || v.op == nil {
		return sdkerrors.Wrapf(ErrNotDuringOperation, "status %s", v.status)
	}

	v.log.Warn().
		Str("operation", v.op.ID.String()).
		Strs("borrowed", v.op.Borrowed).
		Str("value_before", v.op.ValueBefore.String()).
		Time("started_at", v.op.StartedAt).
		Msg("Operation forcibly abandoned by admin")

	v.op = nil
	v.status = StatusNormal
	return nil
}

// IsLossRetryable reports whether a FinalizeOperation error can be resolved by
// the operator alone (more valuations, fresher prices) or needs the admin
// escape hatch.
func IsLossRetryable(err error) bool {
	return !sdkerrors.IsOf(err, guard.ErrExceedsTolerance)
}
