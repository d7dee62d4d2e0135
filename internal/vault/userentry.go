package vault

import (
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/openyield/vault/internal/utils"
)

// shareRatio returns total value per share as a decimal. Defined as 1.0 when
// no shares exist. The zero case (shares outstanding against a zero total
// value, i.e. a total loss still within tolerance) is a distinct, recoverable
// error: it must never fall through into a division.
func (v *Vault) shareRatio(totalValue sdkmath.Int) (sdkmath.LegacyDec, error) {
	if v.totalShares.IsZero() {
		return sdkmath.LegacyOneDec(), nil
	}
	if totalValue.IsZero() {
		return sdkmath.LegacyZeroDec(), sdkerrors.Wrapf(ErrZeroShareRatio,
			"%s shares outstanding against zero total value", v.totalShares)
	}
	return sdkmath.LegacyNewDecFromInt(totalValue).QuoInt(v.totalShares), nil
}

// principalValue computes the USD value (9-decimal base) of a native
// principal amount at the current oracle price. The gateway guarantees the
// price is fresh and non-zero.
func (v *Vault) principalValue(amount sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	price, err := v.prices.NormalizedPrice(v.cfg.PrincipalAsset, now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountBase, err := utils.NormalizeToBase(amount, v.cfg.PrincipalDecimals)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.ValueOf(amountBase, price.Value)
}

// QuotePrincipalValue returns the USD value of a native principal amount at
// the current oracle price, without touching state.
func (v *Vault) QuotePrincipalValue(amount sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.principalValue(amount, now)
}

// QuotePrincipalAmount converts a USD value (9-decimal base) back into native
// principal units at the current oracle price.
func (v *Vault) QuotePrincipalAmount(value sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	price, err := v.prices.NormalizedPrice(v.cfg.PrincipalAsset, now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountBase, err := utils.MulDiv(value, utils.OneBase(), price.Value)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.DenormalizeFromBase(amountBase, v.cfg.PrincipalDecimals)
}

// RefreshPrincipalValue reprices the free principal at the current oracle
// price and records the result in the ledger. The operator loop calls this
// before finalizing so the principal valuation is as fresh as the adaptor
// valuations it is summed with.
func (v *Vault) RefreshPrincipalValue(now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == StatusDisabled {
		return ErrVaultDisabled
	}
	value, err := v.principalValue(v.freePrincipal, now)
	if err != nil {
		return err
	}
	return v.recordValue(v.cfg.PrincipalAsset, value, now)
}

// RequestDeposit escrows principal and queues a deposit request. Requires
// Normal status. The expected share count is a lower slippage bound validated
// at execution time against the then-current share ratio.
func (v *Vault) RequestDeposit(owner string, amount, expectedShares sdkmath.Int, now time.Time) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusNormal {
		return 0, sdkerrors.Wrapf(ErrNotNormal, "status %s", v.status)
	}
	if owner == "" {
		return 0, sdkerrors.Wrap(ErrInvalidArgument, "owner cannot be empty")
	}

	rec := v.receipts.GetOrCreate(owner)
	id, err := v.buffer.AddDeposit(rec.ID, amount, expectedShares, now)
	if err != nil {
		return 0, err
	}
	if err := v.receipts.TrackRequest(rec.ID, id); err != nil {
		return 0, err
	}

	v.log.Info().
		Str("owner", owner).
		Uint64("request", id).
		Str("amount", amount.String()).
		Msg("Deposit requested")
	return id, nil
}

// ExecuteDeposit prices a queued deposit at the current share ratio and mints
// shares. The two-sided slippage bound (request's expected shares at the
// bottom, caller's max at the top) is enforced here, at execution time; on any
// failure the request and its escrow are left untouched and remain
// cancellable.
func (v *Vault) ExecuteDeposit(cap OperatorCap, id uint64, maxShares sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	if err := v.checkOperator(cap); err != nil {
		return sdkmath.ZeroInt(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusNormal {
		return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrNotNormal, "status %s", v.status)
	}
	if maxShares.IsNil() || !maxShares.IsPositive() {
		return sdkmath.ZeroInt(), sdkerrors.Wrap(ErrInvalidArgument, "max shares must be positive")
	}

	request, err := v.buffer.GetDeposit(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	valueBefore, err := v.totalValue(now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	ratioBefore, err := v.shareRatio(valueBefore)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	// Candidate state is computed fully before anything is committed so a
	// slippage rejection leaves the vault byte-identical.
	newFree := v.freePrincipal.Add(request.Amount)
	principalAfter, err := v.principalValue(newFree, now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	principalBefore, err := v.ledger.Value(v.cfg.PrincipalAsset)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	valueAfter := valueBefore.Sub(principalBefore.Value).Add(principalAfter)
	deltaValue := valueAfter.Sub(valueBefore)
	if !deltaValue.IsPositive() {
		return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrSlippage,
			"deposit of %s adds no value at the current price", request.Amount)
	}

	shares := sdkmath.LegacyNewDecFromInt(deltaValue).Quo(ratioBefore).TruncateInt()
	if shares.LT(request.ExpectedShares) || shares.GT(maxShares) {
		return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrSlippage,
			"computed %s shares, bounds [%s, %s]", shares, request.ExpectedShares, maxShares)
	}

	// Commit.
	if _, err := v.buffer.TakeDeposit(id); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := v.receipts.UntrackRequest(request.ReceiptID, id); err != nil {
		return sdkmath.ZeroInt(), err
	}
	v.freePrincipal = newFree
	if err := v.recordValue(v.cfg.PrincipalAsset, principalAfter, now); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := v.receipts.AddShares(request.ReceiptID, shares); err != nil {
		return sdkmath.ZeroInt(), err
	}
	v.totalShares = v.totalShares.Add(shares)

	v.log.Info().
		Uint64("request", id).
		Str("amount", request.Amount.String()).
		Str("shares", shares.String()).
		Msg("Deposit executed")
	return shares, nil
}

// CancelDeposit refunds a queued deposit's escrow after the lock delay. It is
// deliberately allowed while DuringOperation: users must be able to exit the
// queue exactly when the vault is busy. Only Disabled blocks it.
func (v *Vault) CancelDeposit(id uint64, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == StatusDisabled {
		return sdkmath.ZeroInt(), ErrVaultDisabled
	}

	request, err := v.buffer.GetDeposit(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if now.Sub(request.CreatedAt) < v.cfg.CancelLockDelay {
		return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrCancelLocked,
			"request %d created %s", id, request.CreatedAt.Format(time.RFC3339))
	}

	if _, err := v.buffer.TakeDeposit(id); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := v.receipts.UntrackRequest(request.ReceiptID, id); err != nil {
		return sdkmath.ZeroInt(), err
	}

	v.log.Info().Uint64("request", id).Str("refund", request.Amount.String()).Msg("Deposit cancelled")
	return request.Amount, nil
}

// RequestWithdraw escrows shares out of the owner's receipt and queues a
// withdrawal. Requires Normal status.
func (v *Vault) RequestWithdraw(owner string, shares, expectedAmount sdkmath.Int, now time.Time) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusNormal {
		return 0, sdkerrors.Wrapf(ErrNotNormal, "status %s", v.status)
	}
	if owner == "" {
		return 0, sdkerrors.Wrap(ErrInvalidArgument, "owner cannot be empty")
	}

	rec := v.receipts.GetOrCreate(owner)
	if err := v.receipts.SubShares(rec.ID, shares); err != nil {
		return 0, err
	}
	id, err := v.buffer.AddWithdraw(rec.ID, shares, expectedAmount, now)
	if err != nil {
		// Undo the escrow; AddWithdraw only fails on validation.
		_ = v.receipts.AddShares(rec.ID, shares)
		return 0, err
	}
	if err := v.receipts.TrackRequest(rec.ID, id); err != nil {
		return 0, err
	}

	v.log.Info().
		Str("owner", owner).
		Uint64("request", id).
		Str("shares", shares.String()).
		Msg("Withdrawal requested")
	return id, nil
}

// ExecuteWithdraw converts escrowed shares to principal at the current share
// ratio and oracle price, burns the shares and pays out of free principal.
// Same two-sided bound and atomicity rules as ExecuteDeposit.
func (v *Vault) ExecuteWithdraw(cap OperatorCap, id uint64, maxAmount sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	if err := v.checkOperator(cap); err != nil {
		return sdkmath.ZeroInt(), err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusNormal {
		return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrNotNormal, "status %s", v.status)
	}
	if maxAmount.IsNil() || !maxAmount.IsPositive() {
		return sdkmath.ZeroInt(), sdkerrors.Wrap(ErrInvalidArgument, "max amount must be positive")
	}

	request, err := v.buffer.GetWithdraw(id)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	totalValue, err := v.totalValue(now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if _, err := v.shareRatio(totalValue); err != nil {
		return sdkmath.ZeroInt(), err
	}

	// value = shares * totalValue / totalShares, floored once.
	valueOut, err := utils.MulDiv(request.Shares, totalValue, v.totalShares)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	price, err := v.prices.NormalizedPrice(v.cfg.PrincipalAsset, now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amountBase, err := utils.MulDiv(valueOut, utils.OneBase(), price.Value)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amount, err := utils.DenormalizeFromBase(amountBase, v.cfg.PrincipalDecimals)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	if amount.LT(request.ExpectedAmount) || amount.GT(maxAmount) {
		return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrSlippage,
			"computed %s, bounds [%s, %s]", amount, request.ExpectedAmount, maxAmount)
	}
	if v.freePrincipal.LT(amount) {
		return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrInsufficientLiquidity,
			"free %s, needed %s", v.freePrincipal, amount)
	}

	// Commit.
	if _, err := v.buffer.TakeWithdraw(id); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := v.receipts.UntrackRequest(request.ReceiptID, id); err != nil {
		return sdkmath.ZeroInt(), err
	}
	v.totalShares = v.totalShares.Sub(request.Shares)
	v.freePrincipal = v.freePrincipal.Sub(amount)

	principalAfter, err := v.principalValue(v.freePrincipal, now)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := v.recordValue(v.cfg.PrincipalAsset, principalAfter, now); err != nil {
		return sdkmath.ZeroInt(), err
	}

	v.log.Info().
		Uint64("request", id).
		Str("shares", request.Shares.String()).
		Str("amount", amount.String()).
		Msg("Withdrawal executed")
	return amount, nil
}

// CancelWithdraw returns escrowed shares to the receipt after the lock delay.
// Allowed in Normal and DuringOperation, blocked only while Disabled.
func (v *Vault) CancelWithdraw(id uint64, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == StatusDisabled {
		return ErrVaultDisabled
	}

	request, err := v.buffer.GetWithdraw(id)
	if err != nil {
		return err
	}
	if now.Sub(request.CreatedAt) < v.cfg.CancelLockDelay {
		return sdkerrors.Wrapf(ErrCancelLocked,
			"request %d created %s", id, request.CreatedAt.Format(time.RFC3339))
	}

	if _, err := v.buffer.TakeWithdraw(id); err != nil {
		return err
	}
	if err := v.receipts.UntrackRequest(request.ReceiptID, id); err != nil {
		return err
	}
	if err := v.receipts.AddShares(request.ReceiptID, request.Shares); err != nil {
		return err
	}

	v.log.Info().Uint64("request", id).Str("shares", request.Shares.String()).Msg("Withdrawal cancelled")
	return nil
}
