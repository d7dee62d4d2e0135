// Package receipt tracks per-depositor accounting records: share balances,
// outstanding request ids and per-reward-type accrual indices. A receipt is
// created on first deposit and survives while any shares or pending requests
// remain.
package receipt

import (
	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

var (
	ErrReceiptNotFound    = sdkerrors.Register("receipt", 2, "receipt not found")
	ErrInsufficientShares = sdkerrors.Register("receipt", 3, "insufficient shares")
	ErrInvalidAmount      = sdkerrors.Register("receipt", 4, "invalid amount")
)

// Receipt is a depositor's accounting record.
type Receipt struct {
	ID      uint64
	Owner   string
	Shares  sdkmath.Int
	Pending map[uint64]struct{}
	// RewardIndices stores, per reward type, the global accrual index this
	// receipt last settled against.
	RewardIndices map[string]sdkmath.LegacyDec
}

// Registry holds all receipts for one vault, keyed by sequential id with an
// owner lookup for first-deposit creation.
type Registry struct {
	receipts map[uint64]*Receipt
	byOwner  map[string]uint64
	nextID   uint64
}

// NewRegistry creates an empty receipt registry.
func NewRegistry() *Registry {
	return &Registry{
		receipts: make(map[uint64]*Receipt),
		byOwner:  make(map[string]uint64),
	}
}

// GetOrCreate returns the owner's receipt, creating one on first use.
func (r *Registry) GetOrCreate(owner string) *Receipt {
	if id, ok := r.byOwner[owner]; ok {
		return r.receipts[id]
	}

	r.nextID++
	receipt := &Receipt{
		ID:            r.nextID,
		Owner:         owner,
		Shares:        sdkmath.ZeroInt(),
		Pending:       make(map[uint64]struct{}),
		RewardIndices: make(map[string]sdkmath.LegacyDec),
	}
	r.receipts[receipt.ID] = receipt
	r.byOwner[owner] = receipt.ID
	return receipt
}

// Get returns a receipt by id.
func (r *Registry) Get(id uint64) (*Receipt, error) {
	receipt, ok := r.receipts[id]
	if !ok {
		return nil, sdkerrors.Wrapf(ErrReceiptNotFound, "receipt %d", id)
	}
	return receipt, nil
}

// AddShares credits shares to a receipt.
func (r *Registry) AddShares(id uint64, shares sdkmath.Int) error {
	receipt, err := r.Get(id)
	if err != nil {
		return err
	}
	if shares.IsNil() || shares.IsNegative() {
		return sdkerrors.Wrap(ErrInvalidAmount, "shares cannot be negative")
	}
	receipt.Shares = receipt.Shares.Add(shares)
	return nil
}

// SubShares debits shares from a receipt. A short balance is a typed error;
// the balance is never silently clamped to zero.
func (r *Registry) SubShares(id uint64, shares sdkmath.Int) error {
	receipt, err := r.Get(id)
	if err != nil {
		return err
	}
	if shares.IsNil() || shares.IsNegative() {
		return sdkerrors.Wrap(ErrInvalidAmount, "shares cannot be negative")
	}
	if receipt.Shares.LT(shares) {
		return sdkerrors.Wrapf(ErrInsufficientShares,
			"receipt %d holds %s, requested %s", id, receipt.Shares, shares)
	}
	receipt.Shares = receipt.Shares.Sub(shares)
	return nil
}

// TrackRequest records an outstanding request id on the receipt.
func (r *Registry) TrackRequest(id, requestID uint64) error {
	receipt, err := r.Get(id)
	if err != nil {
		return err
	}
	receipt.Pending[requestID] = struct{}{}
	return nil
}

// UntrackRequest removes a settled request id from the receipt.
func (r *Registry) UntrackRequest(id, requestID uint64) error {
	receipt, err := r.Get(id)
	if err != nil {
		return err
	}
	delete(receipt.Pending, requestID)
	return nil
}

// SettleRewardIndex advances the receipt's accrual index for a reward type to
// the supplied global index and returns the index delta the caller should pay
// rewards against. A first settlement returns a zero delta: the receipt only
// accrues from the point it is enrolled.
func (r *Registry) SettleRewardIndex(id uint64, rewardType string, globalIndex sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	receipt, err := r.Get(id)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	last, ok := receipt.RewardIndices[rewardType]
	if !ok {
		receipt.RewardIndices[rewardType] = globalIndex
		return sdkmath.LegacyZeroDec(), nil
	}
	if globalIndex.LT(last) {
		return sdkmath.LegacyZeroDec(), sdkerrors.Wrapf(ErrInvalidAmount,
			"reward index for %s moved backwards: %s -> %s", rewardType, last, globalIndex)
	}
	receipt.RewardIndices[rewardType] = globalIndex
	return globalIndex.Sub(last), nil
}

// Count returns the number of receipts.
func (r *Registry) Count() int {
	return len(r.receipts)
}
