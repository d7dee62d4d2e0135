// Package requests holds the pending deposit/withdraw request buffer. Requests
// are immutable snapshots created at request time; execution and cancellation
// both consume the entry, which makes the two outcomes mutually exclusive for
// a given id.
package requests

import (
	"sort"
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

var (
	ErrRequestNotFound = sdkerrors.Register("requests", 2, "request not found")
	ErrInvalidRequest  = sdkerrors.Register("requests", 3, "invalid request")
)

// DepositRequest is a pending deposit with escrowed principal.
type DepositRequest struct {
	ID             uint64      `json:"id"`
	ReceiptID      uint64      `json:"receipt_id"`
	Amount         sdkmath.Int `json:"amount"`          // escrowed principal, native units
	ExpectedShares sdkmath.Int `json:"expected_shares"` // lower slippage bound, validated at execution
	CreatedAt      time.Time   `json:"created_at"`
}

// WithdrawRequest is a pending withdrawal with escrowed shares.
type WithdrawRequest struct {
	ID             uint64      `json:"id"`
	ReceiptID      uint64      `json:"receipt_id"`
	Shares         sdkmath.Int `json:"shares"`          // escrowed shares
	ExpectedAmount sdkmath.Int `json:"expected_amount"` // lower slippage bound, native units
	CreatedAt      time.Time   `json:"created_at"`
}

// Buffer stores pending requests keyed by sequential id. Deposit and withdraw
// ids are independent sequences starting at one, matching how users see them.
type Buffer struct {
	deposits       map[uint64]DepositRequest
	withdrawals    map[uint64]WithdrawRequest
	nextDepositID  uint64
	nextWithdrawID uint64

	escrowedPrincipal sdkmath.Int
	escrowedShares    sdkmath.Int
}

// NewBuffer creates an empty request buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		deposits:          make(map[uint64]DepositRequest),
		withdrawals:       make(map[uint64]WithdrawRequest),
		escrowedPrincipal: sdkmath.ZeroInt(),
		escrowedShares:    sdkmath.ZeroInt(),
	}
}

// AddDeposit escrows the amount and stores a new deposit request, returning
// its id.
func (b *Buffer) AddDeposit(receiptID uint64, amount, expectedShares sdkmath.Int, now time.Time) (uint64, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return 0, sdkerrors.Wrap(ErrInvalidRequest, "deposit amount must be positive")
	}
	if expectedShares.IsNil() || expectedShares.IsNegative() {
		return 0, sdkerrors.Wrap(ErrInvalidRequest, "expected shares cannot be negative")
	}

	b.nextDepositID++
	id := b.nextDepositID
	b.deposits[id] = DepositRequest{
		ID:             id,
		ReceiptID:      receiptID,
		Amount:         amount,
		ExpectedShares: expectedShares,
		CreatedAt:      now,
	}
	b.escrowedPrincipal = b.escrowedPrincipal.Add(amount)
	return id, nil
}

// AddWithdraw escrows the shares and stores a new withdraw request, returning
// its id.
func (b *Buffer) AddWithdraw(receiptID uint64, shares, expectedAmount sdkmath.Int, now time.Time) (uint64, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return 0, sdkerrors.Wrap(ErrInvalidRequest, "withdraw shares must be positive")
	}
	if expectedAmount.IsNil() || expectedAmount.IsNegative() {
		return 0, sdkerrors.Wrap(ErrInvalidRequest, "expected amount cannot be negative")
	}

	b.nextWithdrawID++
	id := b.nextWithdrawID
	b.withdrawals[id] = WithdrawRequest{
		ID:             id,
		ReceiptID:      receiptID,
		Shares:         shares,
		ExpectedAmount: expectedAmount,
		CreatedAt:      now,
	}
	b.escrowedShares = b.escrowedShares.Add(shares)
	return id, nil
}

// GetDeposit returns a pending deposit request without consuming it.
func (b *Buffer) GetDeposit(id uint64) (DepositRequest, error) {
	request, ok := b.deposits[id]
	if !ok {
		return DepositRequest{}, sdkerrors.Wrapf(ErrRequestNotFound, "deposit %d", id)
	}
	return request, nil
}

// GetWithdraw returns a pending withdraw request without consuming it.
func (b *Buffer) GetWithdraw(id uint64) (WithdrawRequest, error) {
	request, ok := b.withdrawals[id]
	if !ok {
		return WithdrawRequest{}, sdkerrors.Wrapf(ErrRequestNotFound, "withdraw %d", id)
	}
	return request, nil
}

// TakeDeposit consumes and returns a pending deposit request, releasing its
// escrow total. Whichever of execution or cancellation calls this first wins.
func (b *Buffer) TakeDeposit(id uint64) (DepositRequest, error) {
	request, ok := b.deposits[id]
	if !ok {
		return DepositRequest{}, sdkerrors.Wrapf(ErrRequestNotFound, "deposit %d", id)
	}
	delete(b.deposits, id)
	b.escrowedPrincipal = b.escrowedPrincipal.Sub(request.Amount)
	return request, nil
}

// TakeWithdraw consumes and returns a pending withdraw request, releasing its
// escrow total.
func (b *Buffer) TakeWithdraw(id uint64) (WithdrawRequest, error) {
	request, ok := b.withdrawals[id]
	if !ok {
		return WithdrawRequest{}, sdkerrors.Wrapf(ErrRequestNotFound, "withdraw %d", id)
	}
	delete(b.withdrawals, id)
	b.escrowedShares = b.escrowedShares.Sub(request.Shares)
	return request, nil
}

// EscrowedPrincipal returns the total principal currently escrowed for
// pending deposits.
func (b *Buffer) EscrowedPrincipal() sdkmath.Int {
	return b.escrowedPrincipal
}

// EscrowedShares returns the total shares currently escrowed for pending
// withdrawals.
func (b *Buffer) EscrowedShares() sdkmath.Int {
	return b.escrowedShares
}

// ListDeposits returns the pending deposit requests ordered by id.
func (b *Buffer) ListDeposits() []DepositRequest {
	out := make([]DepositRequest, 0, len(b.deposits))
	for _, request := range b.deposits {
		out = append(out, request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListWithdrawals returns the pending withdraw requests ordered by id.
func (b *Buffer) ListWithdrawals() []WithdrawRequest {
	out := make([]WithdrawRequest, 0, len(b.withdrawals))
	for _, request := range b.withdrawals {
		out = append(out, request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingDeposits returns the number of pending deposit requests.
func (b *Buffer) PendingDeposits() int {
	return len(b.deposits)
}

// PendingWithdrawals returns the number of pending withdraw requests.
func (b *Buffer) PendingWithdrawals() int {
	return len(b.withdrawals)
}
