package vault

import (
	sdkerrors "cosmossdk.io/errors"
)

// Every public entry point fails with one of these registered errors so that
// callers can tell a retryable rejection from one that needs escalation.
var (
	ErrNotNormal             = sdkerrors.Register("vault", 2, "vault is not in normal status")
	ErrNotDuringOperation    = sdkerrors.Register("vault", 3, "vault is not during an operation")
	ErrVaultDisabled         = sdkerrors.Register("vault", 4, "vault is disabled")
	ErrUnauthorized          = sdkerrors.Register("vault", 5, "capability does not authorize this action")
	ErrReturnNotStarted      = sdkerrors.Register("vault", 6, "borrowed assets have not been returned")
	ErrIncompleteValuation   = sdkerrors.Register("vault", 7, "not all borrowed assets have been revalued")
	ErrShareCountMismatch    = sdkerrors.Register("vault", 8, "total shares changed during the operation")
	ErrZeroShareRatio        = sdkerrors.Register("vault", 9, "share ratio is zero")
	ErrSlippage              = sdkerrors.Register("vault", 10, "result is outside the slippage bounds")
	ErrCancelLocked          = sdkerrors.Register("vault", 11, "request is still inside the cancel lock delay")
	ErrInsufficientLiquidity = sdkerrors.Register("vault", 12, "free principal cannot cover the withdrawal")
	ErrDependencyCycle       = sdkerrors.Register("vault", 13, "dependency would form a cycle")
	ErrInvalidConfig         = sdkerrors.Register("vault", 14, "invalid vault configuration")
	ErrInvalidArgument       = sdkerrors.Register("vault", 15, "invalid argument")
)
