// Package vault implements the custodial vault aggregate: one mutable object
// owning the asset ledger, request buffer, receipt registry and loss guard,
// with every mutation going through its methods. The operation state machine
// (operation.go) and the user deposit/withdraw entry points (userentry.go)
// are views over this single aggregate.
package vault

import (
	"sync"
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/guard"
	"github.com/openyield/vault/internal/ledger"
	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/oracle"
	"github.com/openyield/vault/internal/receipt"
	"github.com/openyield/vault/internal/requests"
	"github.com/openyield/vault/internal/utils"
)

// Status is the vault's lifecycle state.
type Status int

const (
	StatusNormal Status = iota
	StatusDuringOperation
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusDuringOperation:
		return "during_operation"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// AdminCap authorizes configuration changes, pausing and the emergency
// state-escape hatch. It is unforgeable: the secret is minted once inside New
// and the fields are unexported.
type AdminCap struct {
	vaultID string
	secret  string
}

// OperatorCap authorizes starting, returning and finalizing operations and
// executing queued deposits/withdrawals on behalf of the vault.
type OperatorCap struct {
	vaultID string
	secret  string
}

// Config carries the static parameters of a vault instance.
type Config struct {
	ID                string
	PrincipalAsset    string
	PrincipalDecimals uint8
	// ValueFreshness bounds how old a ledger entry may be before total-value
	// computation refuses to sum it.
	ValueFreshness time.Duration
	// CancelLockDelay is the minimum age of a request before it may be
	// cancelled.
	CancelLockDelay  time.Duration
	LossToleranceBps uint32
	EpochLength      time.Duration
}

func (c Config) validate() error {
	if c.ID == "" {
		return sdkerrors.Wrap(ErrInvalidConfig, "vault id cannot be empty")
	}
	if c.PrincipalAsset == "" {
		return sdkerrors.Wrap(ErrInvalidConfig, "principal asset cannot be empty")
	}
	if c.PrincipalDecimals > utils.MaxDecimals {
		return sdkerrors.Wrapf(ErrInvalidConfig, "principal decimals %d exceed maximum", c.PrincipalDecimals)
	}
	if c.ValueFreshness <= 0 {
		return sdkerrors.Wrap(ErrInvalidConfig, "value freshness must be positive")
	}
	if c.CancelLockDelay < 0 {
		return sdkerrors.Wrap(ErrInvalidConfig, "cancel lock delay cannot be negative")
	}
	if c.EpochLength <= 0 {
		return sdkerrors.Wrap(ErrInvalidConfig, "epoch length must be positive")
	}
	return nil
}

// Vault is the aggregate. It exclusively owns escrowed funds in the request
// buffer; adaptor-held assets are a logical lease tracked by the operation
// record until returned and revalued. All exported methods hold the mutex;
// the web layer reads concurrently with the operator loop.
type Vault struct {
	mu sync.Mutex

	cfg    Config
	status Status

	freePrincipal sdkmath.Int // native principal units
	totalShares   sdkmath.Int

	ledger   *ledger.Ledger
	buffer   *requests.Buffer
	receipts *receipt.Registry
	guard    *guard.Guard
	prices   *oracle.Gateway

	op *operationRecord

	adminSecret    string
	operatorSecret string

	log zerolog.Logger
}

// New builds a vault and mints its two capability tokens. The tokens are
// returned exactly once; authority is never inferred from the caller.
func New(cfg Config, gateway *oracle.Gateway, now time.Time) (*Vault, AdminCap, OperatorCap, error) {
	if err := cfg.validate(); err != nil {
		return nil, AdminCap{}, OperatorCap{}, err
	}
	if gateway == nil {
		return nil, AdminCap{}, OperatorCap{}, sdkerrors.Wrap(ErrInvalidConfig, "price gateway cannot be nil")
	}

	l := ledger.New()
	if err := l.Track(cfg.PrincipalAsset); err != nil {
		return nil, AdminCap{}, OperatorCap{}, err
	}
	// The vault starts empty, so the principal valuation is legitimately zero.
	if err := l.Record(cfg.PrincipalAsset, sdkmath.ZeroInt(), now); err != nil {
		return nil, AdminCap{}, OperatorCap{}, err
	}

	g, err := guard.New(cfg.LossToleranceBps, cfg.EpochLength, now, sdkmath.ZeroInt())
	if err != nil {
		return nil, AdminCap{}, OperatorCap{}, err
	}

	v := &Vault{
		cfg:            cfg,
		status:         StatusNormal,
		freePrincipal:  sdkmath.ZeroInt(),
		totalShares:    sdkmath.ZeroInt(),
		ledger:         l,
		buffer:         requests.NewBuffer(),
		receipts:       receipt.NewRegistry(),
		guard:          g,
		prices:         gateway,
		adminSecret:    uuid.NewString(),
		operatorSecret: uuid.NewString(),
		log:            logger.GetForVault(cfg.ID),
	}

	v.log.Info().
		Str("principal", cfg.PrincipalAsset).
		Uint32("tolerance_bps", cfg.LossToleranceBps).
		Msg("Vault created")

	return v,
		AdminCap{vaultID: cfg.ID, secret: v.adminSecret},
		OperatorCap{vaultID: cfg.ID, secret: v.operatorSecret},
		nil
}

func (v *Vault) checkAdmin(cap AdminCap) error {
	if cap.vaultID != v.cfg.ID || cap.secret != v.adminSecret {
		return sdkerrors.Wrap(ErrUnauthorized, "admin capability")
	}
	return nil
}

func (v *Vault) checkOperator(cap OperatorCap) error {
	if cap.vaultID != v.cfg.ID || cap.secret != v.operatorSecret {
		return sdkerrors.Wrap(ErrUnauthorized, "operator capability")
	}
	return nil
}

// ID returns the vault identifier.
func (v *Vault) ID() string {
	return v.cfg.ID
}

// Status returns the current lifecycle status.
func (v *Vault) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// TotalShares returns the current share supply.
func (v *Vault) TotalShares() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares
}

// FreePrincipal returns the un-deployed principal balance in native units.
func (v *Vault) FreePrincipal() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.freePrincipal
}

// TrackAsset registers an adaptor-managed asset type with the ledger. The new
// position starts with a zero valuation: the adaptor holds nothing until an
// operation checks assets out to it.
func (v *Vault) TrackAsset(cap AdminCap, asset string, now time.Time) error {
	if err := v.checkAdmin(cap); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == StatusDisabled {
		return ErrVaultDisabled
	}
	if err := v.ledger.Track(asset); err != nil {
		return err
	}
	if err := v.ledger.Record(asset, sdkmath.ZeroInt(), now); err != nil {
		return err
	}
	v.log.Info().Str("asset", asset).Msg("Asset type tracked")
	return nil
}

// RecordValue is the single gate through which valuation data enters the
// ledger. When the vault is mid-operation with return tracking enabled and the
// asset is one of the borrowed types, the write also marks the asset updated
// in the operation record; a valuation can never be written without that write
// being visible to the reconciliation check.
func (v *Vault) RecordValue(asset string, usdValue sdkmath.Int, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recordValue(asset, usdValue, now)
}

func (v *Vault) recordValue(asset string, usdValue sdkmath.Int, now time.Time) error {
	if v.status == StatusDisabled {
		return ErrVaultDisabled
	}

	if err := v.ledger.Record(asset, usdValue, now); err != nil {
		return err
	}

	if v.status == StatusDuringOperation && v.op != nil && v.op.Enabled {
		if _, borrowed := v.op.Updated[asset]; borrowed {
			v.op.Updated[asset] = true
			v.log.Debug().
				Str("asset", asset).
				Str("operation", v.op.ID.String()).
				Msg("Borrowed asset revalued")
		}
	}
	return nil
}

// TotalValue computes the freshness-checked sum of all asset valuations.
func (v *Vault) TotalValue(now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalValue(now)
}

func (v *Vault) totalValue(now time.Time) (sdkmath.Int, error) {
	return v.ledger.TotalValue(now, v.cfg.ValueFreshness)
}

// SetLossTolerance updates the guard's tolerance. Admin only.
func (v *Vault) SetLossTolerance(cap AdminCap, toleranceBps uint32) error {
	if err := v.checkAdmin(cap); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.guard.SetTolerance(toleranceBps)
}

// ResetEpoch explicitly starts a fresh loss epoch from the current total
// value. Admin only.
func (v *Vault) ResetEpoch(cap AdminCap, now time.Time) error {
	if err := v.checkAdmin(cap); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	total, err := v.totalValue(now)
	if err != nil {
		return err
	}
	v.guard.Reset(now, total)
	return nil
}

// Disable pauses the vault. Only reachable from Normal.
func (v *Vault) Disable(cap AdminCap) error {
	if err := v.checkAdmin(cap); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusNormal {
		return sdkerrors.Wrapf(ErrNotNormal, "status %s", v.status)
	}
	v.status = StatusDisabled
	v.log.Warn().Msg("Vault disabled")
	return nil
}

// Enable resumes a disabled vault.
func (v *Vault) Enable(cap AdminCap) error {
	if err := v.checkAdmin(cap); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != StatusDisabled {
		return sdkerrors.Wrapf(ErrInvalidArgument, "vault is %s, not disabled", v.status)
	}
	v.status = StatusNormal
	v.log.Info().Msg("Vault enabled")
	return nil
}

// Summary is the read model consumed by the web and persistence layers.
type Summary struct {
	VaultID            string         `json:"vault_id"`
	Status             string         `json:"status"`
	TotalShares        sdkmath.Int    `json:"total_shares"`
	TotalValue         sdkmath.Int    `json:"total_value"`
	ValuationFresh     bool           `json:"valuation_fresh"`
	FreePrincipal      sdkmath.Int    `json:"free_principal"`
	EscrowedPrincipal  sdkmath.Int    `json:"escrowed_principal"`
	EpochLoss          sdkmath.Int    `json:"epoch_loss"`
	EpochLossBase      sdkmath.Int    `json:"epoch_loss_base"`
	ToleranceBps       uint32         `json:"tolerance_bps"`
	PendingDeposits    int            `json:"pending_deposits"`
	PendingWithdrawals int            `json:"pending_withdrawals"`
	Receipts           int            `json:"receipts"`
	OperationID        string         `json:"operation_id,omitempty"`
	BorrowedAssets     []string       `json:"borrowed_assets,omitempty"`
	AssetValues        []ledger.Entry `json:"asset_values"`
}

// Summary assembles the current read model. A stale valuation does not fail
// the summary; it is reported through ValuationFresh instead.
func (v *Vault) Summary(now time.Time) Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	total, err := v.totalValue(now)
	fresh := err == nil
	if err != nil {
		total = sdkmath.ZeroInt()
	}

	s := Summary{
		VaultID:            v.cfg.ID,
		Status:             v.status.String(),
		TotalShares:        v.totalShares,
		TotalValue:         total,
		ValuationFresh:     fresh,
		FreePrincipal:      v.freePrincipal,
		EscrowedPrincipal:  v.buffer.EscrowedPrincipal(),
		EpochLoss:          v.guard.EpochLoss(),
		EpochLossBase:      v.guard.EpochLossBase(),
		ToleranceBps:       v.guard.ToleranceBps(),
		PendingDeposits:    v.buffer.PendingDeposits(),
		PendingWithdrawals: v.buffer.PendingWithdrawals(),
		Receipts:           v.receipts.Count(),
		AssetValues:        v.ledger.Entries(),
	}
	if v.op != nil {
		s.OperationID = v.op.ID.String()
		s.BorrowedAssets = append(s.BorrowedAssets, v.op.Borrowed...)
	}
	return s
}

// PendingRequests lists the open deposit and withdraw requests.
type PendingRequests struct {
	Deposits    []requests.DepositRequest  `json:"deposits"`
	Withdrawals []requests.WithdrawRequest `json:"withdrawals"`
}

// PendingRequests returns the open request queues, ordered by id.
func (v *Vault) PendingRequests() PendingRequests {
	v.mu.Lock()
	defer v.mu.Unlock()
	return PendingRequests{
		Deposits:    v.buffer.ListDeposits(),
		Withdrawals: v.buffer.ListWithdrawals(),
	}
}
