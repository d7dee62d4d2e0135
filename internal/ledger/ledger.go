// Package ledger maintains the per-asset USD valuation table that backs the
// vault's total-value computation. Values are carried at the common 9-decimal
// base and every entry remembers when it was last written, so summation can
// refuse to proceed over stale data.
package ledger

import (
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
)

var (
	ErrUntrackedAsset = sdkerrors.Register("ledger", 2, "asset is not tracked")
	ErrNegativeValue  = sdkerrors.Register("ledger", 3, "usd value is negative")
	ErrStaleValuation = sdkerrors.Register("ledger", 4, "asset valuation is stale")
	ErrAlreadyTracked = sdkerrors.Register("ledger", 5, "asset is already tracked")
)

// Entry is a single asset's last-known valuation.
type Entry struct {
	Asset     string      `json:"asset"`
	Value     sdkmath.Int `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Ledger is the valuation table. It is a plain data structure: the coupling
// between valuation writes and operation bookkeeping lives in the vault
// aggregate, which is the only writer.
type Ledger struct {
	order     []string
	values    map[string]sdkmath.Int
	updatedAt map[string]time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		values:    make(map[string]sdkmath.Int),
		updatedAt: make(map[string]time.Time),
	}
}

// Track registers an asset type. Registration order is preserved so that
// summaries and persistence are deterministic.
func (l *Ledger) Track(asset string) error {
	if _, ok := l.values[asset]; ok {
		return sdkerrors.Wrap(ErrAlreadyTracked, asset)
	}
	l.order = append(l.order, asset)
	l.values[asset] = sdkmath.ZeroInt()
	return nil
}

// IsTracked reports whether the asset type is registered.
func (l *Ledger) IsTracked(asset string) bool {
	_, ok := l.values[asset]
	return ok
}

// Assets returns the tracked asset ids in registration order.
func (l *Ledger) Assets() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Record overwrites the asset's value and timestamp unconditionally. Writing
// the same value twice only refreshes the timestamp; it never double-counts.
func (l *Ledger) Record(asset string, usdValue sdkmath.Int, now time.Time) error {
	if _, ok := l.values[asset]; !ok {
		return sdkerrors.Wrap(ErrUntrackedAsset, asset)
	}
	if usdValue.IsNil() || usdValue.IsNegative() {
		return sdkerrors.Wrap(ErrNegativeValue, asset)
	}

	l.values[asset] = usdValue
	l.updatedAt[asset] = now
	return nil
}

// Value returns the asset's last recorded valuation entry.
func (l *Ledger) Value(asset string) (Entry, error) {
	value, ok := l.values[asset]
	if !ok {
		return Entry{}, sdkerrors.Wrap(ErrUntrackedAsset, asset)
	}
	return Entry{Asset: asset, Value: value, UpdatedAt: l.updatedAt[asset]}, nil
}

// TotalValue sums every tracked asset's valuation. The sum is only meaningful
// if every entry is fresh: an entry older than maxAge, or never written, fails
// with ErrStaleValuation naming the offending asset.
func (l *Ledger) TotalValue(now time.Time, maxAge time.Duration) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, asset := range l.order {
		updated, ok := l.updatedAt[asset]
		if !ok || updated.IsZero() {
			return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrStaleValuation, "asset %s has never been valued", asset)
		}
		if now.Sub(updated) > maxAge {
			return sdkmath.ZeroInt(), sdkerrors.Wrapf(ErrStaleValuation,
				"asset %s last valued %s", asset, updated.Format(time.RFC3339))
		}
		total = total.Add(l.values[asset])
	}
	return total, nil
}

// Entries returns every tracked asset's entry in registration order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.order))
	for _, asset := range l.order {
		out = append(out, Entry{Asset: asset, Value: l.values[asset], UpdatedAt: l.updatedAt[asset]})
	}
	return out
}
