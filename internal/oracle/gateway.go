// Package oracle implements the price gateway: it accepts raw feed updates at
// arbitrary source precision and serves normalized 9-decimal prices with
// staleness, zero-price and deviation guarantees enforced at the boundary.
package oracle

import (
	"sync"
	"time"

	sdkerrors "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/utils"
)

var (
	ErrUnknownAsset   = sdkerrors.Register("oracle", 2, "no feed registered for asset")
	ErrStalePrice     = sdkerrors.Register("oracle", 3, "price is stale")
	ErrZeroPrice      = sdkerrors.Register("oracle", 4, "price is zero")
	ErrNegativePrice  = sdkerrors.Register("oracle", 5, "price is negative")
	ErrPriceDeviation = sdkerrors.Register("oracle", 6, "price deviates beyond the configured bound")
	ErrFeedExists     = sdkerrors.Register("oracle", 7, "feed already registered")
	ErrInvalidFeed    = sdkerrors.Register("oracle", 8, "invalid feed configuration")
)

// Staleness levels exposed to the ops surface. Only Stale blocks a lookup;
// Warning and Critical are reported so an operator can intervene before the
// vault starts rejecting valuations.
const (
	StalenessFresh    = "fresh"
	StalenessWarning  = "warning"
	StalenessCritical = "critical"
	StalenessStale    = "stale"
)

// Price is a normalized price sample at the common 9-decimal base.
type Price struct {
	Asset     string
	Value     sdkmath.Int
	UpdatedAt time.Time
}

// Feed is the per-asset feed configuration plus the last accepted sample.
type Feed struct {
	Asset           string
	Decimals        uint8
	MaxStaleness    time.Duration
	MaxDeviationBps uint32 // 0 disables the deviation guard

	raw       sdkmath.Int
	updatedAt time.Time
}

// Gateway converts raw price feeds into normalized prices. It never mutates
// feed configuration on the lookup path. Safe for concurrent use: feed
// updaters and lookups run on different goroutines.
type Gateway struct {
	mu    sync.RWMutex
	feeds map[string]*Feed
	order []string
	log   zerolog.Logger
}

// NewGateway creates an empty price gateway.
func NewGateway() *Gateway {
	return &Gateway{
		feeds: make(map[string]*Feed),
		log:   logger.GetForComponent("oracle_gateway"),
	}
}

// RegisterFeed adds a feed for an asset. Registration is one-shot: changing a
// feed's parameters requires a new gateway, which keeps lookups side-effect
// free.
func (g *Gateway) RegisterFeed(asset string, decimals uint8, maxStaleness time.Duration, maxDeviationBps uint32) error {
	if asset == "" {
		return sdkerrors.Wrap(ErrInvalidFeed, "asset id cannot be empty")
	}
	if decimals > utils.MaxDecimals {
		return sdkerrors.Wrapf(ErrInvalidFeed, "decimals %d exceed maximum %d", decimals, utils.MaxDecimals)
	}
	if maxStaleness <= 0 {
		return sdkerrors.Wrap(ErrInvalidFeed, "max staleness must be positive")
	}
	if maxDeviationBps > utils.BpsDenominator {
		return sdkerrors.Wrapf(ErrInvalidFeed, "max deviation %d bps exceeds 10000", maxDeviationBps)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.feeds[asset]; ok {
		return sdkerrors.Wrap(ErrFeedExists, asset)
	}

	g.feeds[asset] = &Feed{
		Asset:           asset,
		Decimals:        decimals,
		MaxStaleness:    maxStaleness,
		MaxDeviationBps: maxDeviationBps,
		raw:             sdkmath.ZeroInt(),
	}
	g.order = append(g.order, asset)

	g.log.Info().
		Str("asset", asset).
		Uint8("decimals", decimals).
		Dur("max_staleness", maxStaleness).
		Uint32("max_deviation_bps", maxDeviationBps).
		Msg("Price feed registered")
	return nil
}

// SetPrice records a raw feed sample. The sample is boundary input: negatives
// are rejected outright, and a jump beyond the deviation bound relative to the
// last accepted non-zero sample is refused so a single compromised update
// cannot move the ledger.
func (g *Gateway) SetPrice(asset string, raw sdkmath.Int, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	feed, ok := g.feeds[asset]
	if !ok {
		return sdkerrors.Wrap(ErrUnknownAsset, asset)
	}
	if raw.IsNil() {
		return sdkerrors.Wrap(ErrInvalidFeed, "raw price is nil")
	}
	if raw.IsNegative() {
		return sdkerrors.Wrap(ErrNegativePrice, asset)
	}

	if feed.MaxDeviationBps > 0 && !feed.raw.IsZero() && !raw.IsZero() {
		diff := raw.Sub(feed.raw).Abs()
		limit := utils.BpsOf(feed.raw, feed.MaxDeviationBps)
		if diff.GT(limit) {
			return sdkerrors.Wrapf(ErrPriceDeviation,
				"asset %s: previous %s, submitted %s, limit %s", asset, feed.raw, raw, limit)
		}
	}

	feed.raw = raw
	feed.updatedAt = now

	g.log.Debug().Str("asset", asset).Str("raw", raw.String()).Msg("Price sample accepted")
	return nil
}

// NormalizedPrice returns the asset's last price rescaled to the 9-decimal
// base. Fails with ErrStalePrice when now - updated >= the feed's staleness
// bound, and with ErrZeroPrice when the last sample is zero: a zero price must
// never reach a division downstream.
func (g *Gateway) NormalizedPrice(asset string, now time.Time) (Price, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	feed, ok := g.feeds[asset]
	if !ok {
		return Price{}, sdkerrors.Wrap(ErrUnknownAsset, asset)
	}
	if feed.updatedAt.IsZero() {
		return Price{}, sdkerrors.Wrapf(ErrStalePrice, "asset %s has no sample", asset)
	}
	if now.Sub(feed.updatedAt) >= feed.MaxStaleness {
		return Price{}, sdkerrors.Wrapf(ErrStalePrice,
			"asset %s last updated %s", asset, feed.updatedAt.Format(time.RFC3339))
	}
	if feed.raw.IsZero() {
		return Price{}, sdkerrors.Wrap(ErrZeroPrice, asset)
	}

	normalized, err := utils.NormalizeToBase(feed.raw, feed.Decimals)
	if err != nil {
		return Price{}, err
	}
	if normalized.IsZero() {
		// Non-zero raw value collapsed to zero during rescale (dust feed).
		return Price{}, sdkerrors.Wrap(ErrZeroPrice, asset)
	}

	return Price{Asset: asset, Value: normalized, UpdatedAt: feed.updatedAt}, nil
}

// StalenessLevel classifies a feed's age for the ops surface: warning at half
// the staleness bound, critical at three quarters, stale at or past the bound.
func (g *Gateway) StalenessLevel(asset string, now time.Time) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	feed, ok := g.feeds[asset]
	if !ok {
		return "", sdkerrors.Wrap(ErrUnknownAsset, asset)
	}
	if feed.updatedAt.IsZero() {
		return StalenessStale, nil
	}

	age := now.Sub(feed.updatedAt)
	switch {
	case age >= feed.MaxStaleness:
		return StalenessStale, nil
	case age >= feed.MaxStaleness*3/4:
		return StalenessCritical, nil
	case age >= feed.MaxStaleness/2:
		return StalenessWarning, nil
	default:
		return StalenessFresh, nil
	}
}

// Assets returns the registered asset ids in registration order.
func (g *Gateway) Assets() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
