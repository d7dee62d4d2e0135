// Package config loads all application configuration from environment
// variables at startup. Every variable without an explicit default is
// required; startup fails loudly rather than running with a guessed value.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Application configuration, populated by LoadConfig.
var (
	// VaultID is the identifier of the vault this process manages.
	VaultID string

	// PrincipalAsset is the ledger id of the principal asset.
	PrincipalAsset string
	// PrincipalDecimals is the native precision of the principal asset.
	PrincipalDecimals uint8
	// PrincipalFeedDecimals is the precision of the principal price feed.
	PrincipalFeedDecimals uint8

	// ValueFreshness bounds how old a valuation may be before total-value
	// computation refuses it.
	ValueFreshness time.Duration
	// CancelLockDelay is the minimum age of a request before cancellation.
	CancelLockDelay time.Duration
	// LossToleranceBps is the per-epoch loss budget in basis points.
	LossToleranceBps uint32
	// EpochLength is the loss-accounting epoch duration.
	EpochLength time.Duration

	// PriceMaxStaleness is the feed staleness bound.
	PriceMaxStaleness time.Duration
	// PriceMaxDeviationBps bounds single-update price jumps; 0 disables.
	PriceMaxDeviationBps uint32

	// OperatorInterval is the cycle interval of the operator loop.
	OperatorInterval time.Duration
	// OperatorMaxSlippageBps bounds executed requests against the quote.
	OperatorMaxSlippageBps uint32
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultID, err = getEnv("VAULT_ID")
	if err != nil {
		return err
	}
	PrincipalAsset, err = getEnv("PRINCIPAL_ASSET")
	if err != nil {
		return err
	}
	PrincipalDecimals, err = getEnvAsUint8("PRINCIPAL_DECIMALS")
	if err != nil {
		return err
	}
	PrincipalFeedDecimals, err = getEnvAsUint8("PRINCIPAL_FEED_DECIMALS")
	if err != nil {
		return err
	}

	ValueFreshness, err = getEnvAsDuration("VALUE_FRESHNESS")
	if err != nil {
		return err
	}
	CancelLockDelay, err = getEnvAsDuration("CANCEL_LOCK_DELAY")
	if err != nil {
		return err
	}
	LossToleranceBps, err = getEnvAsUint32("LOSS_TOLERANCE_BPS")
	if err != nil {
		return err
	}
	EpochLength, err = getEnvAsDuration("EPOCH_LENGTH")
	if err != nil {
		return err
	}

	PriceMaxStaleness, err = getEnvAsDuration("PRICE_MAX_STALENESS")
	if err != nil {
		return err
	}
	PriceMaxDeviationBps, err = getEnvAsUint32("PRICE_MAX_DEVIATION_BPS")
	if err != nil {
		return err
	}

	OperatorInterval, err = getEnvAsDuration("OPERATOR_INTERVAL")
	if err != nil {
		return err
	}
	OperatorMaxSlippageBps, err = getEnvAsUint32("OPERATOR_MAX_SLIPPAGE_BPS")
	if err != nil {
		return err
	}

	log.Debug().
		Str("VaultID", VaultID).
		Str("PrincipalAsset", PrincipalAsset).
		Uint32("LossToleranceBps", LossToleranceBps).
		Dur("OperatorInterval", OperatorInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint8 retrieves an environment variable as a uint8.
func getEnvAsUint8(key string) (uint8, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 8)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint8, got: " + valueStr)
	}
	return uint8(value), nil
}

// getEnvAsUint32 retrieves an environment variable as a uint32.
func getEnvAsUint32(key string) (uint32, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 32)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint32, got: " + valueStr)
	}
	return uint32(value), nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration
// (e.g. "10m", "1h30m").
func getEnvAsDuration(key string) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
