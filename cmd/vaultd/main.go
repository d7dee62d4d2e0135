package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/openyield/vault/internal/config"
	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/operator"
	"github.com/openyield/vault/internal/oracle"
	"github.com/openyield/vault/internal/state"
	"github.com/openyield/vault/internal/vault"
	"github.com/openyield/vault/internal/web"
)

// main is the entry point for the vault daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Str("vault", config.VaultID).Msg("Vault daemon starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Price Gateway and Vault ---
	gateway := oracle.NewGateway()
	if err := gateway.RegisterFeed(
		config.PrincipalAsset,
		config.PrincipalFeedDecimals,
		config.PriceMaxStaleness,
		config.PriceMaxDeviationBps,
	); err != nil {
		log.Fatal().Err(err).Msg("Failed to register principal price feed")
	}

	now := time.Now()
	v, adminCap, operatorCap, err := vault.New(vault.Config{
		ID:                config.VaultID,
		PrincipalAsset:    config.PrincipalAsset,
		PrincipalDecimals: config.PrincipalDecimals,
		ValueFreshness:    config.ValueFreshness,
		CancelLockDelay:   config.CancelLockDelay,
		LossToleranceBps:  config.LossToleranceBps,
		EpochLength:       config.EpochLength,
	}, gateway, now)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault")
	}
	// The admin capability stays with the process owner; nothing in the
	// daemon's steady state uses it.
	_ = adminCap

	// --- 3. Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, v, gateway)
	go func() {
		log.Info().Str("port", webPort).Msg("Starting vault web server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Operator Loop ---
	op, err := operator.New(operator.Config{
		Vault:          v,
		OperatorCap:    operatorCap,
		MaxSlippageBps: config.OperatorMaxSlippageBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create operator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Dur("interval", config.OperatorInterval).Msg("Starting operator loop")
	op.RunLoop(ctx, config.OperatorInterval)

	log.Info().Msg("Vault daemon shut down")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
