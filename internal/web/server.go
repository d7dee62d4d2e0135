package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"

	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/oracle"
	"github.com/openyield/vault/internal/state"
	"github.com/openyield/vault/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the vault read model over HTTP.
type WebServer struct {
	router  *mux.Router
	port    string
	vault   *vault.Vault
	gateway *oracle.Gateway
	started time.Time
}

// NewWebServer creates a new web server instance over a vault and its price
// gateway.
func NewWebServer(port string, v *vault.Vault, gateway *oracle.Gateway) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		vault:   v,
		gateway: gateway,
		started: time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/requests", ws.handleGetRequests).Methods("GET")
	api.HandleFunc("/prices", ws.handleGetPrices).Methods("GET")
	api.HandleFunc("/prices/{asset}", ws.handleSetPrice).Methods("POST")
	api.HandleFunc("/operations", ws.handleGetOperations).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and vault health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	summary := ws.vault.Summary(time.Now())

	hasErrors := false
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}
	if !summary.ValuationFresh {
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"vault_status": map[string]interface{}{
			"vault_id":         summary.VaultID,
			"status":           summary.Status,
			"valuation_fresh":  summary.ValuationFresh,
			"database_healthy": dbHealthy,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns the current vault read model
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.vault.Summary(time.Now()))
}

// handleGetRequests returns the open deposit and withdraw queues
func (ws *WebServer) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	pending := ws.vault.PendingRequests()

	response := map[string]interface{}{
		"deposits":    pending.Deposits,
		"withdrawals": pending.Withdrawals,
		"timestamp":   time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPrices returns the current normalized price per registered asset
func (ws *WebServer) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	prices := make([]map[string]interface{}, 0)
	for _, asset := range ws.gateway.Assets() {
		entry := map[string]interface{}{"asset": asset}

		level, err := ws.gateway.StalenessLevel(asset, now)
		if err == nil {
			entry["staleness"] = level
		}

		price, err := ws.gateway.NormalizedPrice(asset, now)
		if err != nil {
			entry["error"] = err.Error()
		} else {
			entry["value"] = price.Value.String()
			entry["updated_at"] = price.UpdatedAt
		}
		prices = append(prices, entry)
	}

	response := map[string]interface{}{
		"prices":    prices,
		"timestamp": now.UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleSetPrice accepts a raw feed sample for a registered asset. The
// gateway applies its own negative/deviation checks; this handler only
// parses.
func (ws *WebServer) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]

	var body struct {
		Raw string `json:"raw"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	raw, ok := sdkmath.NewIntFromString(body.Raw)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Field raw must be an integer string")
		return
	}

	if err := ws.gateway.SetPrice(asset, raw, time.Now()); err != nil {
		webLogger.Warn().Err(err).Str("asset", asset).Msg("Price sample rejected")
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"asset":     asset,
		"raw":       raw.String(),
		"timestamp": time.Now().UTC(),
	})
}

// handleGetOperations returns the recent operation audit trail
func (ws *WebServer) handleGetOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)

	operations, err := state.GetRecentOperations(ws.vault.ID(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent operations")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operations")
		return
	}

	response := map[string]interface{}{
		"operations": operations,
		"count":      len(operations),
		"limit":      limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshots returns stored vault snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)

	snapshots, err := state.GetRecentSnapshots(ws.vault.ID(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// parseLimit reads the limit query parameter, capped at 100.
func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
