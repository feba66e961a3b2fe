package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/fundamentals-ea/internal/adapter"
	"github.com/yourorg/fundamentals-ea/internal/cache"
	"github.com/yourorg/fundamentals-ea/internal/config"
	"github.com/yourorg/fundamentals-ea/internal/model"
	"github.com/yourorg/fundamentals-ea/internal/otel"
	"github.com/yourorg/fundamentals-ea/internal/security"
	"github.com/yourorg/fundamentals-ea/internal/usage"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// ServerConfig holds the runtime settings loaded from the environment
type ServerConfig struct {
	Port          string
	GlobalTimeout time.Duration
	EnableMetrics bool
	EnableSigning bool
	OtelEndpoint  string
	ConfigPath    string
	CachePath     string
	UsagePath     string
	DataDir       string
}

// Server ties the HTTP surface to the unified adapter
type Server struct {
	config    ServerConfig
	adapter   *adapter.UnifiedAdapter
	signer    *security.Signer
	rateLimit *rate.Limiter
	server    *http.Server
}

func main() {
	// Load .env before anything reads the environment
	if err := godotenv.Load(); err == nil {
		logrus.Info("Loaded environment from .env")
	}

	setupLogging()
	cfg := loadConfig()

	shutdownTracing := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracing()

	server, err := NewServer(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize server: %v", err)
	}
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// loadConfig loads server configuration from environment variables
func loadConfig() ServerConfig {
	return ServerConfig{
		Port:          envOr("PORT", "8080"),
		GlobalTimeout: envDuration("GLOBAL_TIMEOUT", 30*time.Second),
		EnableMetrics: envBool("ENABLE_METRICS", true),
		EnableSigning: envBool("ENABLE_SIGNING", false),
		OtelEndpoint:  os.Getenv("OTEL_ENDPOINT"),
		ConfigPath:    envOr("CONFIG_PATH", "data/sources.json"),
		CachePath:     envOr("CACHE_PATH", "data/cache.json"),
		UsagePath:     envOr("USAGE_PATH", "data/usage.json"),
		DataDir:       envOr("DATA_DIR", "data/spreadsheets"),
	}
}

// NewServer wires the stores, the adapter, and the optional response signer
func NewServer(cfg ServerConfig) (*Server, error) {
	configs, err := config.NewStore(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load source configuration: %w", err)
	}
	cacheStore := cache.NewStore(cfg.CachePath)
	tracker := usage.NewTracker(cfg.UsagePath)

	var registerer prometheus.Registerer
	if cfg.EnableMetrics {
		registerer = prometheus.DefaultRegisterer
	}

	a := adapter.New(configs, cacheStore, tracker, adapter.Options{
		DataDir:       cfg.DataDir,
		GlobalTimeout: cfg.GlobalTimeout,
		Registerer:    registerer,
	})

	signer, err := security.NewSigner(cfg.EnableSigning, envDuration("SIGNATURE_VALIDITY", 24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize response signer: %w", err)
	}

	s := &Server{
		config:    cfg,
		adapter:   a,
		signer:    signer,
		rateLimit: rate.NewLimiter(rate.Limit(envFloat("RATE_LIMIT_RPS", 10.0)), envInt("RATE_LIMIT_BURST", 20)),
	}

	logrus.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"timeout": cfg.GlobalTimeout,
		"metrics": cfg.EnableMetrics,
		"signing": cfg.EnableSigning,
	}).Info("Server initialized")

	return s, nil
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/fetch", s.handleFetch)         // Main data endpoint
	mux.HandleFunc("/configure", s.handleConfigure) // Source credential management
	mux.HandleFunc("/usage", s.handleUsage)         // Usage and cache report
	mux.HandleFunc("/health", s.handleHealth)       // Health check endpoint
	mux.HandleFunc("/metrics", s.handleMetrics)     // Prometheus metrics endpoint
	mux.HandleFunc("/status", s.handleStatus)       // Service status endpoint

	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	if err := s.adapter.Cleanup(); err != nil {
		logrus.Errorf("State persistence failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// FetchRequest is the POST /fetch body
type FetchRequest struct {
	Ticker       string   `json:"ticker"`
	DataTypes    []string `json:"data_types"`
	ForceRefresh bool     `json:"force_refresh"`
}

// ConfigureRequest is the POST /configure body
type ConfigureRequest struct {
	Source  string                 `json:"source"`
	APIKey  string                 `json:"api_key"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// APIResponse is the uniform response envelope
type APIResponse struct {
	RequestID  string                 `json:"request_id"`
	StatusCode int                    `json:"status_code"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// handleFetch resolves a data request through the fallback chain
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	if r.Method != http.MethodPost {
		s.errorResponse(w, requestID, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.rateLimit.Allow() {
		s.errorResponse(w, requestID, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	var request FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.errorResponse(w, requestID, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(request.Ticker) == "" {
		s.errorResponse(w, requestID, http.StatusBadRequest, "Missing ticker")
		return
	}
	if len(request.DataTypes) == 0 {
		request.DataTypes = []string{model.DataTypePrice}
	}

	req := model.NewDataRequest(request.Ticker, request.DataTypes, request.ForceRefresh)
	resp := s.adapter.FetchData(r.Context(), req)
	if !resp.Success {
		s.errorResponse(w, requestID, http.StatusBadGateway, resp.ErrorMessage)
		return
	}

	data := map[string]interface{}{
		"ticker":        req.Ticker,
		"result":        resp.Data,
		"source":        resp.Source,
		"quality_score": resp.QualityScore,
		"cache_hit":     resp.CacheHit,
		"latency_ms":    time.Since(start).Milliseconds(),
	}
	if s.config.EnableSigning {
		signed, err := s.signer.Sign(data)
		if err != nil {
			logrus.Warnf("Failed to sign response: %v", err)
		} else {
			data = signed
		}
	}

	s.writeResponse(w, APIResponse{
		RequestID:  requestID,
		StatusCode: http.StatusOK,
		Status:     "success",
		Data:       data,
	})
}

// handleConfigure stores credentials for a source after verifying access
func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if r.Method != http.MethodPost {
		s.errorResponse(w, requestID, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var request ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.errorResponse(w, requestID, http.StatusBadRequest, "Invalid request body")
		return
	}

	source := model.SourceType(strings.ToLower(strings.TrimSpace(request.Source)))
	if err := s.adapter.ConfigureSource(r.Context(), source, request.APIKey, request.Options); err != nil {
		s.errorResponse(w, requestID, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeResponse(w, APIResponse{
		RequestID:  requestID,
		StatusCode: http.StatusOK,
		Status:     "success",
		Data:       map[string]interface{}{"source": source, "enabled": true},
	})
}

// handleUsage reports per-source statistics and cache activity
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if r.Method != http.MethodGet {
		s.errorResponse(w, requestID, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report := s.adapter.GetUsageReport()
	s.writeResponse(w, APIResponse{
		RequestID:  requestID,
		StatusCode: http.StatusOK,
		Status:     "success",
		Data: map[string]interface{}{
			"sources":       report.Sources,
			"total_calls":   report.TotalCalls,
			"total_cost":    report.TotalCost,
			"monthly_calls": report.MonthlyCalls,
			"monthly_cost":  report.MonthlyCost,
			"cache":         report.Cache,
		},
	})
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		http.Error(w, "Metrics disabled", http.StatusServiceUnavailable)
		return
	}
	promhttp.Handler().ServeHTTP(w, r)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(startTime).String(),
		"version": "1.0.0",
		"configuration": map[string]interface{}{
			"global_timeout": s.config.GlobalTimeout.String(),
			"metrics":        s.config.EnableMetrics,
			"signing":        s.config.EnableSigning,
		},
	}
	if s.config.EnableSigning {
		status["public_key"] = s.signer.PublicKey()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	json.NewEncoder(w).Encode(resp)
}

// errorResponse returns a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, requestID string, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)

	s.writeResponse(w, APIResponse{
		RequestID:  requestID,
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
	})
}

// Environment parsing. Malformed values fall back to the default with a
// warning rather than aborting startup.

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.Warnf("Ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logrus.Warnf("Ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("Ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.Warnf("Ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return f
}
