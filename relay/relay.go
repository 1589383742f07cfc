// Package relay exposes a completion provider over HTTP with the credential
// held server side, and provides a Client for that wire contract.
//
// Wire contract:
//
//	POST /api/claude  {"system": "...", "message": "..."}
//	200               {"response": "..."}
//	non-2xx           {"error": "..."}
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bbiangul/rhizome/llm"
)

// ErrNotConfiguredMessage is the error body returned when the relay holds no
// provider credential.
const ErrNotConfiguredMessage = "API key not configured on server"

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" json:"max_requests" env:"MAX_REQUESTS"`
	Interval         time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold" env:"FAILURE_THRESHOLD"`
	MinRequests      uint32        `yaml:"min_requests" json:"min_requests" env:"MIN_REQUESTS"`
}

// Config holds relay configuration.
type Config struct {
	Model             string        `yaml:"model" json:"model" env:"MODEL"`
	MaxTokens         int           `yaml:"max_tokens" json:"max_tokens" env:"MAX_TOKENS"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	Burst             int           `yaml:"burst" json:"burst" env:"BURST"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" json:"max_body_bytes" env:"MAX_BODY_BYTES"`
	Breaker           BreakerConfig `yaml:"breaker" json:"breaker" envPrefix:"BREAKER_"`
}

// DefaultConfig returns the relay defaults: the fixed model and token
// ceiling, 60 requests a minute and a breaker that opens at 80% failures.
func DefaultConfig() Config {
	return Config{
		Model:             "claude-sonnet-4-20250514",
		MaxTokens:         llm.DefaultMaxTokens,
		RequestsPerMinute: 60,
		Burst:             10,
		MaxBodyBytes:      1 << 20,
		Breaker: BreakerConfig{
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
	}
}

// Request is the body of POST /api/claude.
type Request struct {
	System  string `json:"system"`
	Message string `json:"message" validate:"required"`
}

type response struct {
	Response string `json:"response"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves the relay endpoints.
type Handler struct {
	provider llm.Provider
	cfg      Config
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	metrics  *Metrics
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler creates a relay over provider. A nil provider means no
// credential is configured and every completion request is refused. m may
// be nil.
func NewHandler(provider llm.Provider, cfg Config, m *Metrics) *Handler {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = def.Breaker
	}

	h := &Handler{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.Burst),
		metrics:  m,
		validate: validator.New(),
		now:      time.Now,
	}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relay-provider",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("relay: circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			m.setBreaker(to)
		},
		IsSuccessful: providerHealthy,
	})
	return h
}

// providerHealthy reports whether err says nothing bad about the provider
// itself. Client errors such as a rejected prompt do not count against it.
func providerHealthy(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// Register mounts the relay routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/claude", h.ServeComplete)
	mux.HandleFunc("GET /health", h.ServeHealth)
}

// CredentialConfigured reports whether completions can be served.
func (h *Handler) CredentialConfigured() bool {
	return h.provider != nil
}

// ServeComplete handles POST /api/claude.
func (h *Handler) ServeComplete(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		slog.Error("relay: no provider credential configured")
		h.fail(w, http.StatusInternalServerError, outcomeUnconfigured, ErrNotConfiguredMessage)
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, outcomeBadRequest, "invalid request body: expected JSON with 'system' and 'message'")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, http.StatusBadRequest, outcomeBadRequest, "message is required")
		return
	}

	if !h.limiter.Allow() {
		h.fail(w, http.StatusTooManyRequests, outcomeRateLimited, "rate limit exceeded, retry shortly")
		return
	}

	slog.Info("relay: request", "system_len", len(req.System), "message_len", len(req.Message))

	start := time.Now()
	out, err := h.breaker.Execute(func() (any, error) {
		return h.provider.Chat(r.Context(), llm.ChatRequest{
			Model: h.cfg.Model,
			Messages: []llm.Message{
				{Role: "system", Content: req.System},
				{Role: "user", Content: req.Message},
			},
			MaxTokens: h.cfg.MaxTokens,
		})
	})
	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.Duration.Observe(elapsed.Seconds())
	}

	if err != nil {
		h.providerFailure(w, err)
		return
	}

	resp := out.(*llm.ChatResponse)
	slog.Info("relay: response",
		"model", resp.Model,
		"tokens", resp.TotalTokens,
		"elapsed", elapsed.Round(time.Millisecond))
	h.metrics.observe(outcomeOK)
	writeJSON(w, http.StatusOK, response{Response: resp.Content})
}

func (h *Handler) providerFailure(w http.ResponseWriter, err error) {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		slog.Warn("relay: provider circuit open", "error", err)
		h.fail(w, http.StatusServiceUnavailable, outcomeCircuitOpen, "provider temporarily unavailable, retry shortly")
	case errors.As(err, &apiErr):
		slog.Error("relay: provider error", "status", apiErr.StatusCode, "error", apiErr.Message)
		h.fail(w, apiErr.StatusCode, outcomeProviderError, apiErr.Message)
	default:
		slog.Error("relay: server error", "error", err)
		h.fail(w, http.StatusInternalServerError, outcomeServerError, fmt.Sprintf("Server error: %v", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, outcome, msg string) {
	h.metrics.observe(outcome)
	writeJSON(w, status, errorBody{Error: msg})
}

// Health is the body of GET /health.
type Health struct {
	Status               string `json:"status"`
	CredentialConfigured bool   `json:"credential_configured"`
	Breaker              string `json:"breaker"`
	Timestamp            string `json:"timestamp"`
}

// ServeHealth handles GET /health.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:               "ok",
		CredentialConfigured: h.CredentialConfigured(),
		Breaker:              h.breaker.State().String(),
		Timestamp:            h.now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
