// Package web serves the landing and stake pages, the JSON stake API and the
// WebSocket snapshot stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/metrics"
	"github.com/invar/vault/internal/stake"
	"github.com/invar/vault/internal/util"
)

// Controller is the part of the stake controller the server drives.
type Controller interface {
	Connect(ctx context.Context) (common.Address, error)
	Disconnect()
	SetDeposit(input string)
	StakeAmount(ctx context.Context, input string) (common.Hash, error)
	Stake(ctx context.Context) (common.Hash, error)
	Withdraw(ctx context.Context) (common.Hash, error)
	ClaimRewards(ctx context.Context) (common.Hash, error)
	Snapshot() stake.Snapshot
	Subscribe() (<-chan stake.Snapshot, func())
}

// Server is the HTTP front end of the vault.
type Server struct {
	config     *ServerConfig
	controller Controller
	metrics    *metrics.Collector
	httpServer *http.Server

	mu      sync.RWMutex
	running bool

	// ctx bounds background form actions and WebSocket streams.
	ctx    context.Context
	cancel context.CancelFunc
	ops    sync.WaitGroup

	// Per-IP rate limiters
	rateLimiters sync.Map
}

// rateLimiterEntry holds a rate limiter and the last time it was used
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr    string
	MintURL string // empty renders a notice on /mint

	// Rate limiting, requests per second per client IP. Zero disables it.
	RateLimit      float64
	RateLimitBurst int

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	Version string
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:              "127.0.0.1:8080",
		RateLimit:         10,
		RateLimitBurst:    20,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Version:           "dev",
	}
}

// NewServer creates a server driving ctrl. collector may be nil.
func NewServer(cfg *ServerConfig, ctrl Controller, collector *metrics.Collector) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:     cfg,
		controller: ctrl,
		metrics:    collector,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start listens on the configured address. It returns once the listener is
// bound; serving continues in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.running = true
	s.mu.Unlock()

	if s.config.RateLimit > 0 {
		s.startRateLimiterCleanup(ctx)
	}

	srv := s.httpServer
	util.SafeGoWithName("web-server", func() {
		logging.Info("web server starting", "addr", ln.Addr().String(), logging.Component("web"))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("web server error", logging.Err(err), logging.Component("web"))
		}
	})
	return nil
}

// Stop shuts the listener down, cancels background actions and streams and
// waits for them to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	wasRunning := s.running
	s.running = false
	s.httpServer = nil
	s.cancel()
	s.mu.Unlock()

	var err error
	if srv != nil {
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("HTTP server shutdown: %w", shutdownErr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.ops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("waiting for background actions: %w", ctx.Err())
		}
	}

	if wasRunning {
		logging.Info("web server stopped", logging.Component("web"))
	}
	return err
}

// Handler returns the router with all pages and API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Pages
	mux.HandleFunc("GET /{$}", s.withMiddleware("/", s.handleLanding))
	mux.HandleFunc("GET /mint", s.withMiddleware("/mint", s.handleMint))
	mux.HandleFunc("GET /stake", s.withMiddleware("/stake", s.handleStakePage))
	mux.HandleFunc("POST /stake/connect", s.withMiddleware("/stake/connect", s.handleFormConnect))
	mux.HandleFunc("POST /stake/disconnect", s.withMiddleware("/stake/disconnect", s.handleFormDisconnect))
	mux.HandleFunc("POST /stake/deposit", s.withMiddleware("/stake/deposit", s.handleFormDeposit))
	mux.HandleFunc("POST /stake/withdraw", s.withMiddleware("/stake/withdraw", s.handleFormWithdraw))
	mux.HandleFunc("POST /stake/claim", s.withMiddleware("/stake/claim", s.handleFormClaim))

	// JSON API
	mux.HandleFunc("GET /v1/stake", s.withMiddleware("/v1/stake", s.handleSnapshot))
	mux.HandleFunc("POST /v1/stake/connect", s.withMiddleware("/v1/stake/connect", s.handleConnect))
	mux.HandleFunc("POST /v1/stake/disconnect", s.withMiddleware("/v1/stake/disconnect", s.handleDisconnect))
	mux.HandleFunc("POST /v1/stake/stake", s.withMiddleware("/v1/stake/stake", s.handleStake))
	mux.HandleFunc("POST /v1/stake/withdraw", s.withMiddleware("/v1/stake/withdraw", s.handleWithdraw))
	mux.HandleFunc("POST /v1/stake/claim", s.withMiddleware("/v1/stake/claim", s.handleClaim))

	// Snapshot stream. The upgrade needs the raw ResponseWriter, so only the
	// rate limiter applies.
	mux.HandleFunc("GET /v1/stake/ws", s.withRateLimit(s.handleStream))

	mux.HandleFunc("GET /health", s.handleHealthCheck)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMiddleware wraps a handler with rate limiting and request metrics.
func (s *Server) withMiddleware(route string, handler http.HandlerFunc) http.HandlerFunc {
	limited := s.withRateLimit(handler)
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		limited(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, rec.status, time.Since(start))
		}
	}
}

func (s *Server) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.RateLimit > 0 {
			ip := clientIP(r)
			if !s.getRateLimiter(ip).Allow() {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
					logging.Component("web"))
				w.Header().Set("Retry-After", "1")
				s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		handler(w, r)
	}
}

// getRateLimiter returns the rate limiter for the given IP address.
// It creates a new limiter if one does not already exist.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeen = now
		return entry.limiter
	}

	entry := &rateLimiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateLimitBurst),
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// clientIP uses the TCP remote address; proxy headers are not trusted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return ip
}

// startRateLimiterCleanup periodically removes stale rate limiters until the
// server stops or ctx is done.
func (s *Server) startRateLimiterCleanup(ctx context.Context) {
	if !s.track() {
		return
	}
	util.SafeGoWithName("web-ratelimit-cleanup", func() {
		defer s.ops.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.cleanupRateLimiters(time.Now().Add(-10 * time.Minute))
			}
		}
	})
}

// cleanupRateLimiters removes rate limiter entries not seen since threshold.
func (s *Server) cleanupRateLimiters(threshold time.Time) int {
	var cleaned int
	s.rateLimiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		if entry.lastSeen.Before(threshold) {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("web"))
	}
	return cleaned
}

// background runs a form action detached from the request. Its outcome
// reaches the page through the controller's notices.
func (s *Server) background(name string, fn func(ctx context.Context)) {
	if !s.track() {
		return
	}
	util.SafeGoWithName(name, func() {
		defer s.ops.Done()
		fn(s.ctx)
	})
}

// track registers a background goroutine unless the server is stopping.
func (s *Server) track() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.ops.Add(1)
	return true
}
