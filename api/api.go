// Package api exposes the management HTTP surface: manual event injection,
// event and alert queries, alert lifecycle actions and metrics.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Injector routes a manually created event through the same enrichment and
// buffering path as ingested events.
type Injector interface {
	Inject(event *core.Event) error
}

// AlertWriter persists alert state so operator transitions reach durable
// storage, not just the in-memory store.
type AlertWriter interface {
	WriteAlert(alert *core.Alert) error
}

// RateLimitConfig caps per-client request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// rateLimiterEntry holds a per-IP limiter with its last activity time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API is the management HTTP server.
type API struct {
	addr      string
	router    *mux.Router
	server    *http.Server
	logger    *zap.SugaredLogger
	buffer    *core.EventBuffer
	alerts    *core.AlertStore
	registry  *metrics.Registry
	injector    Injector
	alertWriter AlertWriter
	rateLimit   RateLimitConfig

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAPI creates the management server. Routes are registered immediately;
// nothing listens until Start.
func NewAPI(addr string, buffer *core.EventBuffer, alerts *core.AlertStore, registry *metrics.Registry, injector Injector, alertWriter AlertWriter, rateLimit RateLimitConfig, logger *zap.SugaredLogger) *API {
	if rateLimit.RequestsPerSecond <= 0 {
		rateLimit.RequestsPerSecond = 50
	}
	if rateLimit.Burst <= 0 {
		rateLimit.Burst = 100
	}
	a := &API{
		addr:         addr,
		router:       mux.NewRouter(),
		logger:       logger,
		buffer:       buffer,
		alerts:       alerts,
		registry:     registry,
		injector:     injector,
		alertWriter:  alertWriter,
		rateLimit:    rateLimit,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.loggingMiddleware)
	v1.Use(a.rateLimitMiddleware)

	v1.HandleFunc("/events", a.handleCreateEvent).Methods(http.MethodPost)
	v1.HandleFunc("/events", a.handleListEvents).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/active", a.handleActiveAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}", a.handleGetAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/acknowledge", a.handleAcknowledge).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/confirm", a.handleConfirm).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/false-positive", a.handleFalsePositive).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/resolve", a.handleResolve).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/suppress", a.handleSuppress).Methods(http.MethodPost)
	v1.HandleFunc("/metrics", a.handleMetricsSnapshot).Methods(http.MethodGet)

	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	a.router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router, mainly for httptest.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:         a.addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go a.cleanupRateLimiters()

	a.logger.Infow("management api listening", "addr", a.addr)
	err := a.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down. Safe to call more than once.
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// loggingMiddleware records each request at debug level.
func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debugw("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientIP(r),
			"duration", time.Since(start))
	})
}

// rateLimitMiddleware enforces a per-IP token bucket.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		a.rateLimitersMu.Lock()
		entry, exists := a.rateLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{
				limiter:  rate.NewLimiter(rate.Limit(a.rateLimit.RequestsPerSecond), a.rateLimit.Burst),
				lastSeen: time.Now(),
			}
			a.rateLimiters[ip] = entry
		} else {
			entry.lastSeen = time.Now()
		}
		limiter := entry.limiter
		a.rateLimitersMu.Unlock()

		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupRateLimiters drops limiters for IPs idle past an hour.
func (a *API) cleanupRateLimiters() {
	defer goroutine.Recover("rate-limiter-cleanup", a.logger)

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if time.Since(entry.lastSeen) > 1*time.Hour {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
