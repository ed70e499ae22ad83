// Package api exposes the REST and WebSocket surface of the Argus SOC
// dashboard backend.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"argus/config"
	"argus/core"
	"argus/service"
	"argus/storage"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the HTTP server and its dependencies.
type API struct {
	router         *mux.Router
	server         *http.Server
	registry       *service.Registry
	engine         *service.Engine
	alertEngine    *service.AlertEngine
	events         storage.EventStorageInterface
	rules          storage.AlertRuleStorageInterface
	cache          *core.RedisCache
	hub            *Hub
	config         *config.Config
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates the API server. cache and hub may be nil.
func NewAPI(registry *service.Registry, engine *service.Engine, alertEngine *service.AlertEngine,
	events storage.EventStorageInterface, rules storage.AlertRuleStorageInterface,
	cache *core.RedisCache, hub *Hub, cfg *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:       mux.NewRouter(),
		registry:     registry,
		engine:       engine,
		alertEngine:  alertEngine,
		events:       events,
		rules:        rules,
		cache:        cache,
		hub:          hub,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/api/playbooks", a.listPlaybooks).Methods("GET")
	a.router.HandleFunc("/api/playbooks", a.createPlaybook).Methods("POST")
	a.router.HandleFunc("/api/playbooks/{id}", a.getPlaybook).Methods("GET")
	a.router.HandleFunc("/api/playbooks/{id}", a.updatePlaybook).Methods("PATCH")
	a.router.HandleFunc("/api/playbooks/{id}", a.deletePlaybook).Methods("DELETE")
	a.router.HandleFunc("/api/playbooks/{id}/duplicate", a.duplicatePlaybook).Methods("POST")
	a.router.HandleFunc("/api/playbooks/{id}/toggle", a.togglePlaybook).Methods("POST")
	a.router.HandleFunc("/api/playbooks/{id}/archive", a.archivePlaybook).Methods("POST")
	a.router.HandleFunc("/api/playbooks/{id}/execute", a.executePlaybook).Methods("POST")

	a.router.HandleFunc("/api/playbook-executions", a.listExecutions).Methods("GET")
	a.router.HandleFunc("/api/playbook-executions/{id}", a.getExecution).Methods("GET")
	a.router.HandleFunc("/api/playbook-executions/{id}/steps/{index}", a.updateExecutionStep).Methods("PATCH")
	a.router.HandleFunc("/api/playbook-executions/{id}/abort", a.abortExecution).Methods("POST")
	a.router.HandleFunc("/api/playbook-executions/{id}/complete", a.completeExecution).Methods("POST")

	a.router.HandleFunc("/api/events", a.listEvents).Methods("GET")
	a.router.HandleFunc("/api/events/{id}", a.getEvent).Methods("GET")
	a.router.HandleFunc("/api/events/{id}", a.updateEvent).Methods("PATCH")
	a.router.HandleFunc("/api/ingest", a.ingestEvents).Methods("POST")

	a.router.HandleFunc("/api/alert-rules", a.listAlertRules).Methods("GET")
	a.router.HandleFunc("/api/alert-rules", a.createAlertRule).Methods("POST")
	a.router.HandleFunc("/api/alert-rules/{id}", a.getAlertRule).Methods("GET")
	a.router.HandleFunc("/api/alert-rules/{id}", a.updateAlertRule).Methods("PUT")
	a.router.HandleFunc("/api/alert-rules/{id}", a.deleteAlertRule).Methods("DELETE")
	a.router.HandleFunc("/api/alert-rules/{id}/toggle", a.toggleAlertRule).Methods("POST")

	a.router.HandleFunc("/api/dashboard", a.getDashboardSummary).Methods("GET")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())

	if a.hub != nil {
		a.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			serveWs(a.hub, a.logger, w, r)
		})
	}

	// Preflight requests must match a route so the middleware chain runs;
	// mux's method-not-allowed path bypasses Use middleware entirely. The
	// CORS middleware short-circuits before this handler is reached.
	a.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}

// Router returns the configured router, used by handler tests.
func (a *API) Router() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	if a.config.API.TLS {
		return a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// healthCheck reports service liveness.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
