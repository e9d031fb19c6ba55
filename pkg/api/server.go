// Package api exposes the gateway's HTTP surface: composite flow endpoints,
// account management, engine health, and the execution event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/api/middleware"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/auth"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/config"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/flow"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/idempotency"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/orchestrator"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/services"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/storage"
)

// flowAliases maps the platform's public endpoints to built-in flow names
var flowAliases = map[string]string{
	"/query":             "query",
	"/onboard":           "onboard",
	"/check-eligibility": "check-eligibility",
	"/simulate":          "simulate",
	"/voice-query":       "voice-query",
	"/voice/query":       "voice-query",
	"/ingest-policy":     "ingest-policy",
	"/admin/policies":    "ingest-policy",
}

// Server represents the HTTP API server
type Server struct {
	config         *config.Config
	router         *mux.Router
	server         *http.Server
	flows          *flow.Store
	orchestrator   *orchestrator.Orchestrator
	registry       *engine.Registry
	prober         *engine.Prober
	accountService auth.AccountService
	jwtService     *services.JWTService
	guard          idempotency.Guard
	executions     storage.ExecutionStore
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	flows *flow.Store,
	orch *orchestrator.Orchestrator,
	registry *engine.Registry,
	prober *engine.Prober,
	accountService auth.AccountService,
	jwtService *services.JWTService,
	guard idempotency.Guard,
	executions storage.ExecutionStore,
) *Server {
	s := &Server{
		config:         cfg,
		router:         mux.NewRouter(),
		flows:          flows,
		orchestrator:   orch,
		registry:       registry,
		prober:         prober,
		accountService: accountService,
		jwtService:     jwtService,
		guard:          guard,
		executions:     executions,
	}

	s.setupRoutes()
	return s
}

// Handler returns the configured router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	// If the server was shut down gracefully, this error is expected
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	authMiddleware := middleware.NewAuthMiddleware(s.accountService, s.jwtService)
	requestLimiter := middleware.NewRequestLimiter(
		s.config.Auth.RateLimitPerMinute,
		s.config.Auth.RateLimitBurstPerSecond,
	)

	// API router with version prefix
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes (no authentication required)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost, http.MethodOptions)

	// Flow endpoints; per-definition auth requirement decides the wrapping
	for _, def := range s.flows.List() {
		handler := s.runFlowHandler(def.Name)
		if def.RequireAuth {
			handler = authMiddleware.Authenticate(handler).ServeHTTP
		}
		api.HandleFunc("/flows/"+def.Name+"/run", handler).Methods(http.MethodPost, http.MethodOptions)

		for alias, name := range flowAliases {
			if name == def.Name {
				api.HandleFunc(alias, handler).Methods(http.MethodPost, http.MethodOptions)
			}
		}
	}
	api.HandleFunc("/flows", s.handleListFlows).Methods(http.MethodGet, http.MethodOptions)

	// Authenticated routes
	authenticated := api.PathPrefix("").Subrouter()
	authenticated.Use(authMiddleware.Authenticate)

	authenticated.HandleFunc("/accounts/me", s.handleGetCurrentAccount).Methods(http.MethodGet, http.MethodOptions)

	authenticated.HandleFunc("/engines/health", s.handleEnginesHealth).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/engines/status", s.handleEnginesStatus).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/engines/{id}/{path:.*}", s.handleEngineProxy).Methods(http.MethodPost, http.MethodOptions)

	authenticated.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/executions/stream", s.handleExecutionStream).Methods(http.MethodGet)
	authenticated.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet, http.MethodOptions)

	s.router.Use(middleware.RequestID)
	s.router.Use(requestLimiter.Limit)
	s.router.Use(middleware.CORS)
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleListFlows lists the registered flow definitions
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	defs := s.flows.List()
	flows := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		flows = append(flows, map[string]any{
			"name":         def.Name,
			"description":  def.Description,
			"mutating":     def.Mutating,
			"require_auth": def.RequireAuth,
			"steps":        len(def.Steps),
		})
	}

	writeSuccess(w, http.StatusOK, requestID, "Flows retrieved", map[string]any{
		"flows": flows,
	})
}
