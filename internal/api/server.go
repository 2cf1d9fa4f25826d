// Package api provides the HTTP API server for Beacon.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/beaconmesh/beacon/internal/emitter"
	"github.com/beaconmesh/beacon/internal/hub"
	"github.com/beaconmesh/beacon/internal/ledger"
	"github.com/beaconmesh/beacon/internal/logging"
	"github.com/beaconmesh/beacon/internal/proactive"
	"github.com/beaconmesh/beacon/internal/storage"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	engine   *proactive.Engine
	settings *storage.SettingsStore
	scanLog  *storage.ScanLogStore
	flags    *storage.FlagStore
	messages *storage.MessageStore
	credits  *ledger.Store
	emitter  *emitter.Emitter
	wsHub    *hub.Hub
}

// Config holds the server's collaborators
type Config struct {
	Port     int
	Engine   *proactive.Engine
	Settings *storage.SettingsStore
	ScanLog  *storage.ScanLogStore
	Flags    *storage.FlagStore
	Messages *storage.MessageStore
	Credits  *ledger.Store
	Emitter  *emitter.Emitter
	Hub      *hub.Hub
}

// New creates a new API server
func New(cfg Config) *Server {
	s := &Server{
		engine:   cfg.Engine,
		settings: cfg.Settings,
		scanLog:  cfg.ScanLog,
		flags:    cfg.Flags,
		messages: cfg.Messages,
		credits:  cfg.Credits,
		emitter:  cfg.Emitter,
		wsHub:    cfg.Hub,
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents/{agentID}", func(r chi.Router) {
			// Proactive settings
			r.Get("/proactive", s.handleGetProactiveSettings)
			r.Put("/proactive", s.handleUpdateProactiveSettings)
			r.Post("/proactive/pause", s.handlePauseAgent)
			r.Post("/proactive/resume", s.handleResumeAgent)

			// Scan history
			r.Get("/scans", s.handleGetScans)

			// Acted opportunities
			r.Post("/actions", s.handleRecordAction)

			// Credits
			r.Get("/credits", s.handleGetCredits)
			r.Post("/credits", s.handleOpenAccount)
			r.Post("/credits/topup", s.handleTopUp)
		})

		// Reactive signal ingestion
		r.Post("/signals", s.handlePostSignal)

		// Event ingestion feeding the scheduled scans
		r.Post("/inbox", s.handleRecordInboxMessage)
		r.Post("/inbox/{messageID}/answered", s.handleMarkAnswered)
		r.Post("/commits", s.handleRecordCommit)
		r.Post("/commits/{commitID}/reviewed", s.handleMarkReviewed)
		r.Post("/channels/{channelID}/messages", s.handleRecordChannelMessage)

		// Engine status and emergency halt
		r.Get("/engine", s.handleGetEngineStatus)
		r.Get("/halt", s.handleGetHalt)
		r.Put("/halt", s.handleSetHalt)

		// Ledger integrity
		r.Get("/ledger/verify", s.handleVerifyLedger)
	})

	// WebSocket signal stream
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logging.Info("API server listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler, mostly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
