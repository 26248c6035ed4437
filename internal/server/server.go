// Package server exposes the read-mostly HTTP API: state inspection,
// trade/equity history, and a manual session trigger.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/database"
	"github.com/aristath/microcap/internal/modules/portfolio"
	"github.com/aristath/microcap/internal/modules/settings"
	"github.com/aristath/microcap/internal/modules/trading"
	"github.com/aristath/microcap/internal/modules/universe"
	"github.com/aristath/microcap/internal/session"
)

// Server is the HTTP API over the trading engine's state.
type Server struct {
	cfg       *config.Config
	settings  config.Settings
	db        *database.DB
	trades    *trading.TradeRepository
	equity    *portfolio.EquityRepository
	store     *settings.Repository
	portfolio *portfolio.Service
	universe  *universe.Cache
	runner    *session.Runner
	log       zerolog.Logger

	httpServer *http.Server
	runMu      sync.Mutex // one manual session at a time
}

// New creates the API server.
func New(
	cfg *config.Config,
	sett config.Settings,
	db *database.DB,
	trades *trading.TradeRepository,
	equity *portfolio.EquityRepository,
	store *settings.Repository,
	pf *portfolio.Service,
	uc *universe.Cache,
	runner *session.Runner,
	log zerolog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		settings:  sett,
		db:        db,
		trades:    trades,
		equity:    equity,
		store:     store,
		portfolio: pf,
		universe:  uc,
		runner:    runner,
		log:       log.With().Str("service", "server").Logger(),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Get("/trades", s.handleTrades)
		r.Get("/equity", s.handleEquity)
		r.Get("/universe", s.handleUniverse)
		r.Post("/session/run", s.handleRunSession)
	})

	return r
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}
