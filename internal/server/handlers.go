package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/microcap/internal/modules/settings"
)

var startTime = time.Now()

// handleHealth reports process and database health. The default check is a
// cheap ping; `?deep=true` additionally runs the sqlite integrity check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	check := s.db.QuickCheck
	if r.URL.Query().Get("deep") == "true" {
		check = s.db.HealthCheck
	}

	dbStatus := "ok"
	if err := check(r.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}

	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"database":       dbStatus,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_pct"] = vm.UsedPercent
	}

	if dbStatus != "ok" {
		payload["status"] = "degraded"
		s.respond(w, http.StatusServiceUnavailable, payload)
		return
	}
	s.respond(w, http.StatusOK, payload)
}

// handleState reports the live portfolio plus the persisted budget state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.portfolio.LoadSnapshot()
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "broker unavailable: "+err.Error())
		return
	}

	virtual, err := s.store.GetFloat(settings.VirtualEquityKey, s.settings.Budget.VirtualEquity)
	if err != nil {
		virtual = s.settings.Budget.VirtualEquity
	}

	s.respond(w, http.StatusOK, map[string]any{
		"cash":           snapshot.Cash,
		"equity":         snapshot.Equity,
		"positions":      snapshot.Positions,
		"virtual_equity": virtual,
		"dry_run":        s.settings.DryRun,
	})
}

// handleTrades returns the recent trade journal, newest first.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	trades, err := s.trades.GetHistory(limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"trades": trades})
}

// handleEquity returns the persisted equity series, oldest first.
func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 365)

	series, err := s.equity.GetSeries(limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"series": series})
}

// handleUniverse returns the last-known universe and when it was built.
func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	symbols, savedAt := s.universe.Load()
	s.respond(w, http.StatusOK, map[string]any{
		"symbols":  symbols,
		"saved_at": savedAt,
		"size":     len(symbols),
	})
}

// handleRunSession triggers one trading session. Rejects concurrent runs.
func (s *Server) handleRunSession(w http.ResponseWriter, r *http.Request) {
	if !s.runMu.TryLock() {
		s.respondError(w, http.StatusConflict, "a session is already running")
		return
	}
	defer s.runMu.Unlock()

	result, err := s.runner.Run(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"halted":         result.Halted,
		"halt_reason":    result.HaltReason,
		"orders":         result.Orders,
		"executions":     len(result.Executions),
		"narrative":      result.Narrative,
		"thesis_changed": result.ThesisChanged,
		"virtual_equity": result.VirtualEquity,
		"daily_change":   result.DailyChange,
		"universe_size":  len(result.Universe),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
