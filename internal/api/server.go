// Package api serves the run archive over HTTP.
// GET endpoints are public (read-only observation of archived runs).
// The simulate endpoint requires a bearer token (admin control plane).
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fdbesanto2/EcoVirtual/internal/persistence"
	"github.com/fdbesanto2/EcoVirtual/internal/report"
)

// maxSimulateCells bounds rows*cols*steps for synchronous simulate requests.
const maxSimulateCells = 1 << 22

// Server serves archived simulation runs over HTTP.
type Server struct {
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST /simulate. Empty = simulate disabled.
}

// Handler builds the full route tree, CORS included.
func (s *Server) Handler() http.Handler {
	// Rate limiter for the compute-heavy simulate endpoint.
	simulateLimiter := NewRateLimiter(30, time.Hour)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunRoutes)

	// Admin endpoint (POST, requires bearer token).
	mux.HandleFunc("/api/v1/simulate", s.adminOnly(RateLimitMiddleware(simulateLimiter, s.handleSimulate)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	handler := s.Handler()
	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no ECOAPI_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.DB.CountRuns()
	if err != nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, map[string]any{
		"status": "ok",
		"runs":   count,
		"models": report.Models,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	rows, err := s.DB.ListRuns(limit)
	if err != nil {
		slog.Error("run list query failed", "error", err)
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []persistence.RunRow{}
	}
	writeJSON(w, rows)
}

// handleRunRoutes dispatches /api/v1/runs/:id and /api/v1/runs/:id/occupancy.
func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	// /api/v1/runs/:id → parts[0]="" [1]="api" [2]="v1" [3]="runs" [4]=id
	if len(parts) < 5 || parts[4] == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}
	id := parts[4]

	if len(parts) >= 6 && parts[5] == "occupancy" {
		s.handleOccupancy(w, r, id)
		return
	}

	row, err := s.DB.GetRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("run query failed", "error", err, "id", id)
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, row)
}

// handleOccupancy returns a run's step-by-step occupancy table, as JSON by
// default or CSV with ?format=csv.
func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request, id string) {
	series, err := s.DB.GetSeries(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("occupancy query failed", "error", err, "id", id)
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := series.WriteCSV(w); err != nil {
			slog.Error("occupancy csv write failed", "error", err, "id", id)
		}
		return
	}
	writeJSON(w, series)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Model  string          `json:"model"`
		Config json.RawMessage `json:"config,omitempty"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	// Budget check before any work. This endpoint runs the model
	// synchronously and cannot accept arbitrarily large landscapes.
	rows, cols, steps, err := report.Dims(req.Model, req.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Float math keeps the product from overflowing on absurd inputs.
	if float64(rows)*float64(cols)*float64(steps) > maxSimulateCells {
		http.Error(w, fmt.Sprintf("simulation too large (rows*cols*steps must be <= %d)", maxSimulateCells), http.StatusBadRequest)
		return
	}

	run, err := report.Execute(req.Model, req.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.DB.SaveRun(run); err != nil {
		slog.Error("run archive failed", "error", err, "id", run.ID)
		http.Error(w, "archive failed", http.StatusInternalServerError)
		return
	}

	slog.Info("simulate request completed",
		"model", run.Model, "id", run.ID, "steps", run.Steps, "elapsed_ms", run.ElapsedMS)
	writeJSON(w, run)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
