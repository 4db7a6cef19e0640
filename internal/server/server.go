// Package server exposes the ops surface: health, metrics, gate state
// snapshots, signal history, evaluation, fill reporting, and the slippage
// resume control. Only the evaluate, fill, and resume endpoints mutate state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain/adverse"
	"github.com/sawpanic/tradegate/internal/domain/blackout"
	"github.com/sawpanic/tradegate/internal/domain/regime"
	"github.com/sawpanic/tradegate/internal/domain/safemode"
	"github.com/sawpanic/tradegate/internal/domain/slippage"
	"github.com/sawpanic/tradegate/internal/domain/throttle"
	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/pipeline"
	"github.com/sawpanic/tradegate/internal/store"
)

// Deps are the live components the server reads from. Nil entries disable
// their endpoints with 404s rather than failing startup.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Classifier *regime.Classifier
	Blackout   *blackout.Gate
	SafeMode   *safemode.Monitor
	Throttle   *throttle.Throttle
	Adverse    *adverse.Monitor
	Slippage   *slippage.Tracker
	Signals    *store.SignalStore
	Registry   *prometheus.Registry
}

// Server is the ops HTTP endpoint.
type Server struct {
	router *mux.Router
	server *http.Server
	deps   Deps
	start  time.Time
}

func New(listen string, deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		start:  time.Now(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	s.router.HandleFunc("/state/{gate}", s.handleState).Methods("GET")
	s.router.HandleFunc("/signals/recent", s.handleRecentSignals).Methods("GET")
	s.router.HandleFunc("/evaluate", s.handleEvaluate).Methods("POST")
	s.router.HandleFunc("/fill", s.handleFill).Methods("POST")
	s.router.HandleFunc("/resume", s.handleResume).Methods("POST")
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("ops server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.start).Seconds()),
	})
}

// handleState dumps one gate's current state snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	gate := mux.Vars(r)["gate"]

	var payload any
	switch gate {
	case "regime":
		if s.deps.Classifier != nil {
			payload = s.deps.Classifier.Snapshot()
		}
	case "blackout":
		if s.deps.Blackout != nil {
			payload = s.deps.Blackout.Shock()
		}
	case "safe_mode":
		if s.deps.SafeMode != nil {
			payload = s.deps.SafeMode.Snapshot()
		}
	case "throttle":
		if s.deps.Throttle != nil {
			payload = s.deps.Throttle.Snapshot()
		}
	case "adverse_selection":
		if s.deps.Adverse != nil {
			payload = s.deps.Adverse.Snapshot()
		}
	case "slippage":
		if s.deps.Slippage != nil {
			payload = s.deps.Slippage.Snapshot()
		}
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown gate %q", gate))
		return
	}

	if payload == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("gate %q not configured", gate))
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleRecentSignals(w http.ResponseWriter, r *http.Request) {
	if s.deps.Signals == nil {
		writeError(w, http.StatusNotFound, "signal store not configured")
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.deps.Signals.Recent(r.Context(), r.URL.Query().Get("symbol"), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleEvaluate runs one request through the gate pipeline and returns the
// signal. The caller supplies the full pre-fetched context.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeError(w, http.StatusNotFound, "pipeline not configured")
		return
	}
	var req trade.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	sig := s.deps.Pipeline.Evaluate(r.Context(), req)
	if s.deps.Signals != nil {
		if err := s.deps.Signals.Insert(r.Context(), sig); err != nil {
			log.Warn().Err(err).Str("signal_id", sig.ID).Msg("signal history write failed")
		}
	}
	writeJSON(w, http.StatusOK, sig)
}

// handleFill feeds one realized fill back to the post-fill monitors: the
// throttle count, the adverse-selection window, and the slippage budget.
func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeError(w, http.StatusNotFound, "pipeline not configured")
		return
	}
	var rep pipeline.FillReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid fill body: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Pipeline.RecordFill(rep))
}

// handleResume clears the slippage kill switch.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.deps.Slippage == nil {
		writeError(w, http.StatusNotFound, "slippage tracker not configured")
		return
	}
	wasPaused, reason := s.deps.Slippage.Paused()
	s.deps.Slippage.Resume()
	writeJSON(w, http.StatusOK, map[string]any{
		"was_paused":     wasPaused,
		"cleared_reason": reason,
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(begin)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
