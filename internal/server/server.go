// Package server exposes the engine over HTTP: submit goals, chat, inspect
// tools and events, and check health.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"neuroforge/internal/events"
	"neuroforge/internal/goal"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

// GoalRunner processes one goal end to end. Satisfied by
// *orchestrator.Orchestrator.
type GoalRunner interface {
	Process(ctx context.Context, goalText string) (*goal.Context, error)
}

// Server is the HTTP front end.
type Server struct {
	runner   GoalRunner
	registry *tools.Registry
	perf     *tools.PerformanceTracker
	bus      *events.Bus
	started  time.Time
}

// New creates the server.
func New(runner GoalRunner, registry *tools.Registry, perf *tools.PerformanceTracker, bus *events.Bus) *Server {
	return &Server{
		runner:   runner,
		registry: registry,
		perf:     perf,
		bus:      bus,
		started:  time.Now(),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/goals", s.handleGoal)
		r.Post("/chat", s.handleChat)
		r.Get("/health", s.handleHealth)
		r.Get("/tools", s.handleTools)
		r.Get("/tools/{name}", s.handleTool)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.API("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type goalRequest struct {
	Goal string `json:"goal"`
}

type goalResponse struct {
	GoalID     string `json:"goal_id"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Intent     string `json:"intent,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// handleGoal runs one goal synchronously and returns the full outcome.
// Empty goal text is accepted; only malformed JSON is rejected.
func (s *Server) handleGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be JSON with a \"goal\" field")
		return
	}

	g, err := s.runner.Process(r.Context(), req.Goal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, goalResponse{
		GoalID:     g.GoalID,
		Success:    g.Success,
		Result:     g.Result,
		Error:      g.Err,
		Intent:     string(g.Intent),
		ToolName:   g.ToolName,
		DurationMs: g.DurationMs(),
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply  string `json:"reply"`
	GoalID string `json:"goal_id"`
}

// handleChat is the conversational variant: same pipeline, but the reply is
// always a plain message, with failures rendered as text.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be JSON with a \"message\" field")
		return
	}

	g, err := s.runner.Process(r.Context(), req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reply := g.Result
	if !g.Success {
		reply = "I couldn't complete that: " + g.Err
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, GoalID: g.GoalID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"tools":          s.registry.Count(),
		"events":         s.bus.Len(),
	})
}

type toolInfo struct {
	Definition  tools.Definition `json:"definition"`
	Status      string           `json:"status,omitempty"`
	TotalCalls  int              `json:"total_calls"`
	SuccessRate float64          `json:"success_rate"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.List()
	out := make([]toolInfo, 0, len(defs))
	for _, def := range defs {
		info := toolInfo{Definition: def}
		if p := s.perf.Get(def.Name); p != nil {
			info.Status = string(p.Status)
			info.TotalCalls = p.TotalCalls
			info.SuccessRate = p.SuccessRate()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool := s.registry.Get(name)
	if tool == nil {
		writeError(w, http.StatusNotFound, "no tool named "+name)
		return
	}
	info := toolInfo{Definition: tool.Definition}
	if p := s.perf.Get(name); p != nil {
		info.Status = string(p.Status)
		info.TotalCalls = p.TotalCalls
		info.SuccessRate = p.SuccessRate()
	}
	writeJSON(w, http.StatusOK, info)
}

// handleEvents returns recent events, newest first. ?limit= caps the count,
// ?goal_id= filters, ?type= filters.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := events.Filter{
		GoalID: r.URL.Query().Get("goal_id"),
		Type:   events.Type(r.URL.Query().Get("type")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.bus.Events(filter))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.API("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestLogger writes one line per request to the api log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.API("%s %s -> %d in %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
