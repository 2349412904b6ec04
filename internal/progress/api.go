package progress

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server exposes the progress-updater's registry as a read-only HTTP
// API, trimmed from the teacher's full project API router (no write
// routes: this process only ever reads the telemetry stream and
// reports what it has seen).
type Server struct {
	registry *Registry
	router   chi.Router
}

// NewServer builds a Server over registry.
func NewServer(registry *Registry) *Server {
	s := &Server{registry: registry}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/students", s.handleListStudents)
	r.Get("/students/{id}", s.handleGetStudent)
	r.Get("/metrics", s.handleMetrics)

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sp, ok := s.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "student not found"})
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	students := s.registry.List()
	totalSessions := 0
	totalCompletedSteps := 0
	for _, sp := range students {
		totalSessions += len(sp.Sessions)
		for _, sess := range sp.Sessions {
			totalCompletedSteps += len(sess.CompletedSteps)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"student_count":         len(students),
		"session_count":         totalSessions,
		"completed_step_count":  totalCompletedSteps,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
