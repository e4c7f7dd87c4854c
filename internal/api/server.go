// Package api serves the orchestrator over HTTP. Every route lives under
// /api/v1; request and response bodies are JSON and errors are reported as
// {"detail": "..."}.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yates-Labs/kalki/internal/config"
	"github.com/Yates-Labs/kalki/internal/orchestrator"
)

// maxBodyBytes bounds request bodies; chat histories are the largest.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to an orchestrator.Service.
type Server struct {
	svc     *orchestrator.Service
	config  config.ServerConfig
	limiter *RateLimiter
	logger  *zap.Logger
}

// New creates a Server. A nil logger discards logs.
func New(svc *orchestrator.Service, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:     svc,
		config:  cfg,
		limiter: NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		logger:  logger.Named("api"),
	}
}

// Handler returns the full middleware chain and route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Routes that reach the LLM are rate limited per client.
	limited := s.limiter.Middleware

	mux.HandleFunc("POST /api/v1/start-conflict", limited(s.handleStartConflict))
	mux.HandleFunc("POST /api/v1/continue-conflict", limited(s.handleContinueConflict))
	mux.HandleFunc("GET /api/v1/sessions/{session_id}", s.handleSession)

	mux.HandleFunc("POST /api/v1/rpg_mode", limited(s.handleRolePlay))
	mux.HandleFunc("POST /api/v1/rpg_evaluate", limited(s.handleEvaluate))

	mux.HandleFunc("GET /api/v1/debate/prompt", limited(s.handleDebatePrompt))
	mux.HandleFunc("POST /api/v1/debate/message", limited(s.handleDebateMessage))
	mux.HandleFunc("POST /api/v1/debate/evaluate", limited(s.handleDebateEvaluate))

	mux.HandleFunc("POST /api/v1/add_story", limited(s.handleAddStory))
	mux.HandleFunc("POST /api/v1/story", limited(s.handleStory))
	mux.HandleFunc("POST /api/v1/stories/search", limited(s.handleSearch))

	mux.HandleFunc("GET /api/v1/results/{user_id}", limited(s.handleResults))
	// Unversioned alias used by older clients.
	mux.HandleFunc("GET /api/results/{user_id}", limited(s.handleResults))
	mux.HandleFunc("GET /api/v1/healthz", s.handleHealth)

	return s.logRequests(s.cors(mux))
}

func (s *Server) handleStartConflict(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ConflictRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.ConflictTurn(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleContinueConflict(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ConflictRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.ContinueConflict(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.Session(r.Context(), r.PathValue("session_id"))
	s.respond(w, r, state, err)
}

func (s *Server) handleRolePlay(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.RolePlayRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.RolePlayTurn(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.EvaluationRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.EvaluateChat(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleDebatePrompt(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DebatePrompt(r.Context())
	s.respond(w, r, res, err)
}

func (s *Server) handleDebateMessage(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.DebateMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.DebateMessage(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleDebateEvaluate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.DebateRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.DebateEvaluate(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleAddStory(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.StoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.AddStory(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.StoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.GenerateStory(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.SearchStories(r.Context(), req)
	s.respond(w, r, res, err)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Results(r.Context(), r.PathValue("user_id"))
	s.respond(w, r, res, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// respond writes v, or maps err to a status code.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeDetail(w, status, err.Error())
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	var verr *orchestrator.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrSessionBusy), errors.Is(err, orchestrator.ErrSessionConcluded):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNarrativeTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// cors adds CORS headers for configured origins. "*" allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.config.CORSOrigins))
	for _, origin := range s.config.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client", clientIP(r)))
	})
}
