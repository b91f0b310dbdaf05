package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/pipeline"
	"github.com/dgallion1/pageindex/internal/retrieval"
)

// Options holds the HTTP-facing settings.
type Options struct {
	APIKey         string
	MaxUploadBytes int64
}

// Server is the HTTP API server for pageindex.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	engine       *retrieval.Engine
	caller       *llm.Caller
	log          *slog.Logger
	opts         Options
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, engine *retrieval.Engine, caller *llm.Caller, log *slog.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 52428800
	}
	s := &Server{
		orchestrator: orch,
		engine:       engine,
		caller:       caller,
		log:          log,
		opts:         opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.opts.APIKey, s.log))

		r.Post("/api/documents", s.handleUpload)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)

		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{docID}/tree", s.handleGetTree)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)

		r.Post("/api/search/documents", s.handleSelectDocuments)
		r.Post("/api/search/tree", s.handleTreeSearch)
		r.Post("/api/query", s.handleQuery)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"documents":   s.orchestrator.Indexer().Directory().Len(),
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
