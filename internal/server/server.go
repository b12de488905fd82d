package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"math-tutor/internal/chromemdb"
	"math-tutor/internal/config"
	"math-tutor/internal/index"
	"math-tutor/internal/models"
)

// Indexer is the view of the index manager the API needs.
type Indexer interface {
	LoadOrCreate(ctx context.Context, force bool) (*chromemdb.VectorDBManager, error)
	Current() *chromemdb.VectorDBManager
	Manifest() *index.Manifest
}

// QuestionBank looks up predefined questions.
type QuestionBank interface {
	LoadSection(chapter int, section string) []models.Question
	GetByID(id string) (*models.Question, bool)
}

// Server is the HTTP front end of the tutor.
type Server struct {
	indexer  Indexer
	bank     QuestionBank
	sessions *SessionStore
	gatherer prometheus.Gatherer
	config   *config.ServerConfig
	server   *http.Server
}

func NewServer(indexer Indexer, bank QuestionBank, sessions *SessionStore, gatherer prometheus.Gatherer, cfg *config.ServerConfig) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		indexer:  indexer,
		bank:     bank,
		sessions: sessions,
		gatherer: gatherer,
		config:   cfg,
	}
}

// Router returns the API routes with their middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/questions", s.handleListQuestions)
		r.Post("/index/refresh", s.handleRefreshIndex)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Put("/mode", s.handleSetMode)
			r.Post("/messages", s.handleSendMessage)
			r.Post("/steps", s.handleSubmitStep)
			r.Post("/restart", s.handleRestart)
			r.Post("/similar", s.handleTrySimilar)
		})
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("Starting server")
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
