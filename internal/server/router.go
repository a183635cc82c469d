package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/clauseqa/internal/api"
	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
	"github.com/cloo-solutions/clauseqa/internal/api/middleware"
)

type RouterConfig struct {
	RAGHandler *handlers.RAGHandler
}

// NewRouter mounts the health check and the RAG API behind the middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/rag-query", cfg.RAGHandler.Query)
		r.Get("/rag-health", cfg.RAGHandler.Health)
		r.Post("/rag-ingest", cfg.RAGHandler.Ingest)
	})

	return r
}
