// Package server exposes the generation pipeline over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/richinsley/sketch2go/internal/config"
	"github.com/richinsley/sketch2go/internal/pipeline"
)

// NewRouter wires the HTTP routes to the pipeline and the event hub.
func NewRouter(mgr *pipeline.Manager, hub *Hub, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.AllowedOrigins))

	NewHandler(mgr, hub, cfg.MaxUploadBytes).RegisterRoutes(r)

	return r
}
