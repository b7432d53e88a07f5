// Package server implements the azdls upload gateway: an HTTP front end that
// turns each PUT under /files/ into one create-then-update write against
// ADLS Gen2. PUT /files/data/a.csv writes /data/a.csv.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/azdls/internal/azdls"
	"github.com/bleepstore/azdls/internal/config"
	"github.com/bleepstore/azdls/internal/journal"
)

// Journal records write attempts. *journal.Store satisfies it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Server is the gateway HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	core       *azdls.Core
	journal    Journal
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status     string `json:"status" example:"ok" doc:"Health status"`
	Filesystem string `json:"filesystem" example:"data" doc:"Target ADLS Gen2 filesystem"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithJournal records every upload attempt in j.
func WithJournal(j Journal) ServerOption {
	return func(s *Server) {
		s.journal = j
	}
}

// New creates a Server writing through core and wires its routes on a Chi
// router with a Huma API.
func New(cfg *config.Config, core *azdls.Core, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("azdls upload gateway", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		core:   core,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> transferEncodingCheck -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = transferEncodingCheck(handler)
	handler = commonHeaders(handler)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// uploads to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma routes
// (/health, /docs, /openapi.json) and /metrics sit beside the uploads
// mounted at uploadPrefix.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the gateway and its target filesystem.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok", Filesystem: s.core.Filesystem()}}, nil
	})

	// Huma only does one method per registration.
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Put(uploadPrefix+"/*", s.putFile)
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "only PUT "+uploadPrefix+"/ uploads are supported", "")
	})
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "no route for "+r.URL.Path, "")
	})
}
