// Package server provides the HTTP surface of the hub. It exposes instance
// lifecycle and messaging endpoints under /api, a server-sent-events stream
// of status updates, and version and health check endpoints. The package
// supports CORS handling and middleware integration for logging and error
// handling.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/httpx"
	"github.com/chatwire/chatwire/internal/common/middleware"
	"github.com/chatwire/chatwire/internal/hub/broadcaster"
	"github.com/chatwire/chatwire/internal/hub/config"
	"github.com/chatwire/chatwire/internal/hub/session"
)

// HubServer is the main HTTP server for the hub. Manages routing, middleware,
// and endpoint handling for instance operations and the status stream.
type HubServer struct {
	Router      *chi.Mux
	manager     *session.Manager
	broadcaster *broadcaster.Broadcaster
}

// CreateNewServer creates a new HubServer instance over the given manager and
// broadcaster.
func CreateNewServer(manager *session.Manager, bcast *broadcaster.Broadcaster) (*HubServer, error) {
	if manager == nil || bcast == nil {
		return nil, fmt.Errorf("manager and broadcaster are required")
	}
	s := &HubServer{
		manager:     manager,
		broadcaster: bcast,
	}
	s.Router = chi.NewRouter()
	return s, nil
}

// MountHandlers sets up all HTTP routes and middleware for the server.
// Configures logging, panic handling, CORS, and resource endpoints.
func (s *HubServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	if config.Config().HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.mountResourceHandlers(s.Router)
}

func (s *HubServer) mountResourceHandlers(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		s.mountInstanceHandlers(r)
		r.Get("/connections", httpx.WrapHttpRsp(s.getConnections))
	})
	r.Get("/events", s.handleEvents)
	r.Get("/version", s.getVersion)
	r.Get("/ready", s.getReadiness)
}

// GetVersionRsp represents the response for version information.
type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *HubServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: "Chatwire Hub Server: " + Version,
		ApiVersion:    ApiVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *HubServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// HandleCORS provides CORS middleware for cross-origin requests.
// Allowed origins come from configuration; the dashboard is typically served
// from a different origin than the API.
func (s *HubServer) HandleCORS(next http.Handler) http.Handler {
	origins := config.Config().CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders:   []string{"Link", "Location", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
