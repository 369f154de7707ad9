package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/commands", s.handleCommand)
				r.Get("/browse", s.handleBrowse)
				r.Get("/browse/image", s.handleBrowseImage)
			})
		})
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth reports bus connectivity and device availability.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	unavailable, total := s.devices.UnavailableDevices()

	status := "ok"
	body := map[string]any{
		"version":           s.version,
		"devices":           total,
		"devices_available": total - len(unavailable),
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		body["mqtt_connected"] = connected
		if !connected {
			status = "degraded"
		}
	}
	if len(unavailable) > 0 {
		status = "degraded"
		body["unavailable"] = unavailable
	}
	body["status"] = status

	writeJSON(w, http.StatusOK, body)
}
