package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	if s.store != nil {
		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.HandleListSessions)
			r.Post("/", s.HandleCreateSession)
			r.Get("/current", s.HandleGetCurrentSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetSession)
				r.Post("/hide", s.HandleHideSession)
				r.Post("/unhide", s.HandleUnhideSession)
				r.Get("/stats", s.HandleGetSessionStats)
				r.Get("/data", s.HandleGetSessionData)
			})
		})

		// Modules
		r.Route("/modules", func(r chi.Router) {
			r.Get("/", s.HandleListModules)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetModule)
				r.Put("/", s.HandleUpdateModule)
				r.Get("/data", s.HandleGetModuleData)
			})
		})

		// Data
		r.Get("/data", s.HandleListData)
		r.Get("/message-types", s.HandleListMessageTypes)
		r.Get("/corrupted-frames", s.HandleListCorruptedFrames)
	}

	// Provider connections
	if s.opts.Registry != nil {
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.HandleListConnections)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetConnection)
				if s.opts.Downlink != nil {
					r.Post("/downlink", s.HandleSendDownlink)
				}
			})
		})
	}

	if s.opts.History != nil {
		r.Get("/history", s.HandleListHistory)
	}
}
