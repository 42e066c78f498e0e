package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gltrack/telemetry-server/internal/gateway"
	"github.com/gltrack/telemetry-server/internal/models"
)

// HandleListConnections lists provider connections, including recently
// disconnected ones
func (s *RESTServer) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	connections := s.opts.Registry.List()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"connections": connections,
		"active":      s.opts.Registry.ActiveCount(),
		"total":       len(connections),
	})
}

// HandleGetConnection gets one connection
func (s *RESTServer) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	info, ok := s.opts.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "connection not found")
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// HandleSendDownlink writes raw bytes to a connected provider
func (s *RESTServer) HandleSendDownlink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hex  string `json:"hex" validate:"max=4096"`
		Text string `json:"text" validate:"max=2048"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	cmd := models.DownlinkCommand{
		ConnectionID: chi.URLParam(r, "id"),
		Hex:          req.Hex,
		Text:         req.Text,
	}

	n, err := s.opts.Downlink.Send(cmd)
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrConnectionNotFound):
		s.respondError(w, http.StatusNotFound, "connection not found")
		return
	case errors.Is(err, gateway.ErrConnectionClosed):
		s.respondError(w, http.StatusConflict, "connection closed")
		return
	case errors.Is(err, models.ErrEmptyDownlink):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		if _, payloadErr := cmd.Payload(); payloadErr != nil {
			s.respondError(w, http.StatusBadRequest, payloadErr.Error())
			return
		}
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"connectionId": cmd.ConnectionID,
		"bytes":        n,
	})
}

// HandleListHistory returns the most recent decode cycles
func (s *RESTServer) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	entries := s.opts.History.Recent(limit, r.URL.Query().Get("connection"))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"total":   s.opts.History.Len(),
	})
}
