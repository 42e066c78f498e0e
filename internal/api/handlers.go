package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/models"
	"github.com/gltrack/telemetry-server/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// HandleHealth reports store and bus status
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]interface{}{}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if s.opts.Bus != nil {
		if s.opts.Bus.Connected() {
			checks["bus"] = "ok"
		} else {
			checks["bus"] = "disconnected"
			status = http.StatusServiceUnavailable
		}
		checks["busBackend"] = s.opts.Bus.Name()
	}

	if s.opts.Registry != nil {
		checks["activeConnections"] = s.opts.Registry.ActiveCount()
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}

	s.respondJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// HandleListMessageTypes lists the message type labels
func (s *RESTServer) HandleListMessageTypes(w http.ResponseWriter, r *http.Request) {
	type messageType struct {
		ID   models.MessageType `json:"id"`
		Type string             `json:"type"`
	}

	types := make([]messageType, 0, len(models.MessageTypeNames))
	for id, name := range models.MessageTypeNames {
		types = append(types, messageType{ID: id, Type: name})
	}
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"messageTypes": types,
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondStoreError maps storage errors to status codes
func (s *RESTServer) respondStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, storage.ErrInvalidData):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		s.respondError(w, http.StatusConflict, what+" already exists")
	default:
		log.Error().Err(err).Str("resource", what).Msg("Storage error")
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes and validates a JSON request body
func (s *RESTServer) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validator.Validate(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// ========== Helper functions ==========

// parsePagination reads limit and offset query parameters
func parsePagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// parseSessionID reads the {id} path parameter
func parseSessionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid session id")
	}
	return id, nil
}

// parseDataFilters reads the data filter query parameters
func parseDataFilters(r *http.Request) (storage.DataFilters, error) {
	q := r.URL.Query()
	var filters storage.DataFilters

	if v := q.Get("session"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filters, errors.New("invalid session")
		}
		filters.SessionID = &id
	}
	if v := q.Get("module"); v != "" {
		id, err := models.ParseModuleID(v)
		if err != nil {
			return filters, err
		}
		filters.ModuleID = &id
	}
	if v := q.Get("since"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return filters, errors.New("invalid since")
		}
		filters.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return filters, errors.New("invalid until")
		}
		filters.Until = &t
	}
	filters.GPSOnly = q.Get("gps") == "true"

	return filters, nil
}

// parseTime accepts RFC3339 or unix seconds
func parseTime(v string) (time.Time, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
