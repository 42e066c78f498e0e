package api

import (
	"net/http"

	"github.com/gltrack/telemetry-server/internal/models"
)

// HandleListSessions lists sessions, hidden ones only with ?hidden=true
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	includeHidden := r.URL.Query().Get("hidden") == "true"

	sessions, total, err := s.store.ListSessions(r.Context(), includeHidden, limit, offset)
	if err != nil {
		s.respondStoreError(w, err, "sessions")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
	})
}

// HandleCreateSession creates a session. New data attaches to it from now on.
func (s *RESTServer) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name" validate:"required,max=255"`
		Description string `json:"description" validate:"max=2000"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	session := &models.Session{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.respondStoreError(w, err, "session")
		return
	}

	if s.opts.Sessions != nil {
		s.opts.Sessions.Set(session.ID)
	}

	s.respondJSON(w, http.StatusCreated, session)
}

// HandleGetCurrentSession returns the session incoming data attaches to
func (s *RESTServer) HandleGetCurrentSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetLatestSession(r.Context())
	if err != nil {
		s.respondStoreError(w, err, "session")
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

// HandleGetSession gets a session
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "session")
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

// HandleHideSession soft-deletes a session
func (s *RESTServer) HandleHideSession(w http.ResponseWriter, r *http.Request) {
	s.setSessionHidden(w, r, true)
}

// HandleUnhideSession restores a hidden session
func (s *RESTServer) HandleUnhideSession(w http.ResponseWriter, r *http.Request) {
	s.setSessionHidden(w, r, false)
}

func (s *RESTServer) setSessionHidden(w http.ResponseWriter, r *http.Request, hidden bool) {
	id, err := parseSessionID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SetSessionHidden(r.Context(), id, hidden); err != nil {
		s.respondStoreError(w, err, "session")
		return
	}

	if hidden && s.opts.Sessions != nil {
		s.opts.Sessions.Forget(id)
	}

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "session")
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

// HandleGetSessionStats returns row counts per module
func (s *RESTServer) HandleGetSessionStats(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.store.GetSessionStats(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "session")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// HandleGetSessionData lists the data of a session, newest first
func (s *RESTServer) HandleGetSessionData(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		s.respondStoreError(w, err, "session")
		return
	}

	filters, err := parseDataFilters(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters.SessionID = &id

	s.listData(w, r, filters)
}
