package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gltrack/telemetry-server/internal/models"
	"github.com/gltrack/telemetry-server/internal/storage"
)

// HandleListModules lists modules
func (s *RESTServer) HandleListModules(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	modules, total, err := s.store.ListModules(r.Context(), limit, offset)
	if err != nil {
		s.respondStoreError(w, err, "modules")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"modules": modules,
		"total":   total,
	})
}

// HandleGetModule gets a module by decimal or 0x-prefixed hex id
func (s *RESTServer) HandleGetModule(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseModuleID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	module, err := s.store.GetModule(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "module")
		return
	}
	s.respondJSON(w, http.StatusOK, module)
}

// HandleUpdateModule renames or recolors a module
func (s *RESTServer) HandleUpdateModule(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseModuleID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Name  *string `json:"name" validate:"min=1,max=255"`
		Color *string `json:"color" validate:"hexcolor"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	module, err := s.store.GetModule(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "module")
		return
	}

	if req.Name != nil {
		module.Name = *req.Name
	}
	if req.Color != nil {
		module.Color = *req.Color
	}

	if err := s.store.UpdateModule(r.Context(), module); err != nil {
		s.respondStoreError(w, err, "module")
		return
	}
	s.respondJSON(w, http.StatusOK, module)
}

// HandleGetModuleData lists the data of one module, newest first
func (s *RESTServer) HandleGetModuleData(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseModuleID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	filters, err := parseDataFilters(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters.ModuleID = &id

	s.listData(w, r, filters)
}

// HandleListData lists data rows, newest first
func (s *RESTServer) HandleListData(w http.ResponseWriter, r *http.Request) {
	filters, err := parseDataFilters(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.listData(w, r, filters)
}

func (s *RESTServer) listData(w http.ResponseWriter, r *http.Request, filters storage.DataFilters) {
	limit, offset := parsePagination(r)

	rows, total, err := s.store.ListData(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondStoreError(w, err, "data")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  rows,
		"total": total,
	})
}

// HandleListCorruptedFrames lists stored corrupted frames, newest first
func (s *RESTServer) HandleListCorruptedFrames(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	frames, total, err := s.store.ListCorruptedFrames(r.Context(), limit, offset)
	if err != nil {
		s.respondStoreError(w, err, "corrupted frames")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"frames": frames,
		"total":  total,
	})
}
