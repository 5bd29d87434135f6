package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/framework"
	"github.com/policyforge/comply/internal/models"
)

func (s *Server) listFrameworks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	frameworks, err := s.store.ListFrameworks(r.Context(), activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, frameworks)
}

func (s *Server) getFramework(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	fw, err := s.store.GetFramework(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if fw == nil {
		respondError(w, http.StatusNotFound, "not_found", "Framework not found")
		return
	}

	respondJSON(w, http.StatusOK, fw)
}

// importFramework accepts a framework definition as a YAML request body.
// The whole catalog is written in one transaction; re-importing a code
// that already exists is rejected rather than merged.
func (s *Server) importFramework(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	fw, categories, controls, err := framework.Parse(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_framework", err.Error())
		return
	}

	existing, err := s.store.GetFrameworkByCode(r.Context(), fw.Code)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "framework_exists", "Framework with this code already exists")
		return
	}

	if err := s.store.ImportFramework(r.Context(), fw, categories, controls); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	s.logger.Info("framework imported",
		"code", fw.Code,
		"categories", len(categories),
		"controls", len(controls))

	respondJSON(w, http.StatusCreated, fw)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) setFrameworkActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.store.SetFrameworkActive(r.Context(), id, req.Active); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	categories, err := s.store.ListCategories(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) listControls(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	controls, err := s.store.ListControls(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, controls)
}

func (s *Server) listFrameworkMappings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	mappings, err := s.store.ListMappingsForFramework(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, mappings)
}

func (s *Server) listPolicyMappings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	mappings, err := s.store.ListMappingsForPolicy(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, mappings)
}

type createMappingRequest struct {
	ControlID uuid.UUID            `json:"control_id"`
	Coverage  models.CoverageLevel `json:"coverage_level"`
	Verified  bool                 `json:"verified"`
	Notes     string               `json:"notes"`
}

func (s *Server) createMapping(w http.ResponseWriter, r *http.Request) {
	policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	var req createMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.ControlID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "validation_error", "control_id is required")
		return
	}
	switch req.Coverage {
	case models.CoverageNone, models.CoveragePartial, models.CoverageFull:
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "coverage_level must be none, partial or full")
		return
	}

	policy, err := s.store.GetPolicy(r.Context(), policyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if policy == nil {
		respondError(w, http.StatusNotFound, "not_found", "Policy not found")
		return
	}

	control, err := s.store.GetControl(r.Context(), req.ControlID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if control == nil {
		respondError(w, http.StatusNotFound, "not_found", "Control not found")
		return
	}

	mapping := &models.PolicyControlMapping{
		PolicyID:  policyID,
		ControlID: req.ControlID,
		Coverage:  req.Coverage,
		Verified:  req.Verified,
		Notes:     req.Notes,
	}
	if err := s.store.CreateMapping(r.Context(), mapping); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, mapping)
}

func (s *Server) deleteMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "mappingID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid mapping ID")
		return
	}

	if err := s.store.DeleteMapping(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
