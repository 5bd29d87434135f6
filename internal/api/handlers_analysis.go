package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/auth"
	"github.com/policyforge/comply/internal/reports"
)

type triggerAnalysisRequest struct {
	Priority int `json:"priority"`
}

// triggerAnalysis creates a pending analysis record and queues it for a
// worker. The response is the pending record; clients poll the analysis
// endpoint for its terminal state.
func (s *Server) triggerAnalysis(w http.ResponseWriter, r *http.Request) {
	frameworkID, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	var req triggerAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Priority = 0
	}

	fw, err := s.store.GetFramework(r.Context(), frameworkID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if fw == nil {
		respondError(w, http.StatusNotFound, "not_found", "Framework not found")
		return
	}
	if !fw.Active {
		respondError(w, http.StatusConflict, "framework_inactive", "Framework is not active")
		return
	}

	triggeredBy := uuid.Nil
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		if uid, err := uuid.Parse(claims.UserID); err == nil {
			triggeredBy = uid
		}
	}

	record, err := s.enqueueAnalysis(r.Context(), frameworkID, triggeredBy, req.Priority)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, record)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid analysis ID")
		return
	}

	result, err := s.store.GetAnalysis(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "not_found", "Analysis not found")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	frameworkID, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	results, err := s.store.ListAnalyses(r.Context(), &frameworkID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, results)
}

func (s *Server) getLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	frameworkID, err := uuid.Parse(chi.URLParam(r, "frameworkID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	result, err := s.store.GetLatestCompletedAnalysis(r.Context(), frameworkID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "not_found", "No completed analysis for this framework")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) getAnalysisJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid analysis ID")
		return
	}

	status, err := s.queue.GetStatus(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	if status == nil {
		respondError(w, http.StatusNotFound, "not_found", "No job status for this analysis")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (s *Server) getQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.GetQueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	workers, err := s.queue.GetActiveWorkers(r.Context(), 30*time.Second)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue":          stats,
		"active_workers": workers,
	})
}

func (s *Server) analysisReportPDF(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid analysis ID")
		return
	}

	data, err := s.reportGenerator.AnalysisPDF(r.Context(), id)
	if err != nil {
		s.respondReportError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=analysis-%s.pdf", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) analysisGapsCSV(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid analysis ID")
		return
	}

	data, err := s.reportGenerator.GapsCSV(r.Context(), id)
	if err != nil {
		s.respondReportError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=gaps-%s.csv", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) analysisCoverageCSV(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid analysis ID")
		return
	}

	data, err := s.reportGenerator.CoverageCSV(r.Context(), id)
	if err != nil {
		s.respondReportError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=coverage-%s.csv", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) respondReportError(w http.ResponseWriter, err error) {
	if errors.Is(err, reports.ErrNotCompleted) {
		respondError(w, http.StatusConflict, "not_completed", "Analysis has not completed")
		return
	}
	respondError(w, http.StatusInternalServerError, "report_error", err.Error())
}
