package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/auth"
	"github.com/policyforge/comply/internal/models"
	"github.com/policyforge/comply/internal/scheduler"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	tokens, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	tokens, err := s.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = s.authService.LogoutAll(r.Context(), claims.UserID)
	} else {
		_ = s.authService.Logout(r.Context(), claims.UserID, req.RefreshToken)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": claims.UserID,
		"email":   claims.Email,
		"role":    claims.Role,
	})
}

type createUserRequest struct {
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleViewer
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "hash_error", "Could not hash password")
		return
	}

	user := &auth.User{
		Email:    req.Email,
		Name:     req.Name,
		Password: hash,
		Role:     req.Role,
	}
	if err := s.userStore.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userStore.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.store.ListOrganizations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, orgs)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid organization ID")
		return
	}

	org, err := s.store.GetOrganization(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if org == nil {
		respondError(w, http.StatusNotFound, "not_found", "Organization not found")
		return
	}

	respondJSON(w, http.StatusOK, org)
}

type createOrganizationRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Industry string `json:"industry"`
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Name == "" || req.Slug == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name and slug are required")
		return
	}

	org := &models.Organization{
		Name:     req.Name,
		Slug:     req.Slug,
		Industry: req.Industry,
	}
	if err := s.store.CreateOrganization(r.Context(), org); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, org)
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	var orgID *uuid.UUID
	var status *models.PolicyStatus

	if o := r.URL.Query().Get("organization_id"); o != "" {
		id, err := uuid.Parse(o)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_id", "Invalid organization ID")
			return
		}
		orgID = &id
	}
	if st := r.URL.Query().Get("status"); st != "" {
		ps := models.PolicyStatus(st)
		status = &ps
	}

	policies, err := s.store.ListPolicies(r.Context(), orgID, status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, policies)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	policy, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if policy == nil {
		respondError(w, http.StatusNotFound, "not_found", "Policy not found")
		return
	}

	respondJSON(w, http.StatusOK, policy)
}

type policyRequest struct {
	OrganizationID uuid.UUID           `json:"organization_id"`
	Title          string              `json:"title"`
	PolicyType     string              `json:"policy_type"`
	Status         models.PolicyStatus `json:"status"`
	Version        string              `json:"version"`
	OwnerID        *uuid.UUID          `json:"owner_id"`
	Description    string              `json:"description"`
	EffectiveDate  *time.Time          `json:"effective_date"`
	ReviewDate     *time.Time          `json:"review_date"`
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.OrganizationID == uuid.Nil || req.Title == "" || req.PolicyType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "organization_id, title and policy_type are required")
		return
	}

	policy := &models.Policy{
		OrganizationID: req.OrganizationID,
		Title:          req.Title,
		PolicyType:     req.PolicyType,
		Status:         req.Status,
		Version:        req.Version,
		OwnerID:        req.OwnerID,
		Description:    req.Description,
		EffectiveDate:  req.EffectiveDate,
		ReviewDate:     req.ReviewDate,
	}
	if err := s.store.CreatePolicy(r.Context(), policy); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, policy)
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	policy, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if policy == nil {
		respondError(w, http.StatusNotFound, "not_found", "Policy not found")
		return
	}

	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Title != "" {
		policy.Title = req.Title
	}
	if req.PolicyType != "" {
		policy.PolicyType = req.PolicyType
	}
	if req.Status != "" {
		policy.Status = req.Status
	}
	if req.Version != "" {
		policy.Version = req.Version
	}
	if req.OwnerID != nil {
		policy.OwnerID = req.OwnerID
	}
	if req.Description != "" {
		policy.Description = req.Description
	}
	if req.EffectiveDate != nil {
		policy.EffectiveDate = req.EffectiveDate
	}
	if req.ReviewDate != nil {
		policy.ReviewDate = req.ReviewDate
	}

	if err := s.store.UpdatePolicy(r.Context(), policy); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, policy)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	if err := s.store.DeletePolicy(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createDocumentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StorageKey  string `json:"storage_key"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Filename == "" || req.StorageKey == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "filename and storage_key are required")
		return
	}

	doc := &models.Document{
		PolicyID:    policyID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		StorageKey:  req.StorageKey,
	}
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		if uid, err := uuid.Parse(claims.UserID); err == nil {
			doc.UploadedBy = &uid
		}
	}

	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), policyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid document ID")
		return
	}

	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid user ID in token")
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"

	items, err := s.store.ListNotifications(r.Context(), userID, unreadOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid user ID in token")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid notification ID")
		return
	}

	if err := s.store.MarkNotificationRead(r.Context(), id, userID); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.schedulerStore.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) createScheduledJob(w http.ResponseWriter, r *http.Request) {
	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if job.Name == "" || job.Schedule == "" || job.JobType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name, schedule and job_type are required")
		return
	}

	if err := s.scheduler.AddJob(r.Context(), &job); err != nil {
		respondError(w, http.StatusBadRequest, "scheduler_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) getScheduledJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.schedulerStore.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "Job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) updateScheduledJob(w http.ResponseWriter, r *http.Request) {
	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	job.ID = chi.URLParam(r, "jobID")

	if err := s.scheduler.UpdateJob(r.Context(), &job); err != nil {
		respondError(w, http.StatusBadRequest, "scheduler_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) deleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		respondError(w, http.StatusInternalServerError, "scheduler_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.RunJobNow(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		respondError(w, http.StatusBadRequest, "scheduler_error", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	execs, err := s.schedulerStore.GetJobExecutions(r.Context(), chi.URLParam(r, "jobID"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, execs)
}
