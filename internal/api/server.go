package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/analysis"
	"github.com/policyforge/comply/internal/auth"
	"github.com/policyforge/comply/internal/config"
	"github.com/policyforge/comply/internal/models"
	"github.com/policyforge/comply/internal/notifications"
	"github.com/policyforge/comply/internal/queue"
	"github.com/policyforge/comply/internal/reports"
	"github.com/policyforge/comply/internal/scheduler"
	"github.com/policyforge/comply/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	queue  *queue.Queue
	runner *analysis.Runner
	worker *queue.Worker

	reconciler *analysis.Reconciler

	scheduler      *scheduler.Scheduler
	schedulerStore scheduler.Store

	reportGenerator *reports.Generator

	notificationService *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.queue, err = queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing queue: %w", err)
	}

	s.notificationService = notifications.NewService(notifications.Config{
		MinSeverity: cfg.Notifications.MinSeverity,
		Slack: notifications.SlackConfig{
			WebhookURL: cfg.Notifications.Slack.WebhookURL,
			Channel:    cfg.Notifications.Slack.Channel,
			Username:   "Comply Bot",
			IconEmoji:  ":clipboard:",
			Enabled:    cfg.Notifications.Slack.Enabled,
		},
		Email: notifications.EmailConfig{
			SMTPHost: cfg.Notifications.Email.SMTPHost,
			SMTPPort: cfg.Notifications.Email.SMTPPort,
			Username: cfg.Notifications.Email.Username,
			Password: cfg.Notifications.Email.Password,
			From:     cfg.Notifications.Email.From,
			To:       cfg.Notifications.Email.To,
			Enabled:  cfg.Notifications.Email.Enabled,
		},
	}, st, s.logger)

	s.runner = analysis.NewRunner(st, st, s.notificationService, s.logger, cfg.Analysis.RecommendationCap)
	s.reconciler = analysis.NewReconciler(st, s.logger, cfg.Analysis.StaleTimeout)

	if cfg.Analysis.EmbeddedWorker {
		s.worker = queue.NewWorker(queue.WorkerConfig{
			Queue:       s.queue,
			Runner:      s.runner,
			Concurrency: cfg.Analysis.Workers,
		})
	}

	var archiver *reports.Archiver
	if cfg.Reports.Archive.Enabled {
		archiver, err = reports.NewArchiver(context.Background(), reports.ArchiveConfig{
			Bucket:          cfg.Reports.Archive.Bucket,
			Region:          cfg.Reports.Archive.Region,
			Prefix:          cfg.Reports.Archive.Prefix,
			AccessKeyID:     cfg.Reports.Archive.AccessKeyID,
			SecretAccessKey: cfg.Reports.Archive.SecretAccessKey,
		})
		if err != nil {
			s.logger.Warn("report archival disabled", "error", err)
			archiver = nil
		}
	}
	s.reportGenerator = reports.NewGenerator(st, archiver, s.logger)

	s.schedulerStore = scheduler.NewPostgresStore(st.DB())
	s.scheduler = scheduler.NewScheduler(s.schedulerStore, s.logger)
	s.registerScheduledHandlers()

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) registerScheduledHandlers() {
	handlers := &scheduler.DefaultHandlers{
		AnalyzeFunc: func(ctx context.Context, frameworkID string) error {
			id, err := uuid.Parse(frameworkID)
			if err != nil {
				return fmt.Errorf("invalid framework_id %q: %w", frameworkID, err)
			}
			_, err = s.enqueueAnalysis(ctx, id, uuid.Nil, 0)
			return err
		},
		AnalyzeAllFunc: func(ctx context.Context) error {
			frameworks, err := s.store.ListFrameworks(ctx, true)
			if err != nil {
				return err
			}
			for _, fw := range frameworks {
				if _, err := s.enqueueAnalysis(ctx, fw.ID, uuid.Nil, 0); err != nil {
					return err
				}
			}
			return nil
		},
		ReconcileFunc: func(ctx context.Context) error {
			_, err := s.reconciler.Sweep(ctx)
			return err
		},
		CleanupFunc: func(ctx context.Context, olderThan time.Duration) error {
			// Jobs without an explicit window use the configured retention.
			if olderThan <= 0 {
				olderThan = s.cfg.Analysis.RetentionWindow()
			}
			if olderThan <= 0 {
				return nil
			}
			n, err := s.store.DeleteAnalysesOlderThan(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if n > 0 {
				s.logger.Info("cleaned up old analyses", "deleted", n)
			}
			return nil
		},
		ReviewDueFunc: func(ctx context.Context) error {
			due, err := s.store.ListPoliciesDueForReview(ctx, time.Now())
			if err != nil {
				return err
			}
			if len(due) > 0 {
				s.notificationService.PolicyReviewDue(ctx, due)
			}
			return nil
		},
		// Renders the latest completed analysis per active framework;
		// the generator archives each artifact when a bucket is
		// configured.
		ReportsFunc: func(ctx context.Context) error {
			frameworks, err := s.store.ListFrameworks(ctx, true)
			if err != nil {
				return err
			}
			for _, fw := range frameworks {
				latest, err := s.store.GetLatestCompletedAnalysis(ctx, fw.ID)
				if err != nil {
					return err
				}
				if latest == nil {
					continue
				}
				if _, err := s.reportGenerator.AnalysisPDF(ctx, latest.ID); err != nil {
					s.logger.Error("scheduled report generation failed",
						"framework_id", fw.ID, "analysis_id", latest.ID, "error", err)
				}
			}
			return nil
		},
	}
	handlers.Register(s.scheduler)
}

// enqueueAnalysis creates the pending record and hands it to the queue.
// The queue entry shares the record's id, so a worker picking up the job
// drives that exact row through running and into a terminal state.
func (s *Server) enqueueAnalysis(ctx context.Context, frameworkID, triggeredBy uuid.UUID, priority int) (*models.AnalysisResult, error) {
	record, err := s.store.CreatePendingAnalysis(ctx, frameworkID, triggeredBy)
	if err != nil {
		return nil, fmt.Errorf("creating analysis record: %w", err)
	}

	job := &queue.Job{
		ID:          record.ID,
		FrameworkID: frameworkID,
		TriggeredBy: triggeredBy,
		Priority:    priority,
	}
	if err := s.queue.EnqueueAnalysis(ctx, job); err != nil {
		_ = s.store.MarkAnalysisFailed(ctx, record.ID, "could not enqueue analysis job")
		return nil, fmt.Errorf("enqueueing analysis: %w", err)
	}

	return record, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", s.listOrganizations)
				r.Get("/{orgID}", s.getOrganization)
				r.With(auth.RequireRole(auth.RoleAdmin)).Post("/", s.createOrganization)
			})

			r.Route("/policies", func(r chi.Router) {
				r.Get("/", s.listPolicies)
				r.Get("/{policyID}", s.getPolicy)
				r.Get("/{policyID}/mappings", s.listPolicyMappings)
				r.Get("/{policyID}/documents", s.listDocuments)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleManager))
					r.Post("/", s.createPolicy)
					r.Put("/{policyID}", s.updatePolicy)
					r.Delete("/{policyID}", s.deletePolicy)
					r.Post("/{policyID}/mappings", s.createMapping)
					r.Post("/{policyID}/documents", s.createDocument)
				})
			})

			r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleManager)).
				Delete("/mappings/{mappingID}", s.deleteMapping)
			r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleManager)).
				Delete("/documents/{documentID}", s.deleteDocument)

			r.Route("/frameworks", func(r chi.Router) {
				r.Get("/", s.listFrameworks)
				r.Get("/{frameworkID}", s.getFramework)
				r.Get("/{frameworkID}/categories", s.listCategories)
				r.Get("/{frameworkID}/controls", s.listControls)
				r.Get("/{frameworkID}/mappings", s.listFrameworkMappings)
				r.Get("/{frameworkID}/analyses", s.listAnalyses)
				r.Get("/{frameworkID}/analyses/latest", s.getLatestAnalysis)

				r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleManager)).
					Post("/{frameworkID}/analyses", s.triggerAnalysis)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin))
					r.Post("/import", s.importFramework)
					r.Patch("/{frameworkID}/active", s.setFrameworkActive)
				})
			})

			r.Route("/analyses", func(r chi.Router) {
				r.Get("/{analysisID}", s.getAnalysis)
				r.Get("/{analysisID}/status", s.getAnalysisJobStatus)
				r.Get("/{analysisID}/report.pdf", s.analysisReportPDF)
				r.Get("/{analysisID}/gaps.csv", s.analysisGapsCSV)
				r.Get("/{analysisID}/coverage.csv", s.analysisCoverageCSV)
			})

			r.With(auth.RequireRole(auth.RoleAdmin)).Get("/queue/stats", s.getQueueStats)

			r.Route("/jobs", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/", s.listScheduledJobs)
				r.Post("/", s.createScheduledJob)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Put("/{jobID}", s.updateScheduledJob)
				r.Delete("/{jobID}", s.deleteScheduledJob)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.listNotifications)
				r.Post("/{notificationID}/read", s.markNotificationRead)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("starting embedded worker: %w", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		if s.worker != nil {
			s.worker.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
