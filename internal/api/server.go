// Package api is the HTTP surface of the survey: sign-in, the step form,
// results, history and the admin report search.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swot-insights/internal/common/config"
	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
	"swot-insights/internal/reports"
)

const DefaultAdminRole = "admin"

// ReportRepository is the caller-scoped report storage.
type ReportRepository interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Report, error)
	Get(ctx context.Context, id, userID string) (*models.Report, error)
	Update(ctx context.Context, id, userID string, patch models.ReportPatch) (bool, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// ReportSearch is the admin full-text index.
type ReportSearch interface {
	Search(ctx context.Context, q string, from, size int) (*reports.SearchResult, error)
	Remove(ctx context.Context, id string) error
}

// ReadyCheck checks one dependency for /ready.
type ReadyCheck func(ctx context.Context) error

type Dependencies struct {
	Config        config.ServerConfig
	AdminRole     string
	Auth          Authenticator
	Subscriptions SubscriptionChecker
	Sessions      *SessionManager
	Reports       ReportRepository
	Search        ReportSearch
	// Analysis serves POST /functions/v1/generate-swot.
	Analysis    gin.HandlerFunc
	ReadyChecks map[string]ReadyCheck
	Logger      logger.Logger
}

type Server struct {
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	errors     *apperrors.ErrorHandler
	logger     logger.Logger
	startTime  time.Time
}

func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.AdminRole == "" {
		deps.AdminRole = DefaultAdminRole
	}
	log := deps.Logger.With(map[string]interface{}{"component": "api"})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(RequestLogger(log))
	engine.Use(cors.New(corsConfig(deps.Config.AllowedOrigins)))

	s := &Server{
		deps:      deps,
		engine:    engine,
		errors:    apperrors.NewErrorHandler(log),
		logger:    log,
		startTime: time.Now(),
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         deps.Config.Address,
		Handler:      engine,
		ReadTimeout:  config.GetDuration(deps.Config.ReadTimeout),
		WriteTimeout: config.GetDuration(deps.Config.WriteTimeout),
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", headerRequestID}
	c.ExposeHeaders = []string{headerRequestID}
	c.MaxAge = 12 * time.Hour
	return c
}

func (s *Server) routes() {
	r := s.engine

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/auth/signin", s.signIn)

	authed := r.Group("/")
	authed.Use(RequireAuth(s.deps.Auth, s.errors))
	authed.POST("/auth/signout", s.signOut)
	authed.GET("/auth/session", s.session)
	authed.GET("/subscription/status", s.subscriptionStatus)

	admin := authed.Group("/admin")
	admin.Use(RequireAdmin(s.deps.AdminRole, s.errors))
	admin.GET("/reports", s.searchReports)

	paid := authed.Group("/")
	paid.Use(RequireActiveSubscription(s.deps.Subscriptions, s.errors))
	paid.GET("/form", s.formView)
	paid.POST("/form/next", s.formNext)
	paid.POST("/form/back", s.formBack)
	paid.POST("/form/goto", s.formGoTo)
	paid.PUT("/form/draft", s.formDraft)
	paid.POST("/form/retry", s.formRetry)
	paid.POST("/form/restart", s.formRestart)
	paid.GET("/results", s.results)
	paid.PUT("/results/actions", s.toggleAction)
	paid.GET("/history", s.history)
	paid.GET("/history/:id", s.historyItem)
	paid.DELETE("/history/:id", s.deleteHistoryItem)
	if s.deps.Analysis != nil {
		paid.POST("/functions/v1/generate-swot", s.deps.Analysis)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{"address": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and flushes pending form drafts.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.deps.Sessions != nil {
		if ferr := s.deps.Sessions.FlushAll(ctx); ferr != nil {
			s.logger.Warn("Pending drafts could not be flushed", map[string]interface{}{"error": ferr.Error()})
		}
	}
	return err
}
