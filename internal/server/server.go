package server

import (
	"context"
	"github.com/RyanW02/supplytrail/internal/config"
	"github.com/RyanW02/supplytrail/pkg/credential"
	"github.com/RyanW02/supplytrail/pkg/mirror"
	"github.com/RyanW02/supplytrail/pkg/monitoring"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type (
	CredentialService interface {
		Issue(ctx context.Context, req credential.IssueRequest) (credential.IssueResult, error)
		Verify(ctx context.Context, req credentials.VerificationRequest) (credentials.VerificationResponse, error)
		Revoke(ctx context.Context, id, reason string) (credentials.Credential, error)
		Validate(ctx context.Context, id string) (credentials.ValidationResult, error)
		Search(ctx context.Context, params repository.SearchParams) (repository.SearchResult, error)
	}

	EventService interface {
		GetEventsForProduct(ctx context.Context, productID string, cfg mirror.QueryConfig) (mirror.QueryResult, error)
		WaitForConfirmation(ctx context.Context, eventID, topicID string, timeout time.Duration) bool
		ValidateIntegrity(events []mirror.ConfirmedEvent) mirror.IntegrityReport
	}

	// HealthSource exposes the last known health of an external service.
	HealthSource interface {
		Health() retry.HealthStatus
	}

	Server struct {
		config      config.Config
		logger      *zap.Logger
		credentials CredentialService
		events      EventService
		repository  repository.Repository
		metrics     *monitoring.Metrics
		health      []HealthSource

		router     *gin.Engine
		httpServer *http.Server
	}
)

func NewServer(
	cfg config.Config,
	logger *zap.Logger,
	credentials CredentialService,
	events EventService,
	repository repository.Repository,
	metrics *monitoring.Metrics,
	health ...HealthSource,
) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:      cfg,
		logger:      logger,
		credentials: credentials,
		events:      events,
		repository:  repository,
		metrics:     metrics,
		health:      health,

		router: gin.New(),
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	_ = s.router.SetTrustedProxies(nil)

	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}

	if len(s.config.Server.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.config.Server.AllowedOrigins
	}

	s.router.Use(gin.Recovery(), s.observe(), cors.New(corsConfig))

	s.router.POST("/credentials", s.HandleIssue)
	s.router.POST("/credentials/verify", s.HandleVerify)
	s.router.POST("/credentials/:id/revoke", s.HandleRevoke)
	s.router.GET("/credentials/:id/validate", s.HandleValidate)
	s.router.GET("/credentials/:id/timeline", s.HandleTimeline)
	s.router.GET("/products/:product_id/credentials", s.HandleSearch)
	s.router.GET("/products/:product_id/events", s.HandleProductEvents)
	s.router.GET("/events/:event_id/confirmation", s.HandleConfirmation)
	s.router.GET("/status", s.HandleStatus)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called, in which case it returns nil.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Server.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", s.config.Server.Address))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}
