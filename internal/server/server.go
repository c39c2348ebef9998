package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/service"
	"github.com/beaconhq/beacon/internal/service/publisher"
	"github.com/beaconhq/beacon/internal/service/publisher/webhook"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Posts      *service.PostService
	Manager    *publisher.Manager
	Dispatcher *service.Dispatcher
	Scheduler  *service.Scheduler
	Retry      *service.RetryCoordinator
	Monitoring *service.MonitoringService
	Stats      *service.StatsUpdater
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	monitoring := service.NewMonitoringService(db, logger)
	manager := publisher.NewManager(logger, db)
	publishTimeout := config.ParseDuration(cfg.Dispatcher.PublishTimeout, 30*time.Second)
	dispatcher := service.NewDispatcher(db, logger, manager, monitoring, publishTimeout)
	retry := service.NewRetryCoordinator(&cfg.Retry, logger, db, dispatcher)
	validation := service.NewValidationEngine()
	posts := service.NewPostService(db, logger, validation, dispatcher, retry, cfg.Workflow)
	scheduler := service.NewScheduler(&cfg.Scheduler, logger, db, dispatcher, manager, monitoring)
	stats := service.NewStatsUpdater(monitoring, logger, time.Hour, 30*24*time.Hour)

	// Create router
	router := gin.New()

	srv := &Server{
		Config:     cfg,
		DB:         db,
		Router:     router,
		Logger:     logger,
		Posts:      posts,
		Manager:    manager,
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Retry:      retry,
		Monitoring: monitoring,
		Stats:      stats,
	}

	srv.registerPublishers(logger)
	srv.registerValidators()
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

// registerPublishers wires one gateway adapter per configured platform.
func (s *Server) registerPublishers(logger *zap.Logger) {
	for platform, pubCfg := range s.Config.Publishers {
		if !models.IsKnownPlatform(platform) {
			logger.Warn("Skipping publisher for unknown platform", zap.String("platform", platform))
			continue
		}

		pub := webhook.NewWebhookPublisher(platform, logger)
		if err := s.Manager.Register(pub); err != nil {
			logger.Error("Failed to register publisher",
				zap.String("platform", platform),
				zap.Error(err))
			continue
		}

		cfg := publisher.PublishConfig{
			PlatformName: platform,
			Enabled:      pubCfg.Enabled,
			Config: map[string]string{
				"endpoint": pubCfg.Endpoint,
				"token":    pubCfg.Token,
			},
		}
		if err := pub.Initialize(context.Background(), cfg); err != nil {
			logger.Error("Failed to initialize publisher",
				zap.String("platform", platform),
				zap.Error(err))
			cfg.Enabled = false
		}
		s.Manager.SetConfig(platform, cfg)
	}
}

// registerValidators adds the custom binding validators the DTOs use.
func (s *Server) registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
			return models.IsKnownPlatform(fl.Field().String())
		})
	}
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		api.GET("/platforms", s.handleListPlatforms)

		posts := api.Group("/posts")
		{
			posts.POST("", s.handleCreatePost)
			posts.GET("", s.handleListPosts)
			posts.GET("/:id", s.handleGetPost)
			posts.PUT("/:id", s.handleUpdatePost)
			posts.POST("/:id/submit", s.handleSubmitPost)
			posts.POST("/:id/approve", s.handleApprovePost)
			posts.POST("/:id/reject", s.handleRejectPost)
			posts.POST("/:id/schedule", s.handleSchedulePost)
			posts.POST("/:id/cancel", s.handleCancelPost)
			posts.POST("/:id/retry", s.handleRetryPost)
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start background workers
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	s.Retry.Start(ctx)
	s.Stats.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop background workers first
	s.Scheduler.Stop()
	s.Retry.Stop()
	s.Stats.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
