package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/service"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	App  *service.App
	Auth *service.AuthService
}

func NewServer(cfg *config.Config, app *service.App, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	if err := loadTemplates(router); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	srv := &Server{
		Config: cfg,
		Router: router,
		Logger: logger,
		App:    app,
	}
	if cfg.Admin.TOTPSecret != "" {
		srv.Auth = service.NewAuthService(logger, cfg.Admin.TOTPSecret)
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			// The handshake query carries the verify token.
			path, _, _ := strings.Cut(param.Path, "?")
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"time":        time.Now().Unix(),
			"queue_depth": s.App.Worker.QueueDepth(),
		})
	})

	s.Router.GET("/", s.handleHome)
	s.Router.GET("/privacy-policy/", s.handlePage("privacy-policy.html"))
	s.Router.GET("/terms-and-conditions/", s.handlePage("terms-and-conditions.html"))

	webhook := s.Router.Group("/webhook")
	{
		webhook.GET("/", s.handleVerify)
		webhook.POST("/", s.signatureMiddleware(), s.handleEvent)
	}

	if s.Auth == nil {
		s.Logger.Info("Admin API disabled: admin.totp_secret is not set")
		return
	}

	api := s.Router.Group("/api/v1", s.Auth.AuthMiddleware())
	{
		posts := api.Group("/posts")
		{
			posts.GET("", s.handleListPosts)
			posts.GET("/:hash", s.handleGetPost)
		}
		api.GET("/quota", s.handleQuota)
		api.POST("/publish", s.handlePublish)
	}
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.App.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop accepting webhooks before cancelling the running job.
	var err error
	if s.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		err = s.Server.Shutdown(shutdownCtx)
	}

	s.App.Stop()
	return err
}
