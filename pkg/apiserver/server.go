package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/apiserver/handlers"
	"github.com/flowforge/startlimit/pkg/apiserver/middleware"
	"github.com/flowforge/startlimit/pkg/auth"
	"github.com/flowforge/startlimit/pkg/config"
	"github.com/flowforge/startlimit/pkg/limiter"
)

type Server struct {
	router     *gin.Engine
	registry   *limiter.Registry
	controller *limiter.Controller
	cfg        *config.Config
	logger     *zap.Logger
}

func NewServer(registry *limiter.Registry, controller *limiter.Controller, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		registry:   registry,
		controller: controller,
		cfg:        cfg,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "limits": s.registry.Len()})
	})

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.cfg.Auth))

		read := middleware.RequireScope(auth.ScopeRead)
		write := middleware.RequireScope(auth.ScopeWrite)

		limitHandler := handlers.NewLimitHandler(s.registry, s.logger)
		api.POST("/limits", write, limitHandler.Create)
		api.GET("/limits", read, limitHandler.List)
		api.GET("/limits/:tag", read, limitHandler.Query)
		api.PUT("/limits/:tag", write, limitHandler.Refresh)
		api.DELETE("/limits/:tag", write, limitHandler.Delete)

		negotiation := api.Group("/negotiation", middleware.RequireScope(auth.ScopeNegotiate))
		negotiationHandler := handlers.NewNegotiationHandler(s.controller, s.logger)
		negotiation.POST("/passes", negotiationHandler.BeginPass)
		negotiation.POST("/evaluate", negotiationHandler.Evaluate)
		negotiation.POST("/exhausted", negotiationHandler.Exhausted)
		negotiation.POST("/tickets/:id/commit", negotiationHandler.Commit)
		negotiation.POST("/tickets/:id/rollback", negotiationHandler.Rollback)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
