// Package api exposes the version control service over HTTP and the event
// stream over websockets.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/broadcast"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/config"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/metrics"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pool"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/vcs"
)

// Dependencies are the components a Server routes requests to. Store,
// Metrics and Logger may be nil.
type Dependencies struct {
	Service *vcs.Service
	Pool    *pool.RepositoryPool
	Hub     *broadcast.Hub
	Store   datastore.DocumentStore
	Metrics *metrics.PrometheusMetrics
	Logger  *logging.Logger
}

type Server struct {
	config            *config.Config
	service           *vcs.Service
	repoPool          *pool.RepositoryPool
	hub               *broadcast.Hub
	gateway           *broadcast.Gateway
	store             datastore.DocumentStore
	prometheusMetrics *metrics.PrometheusMetrics
	logger            *logging.Logger
	startTime         time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Server{
		config:            cfg,
		service:           deps.Service,
		repoPool:          deps.Pool,
		hub:               deps.Hub,
		gateway:           broadcast.NewGateway(deps.Hub, cfg.Server.AllowedOrigins, logger, deps.Metrics),
		store:             deps.Store,
		prometheusMetrics: deps.Metrics,
		logger:            logger.WithComponent("api"),
		startTime:         time.Now(),
	}
}

// Handler returns a gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	s.RegisterRoutes(router)
	return router
}

func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(logging.GinLogger(s.logger))
	router.Use(SecurityHeadersMiddleware())
	if len(s.config.Server.AllowedOrigins) > 0 {
		router.Use(CORSMiddleware(s.config.Server.AllowedOrigins))
	}
	if s.config.Server.MaxRequestSize > 0 {
		router.Use(RequestSizeMiddleware(s.config.Server.MaxRequestSize))
	}
	if s.prometheusMetrics != nil {
		router.Use(s.prometheusMetrics.GinMiddleware())
	}

	projects := router.Group("/api/projects/:project_id")
	{
		projects.GET("/branches", s.listBranches)
		projects.POST("/branches", s.createBranch)
		projects.POST("/branches/switch", s.switchBranch)
		projects.DELETE("/branches/*name", s.deleteBranch)

		projects.GET("/commits", s.listCommits)
		projects.POST("/commits", s.commit)
		projects.POST("/commits/:hash/restore", s.restoreCommit)

		projects.GET("/merge", s.mergeStatus)
		projects.POST("/merge", s.merge)
		projects.POST("/merge/resolve", s.resolveConflicts)
		projects.POST("/merge/abort", s.abortMerge)

		projects.GET("/structure", s.loadTree)
	}

	router.GET("/ws/projects/:project_id", s.gateway.HandleWebSocket)

	router.GET("/health", s.healthCheck)
	router.GET("/health/live", s.liveness)
	router.GET("/version", s.versionInfo)
	if s.prometheusMetrics != nil && s.config.Metrics.Enabled {
		router.GET(s.config.Metrics.Path, s.prometheusMetrics.PrometheusHandler())
	}

	poolRoutes := router.Group("/api/pool")
	{
		poolRoutes.GET("/stats", s.getPoolStats)
		poolRoutes.POST("/cleanup", s.cleanupPool)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("endpoint not found: %s %s", c.Request.Method, c.Request.URL.Path),
			Code:  "ENDPOINT_NOT_FOUND",
		})
	})
}
