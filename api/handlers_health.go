package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/internal/engine"
)

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const healthCheckTimeout = 3 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
	System    SystemInfo       `json:"system"`
}

// Check represents an individual health check
type Check struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration,omitempty"`
}

type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	Repositories  int    `json:"repositories"`
	Subscribers   int    `json:"subscribers"`
}

func (s *Server) healthCheck(c *gin.Context) {
	checks := s.runHealthChecks(c.Request.Context())

	status := "healthy"
	for _, check := range checks {
		if check.Status != "healthy" {
			status = "unhealthy"
			break
		}
	}

	system := SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
	}
	if s.repoPool != nil {
		system.Repositories = s.repoPool.Size()
	}
	if s.hub != nil {
		system.Subscribers = s.hub.Stats().Subscribers
	}

	httpStatus := http.StatusOK
	if status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(s.startTime).String(),
		Checks:    checks,
		System:    system,
	})
}

// liveness handles the liveness probe
func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

func (s *Server) runHealthChecks(ctx context.Context) map[string]Check {
	checks := map[string]Check{
		"git": s.checkGit(),
	}
	if s.store != nil {
		checks["datastore"] = s.checkDatastore(ctx)
	}
	return checks
}

func (s *Server) checkGit() Check {
	start := time.Now()
	path, err := engine.LookupGit(s.config.Storage.GitBinary)
	if err != nil {
		return failedCheck(start, err)
	}
	return Check{
		Status:    "healthy",
		Message:   path,
		Timestamp: time.Now(),
		Duration:  time.Since(start).String(),
	}
}

// checkDatastore pings the document store. Reads still succeed from the
// engine while it is down, but mirrors are being lost.
func (s *Server) checkDatastore(ctx context.Context) Check {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		return failedCheck(start, err)
	}
	return Check{
		Status:    "healthy",
		Message:   "document store is reachable",
		Timestamp: time.Now(),
		Duration:  time.Since(start).String(),
	}
}

func failedCheck(start time.Time, err error) Check {
	return Check{
		Status:    "unhealthy",
		Message:   err.Error(),
		Timestamp: time.Now(),
		Duration:  time.Since(start).String(),
	}
}

func (s *Server) versionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    Version,
		"go_version": runtime.Version(),
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}
