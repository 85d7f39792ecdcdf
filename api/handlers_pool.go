package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getPoolStats returns statistics about the repository pool
func (s *Server) getPoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.repoPool.Stats())
}

// cleanupPool evicts idle repositories now instead of on the next tick.
func (s *Server) cleanupPool(c *gin.Context) {
	evicted := s.repoPool.Cleanup()

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"evicted_count":   evicted,
		"remaining_count": s.repoPool.Size(),
	})
}
