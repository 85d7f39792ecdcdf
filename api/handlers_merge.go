package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/vcs"
)

// merge answers 200 for conflicted merges too; the body says which.
func (s *Server) merge(c *gin.Context) {
	var req vcs.MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := s.service.Merge(c.Request.Context(), c.Param("project_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) mergeStatus(c *gin.Context) {
	state, err := s.service.MergeStatus(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) resolveConflicts(c *gin.Context) {
	var req vcs.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := s.service.ResolveConflicts(c.Request.Context(), c.Param("project_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) abortMerge(c *gin.Context) {
	state, err := s.service.AbortMerge(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
