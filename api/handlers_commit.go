package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/vcs"
)

const (
	defaultCommitLimit = 50
	maxCommitLimit     = 1000
)

func (s *Server) listCommits(c *gin.Context) {
	limit := defaultCommitLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondBadRequest(c, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	if limit > maxCommitLimit {
		limit = maxCommitLimit
	}

	branch := c.Query("branch")
	commits, err := s.service.ListCommits(c.Request.Context(), c.Param("project_id"), branch, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CommitsResponse{Branch: branch, Commits: commits, Count: len(commits)})
}

func (s *Server) commit(c *gin.Context) {
	var req vcs.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	info, err := s.service.Commit(c.Request.Context(), c.Param("project_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) restoreCommit(c *gin.Context) {
	var req RestoreCommitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
	}

	result, err := s.service.RestoreCommit(c.Request.Context(), c.Param("project_id"), c.Param("hash"), req.Branch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) loadTree(c *gin.Context) {
	result, err := s.service.LoadTree(c.Request.Context(), c.Param("project_id"), c.Query("branch"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
