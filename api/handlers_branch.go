package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) listBranches(c *gin.Context) {
	branches, err := s.service.ListBranches(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, BranchesResponse{Branch: branches.Current, Branches: branches})
}

func (s *Server) createBranch(c *gin.Context) {
	var req CreateBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	branches, err := s.service.CreateBranch(c.Request.Context(), c.Param("project_id"), req.Name, req.Base)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, BranchesResponse{Branch: req.Name, Branches: branches})
}

func (s *Server) switchBranch(c *gin.Context) {
	var req SwitchBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := s.service.SwitchBranch(c.Request.Context(), c.Param("project_id"), req.Name, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) deleteBranch(c *gin.Context) {
	// Branch names may contain slashes, so the name is a catch-all param.
	name := strings.TrimPrefix(c.Param("name"), "/")
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	branches, err := s.service.DeleteBranch(c.Request.Context(), c.Param("project_id"), name, force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, BranchesResponse{Branch: name, Branches: branches})
}
