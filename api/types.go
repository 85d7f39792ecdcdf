package api

import (
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/vcs"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Paths      []string `json:"paths,omitempty"`
	Retryable  bool     `json:"retryable"`
}

// CreateBranchRequest creates Name from Base, the default branch when
// empty.
type CreateBranchRequest struct {
	Name string `json:"name" binding:"required"`
	Base string `json:"base"`
}

type SwitchBranchRequest struct {
	Name  string `json:"name" binding:"required"`
	Force bool   `json:"force"`
}

type RestoreCommitRequest struct {
	Branch string `json:"branch"`
}

// BranchesResponse wraps a branch list with the branch the request was
// about.
type BranchesResponse struct {
	Branch   string         `json:"branch,omitempty"`
	Branches vcs.BranchList `json:"branches"`
}

type CommitsResponse struct {
	Branch  string           `json:"branch,omitempty"`
	Commits []vcs.CommitInfo `json:"commits"`
	Count   int              `json:"count"`
}
