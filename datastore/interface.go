// Package datastore provides the document store that backs up repository
// state: project records with their last known tree, plus per-branch
// snapshots mirrored from the versioning engine.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidData      = errors.New("invalid data")
	ErrConnectionFailed = errors.New("connection failed")
	ErrClosed           = errors.New("store is closed")
)

// DocumentStore is the interface every backend satisfies.
type DocumentStore interface {
	// Lifecycle management
	Initialize(config Config) error
	Close() error
	HealthCheck(ctx context.Context) error
	Type() string

	// Projects
	FindProject(ctx context.Context, id string) (*Project, error)
	SaveProject(ctx context.Context, project *Project) error
	UpdateProject(ctx context.Context, id string, update ProjectUpdate) error

	// Version control metadata
	FindVersionControl(ctx context.Context, projectID string) (*VersionControl, error)
	SaveBranchSnapshot(ctx context.Context, projectID string, snapshot BranchSnapshot) error
	DeleteBranchSnapshot(ctx context.Context, projectID, branch string) error
	SetActiveBranch(ctx context.Context, projectID, branch string) error
}

// Project is the document-store view of a project.
type Project struct {
	ID        string          `json:"id" bson:"-"`
	Name      string          `json:"name" bson:"name"`
	Structure *structure.Node `json:"structure,omitempty" bson:"structure,omitempty"`
	RepoPath  string          `json:"repo_path,omitempty" bson:"repoPath,omitempty"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updatedAt"`
}

// ProjectUpdate lists the fields to change; nil fields are left alone.
type ProjectUpdate struct {
	RepoPath  *string
	Structure *structure.Node
}

// BranchSnapshot is the last tree mirrored for one branch.
type BranchSnapshot struct {
	Name       string          `json:"name" bson:"name"`
	Structure  *structure.Node `json:"structure,omitempty" bson:"structure,omitempty"`
	HeadCommit string          `json:"head_commit,omitempty" bson:"headCommit,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at" bson:"updatedAt"`
}

// VersionControl holds a project's branch metadata.
type VersionControl struct {
	ProjectID    string           `json:"project_id" bson:"projectId"`
	ActiveBranch string           `json:"active_branch,omitempty" bson:"activeBranch,omitempty"`
	Branches     []BranchSnapshot `json:"branches" bson:"branches"`
}

// Branch returns the snapshot for name, or nil.
func (v *VersionControl) Branch(name string) *BranchSnapshot {
	if v == nil {
		return nil
	}
	for i := range v.Branches {
		if v.Branches[i].Name == name {
			return &v.Branches[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (v *VersionControl) Clone() *VersionControl {
	if v == nil {
		return nil
	}
	out := &VersionControl{ProjectID: v.ProjectID, ActiveBranch: v.ActiveBranch}
	out.Branches = make([]BranchSnapshot, len(v.Branches))
	for i, b := range v.Branches {
		b.Structure = b.Structure.Clone()
		out.Branches[i] = b
	}
	return out
}

// Clone returns a deep copy.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Structure = p.Structure.Clone()
	return &out
}

// Apply copies the set fields of u onto p.
func (u ProjectUpdate) Apply(p *Project) {
	if u.RepoPath != nil {
		p.RepoPath = *u.RepoPath
	}
	if u.Structure != nil {
		p.Structure = u.Structure.Clone()
	}
}

// UpsertSnapshot replaces the snapshot with the same name or appends it.
func (v *VersionControl) UpsertSnapshot(s BranchSnapshot) {
	for i := range v.Branches {
		if v.Branches[i].Name == s.Name {
			v.Branches[i] = s
			return
		}
	}
	v.Branches = append(v.Branches, s)
}

// RemoveSnapshot drops the snapshot for name, if present.
func (v *VersionControl) RemoveSnapshot(name string) {
	out := v.Branches[:0]
	for _, b := range v.Branches {
		if b.Name != name {
			out = append(out, b)
		}
	}
	v.Branches = out
}
