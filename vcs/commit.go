package vcs

import (
	"context"
	"errors"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/broadcast"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/internal/engine"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pool"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/validation"
)

// CommitRequest records Structure as the new state of Branch. An empty
// Branch means the current branch.
type CommitRequest struct {
	Branch    string          `json:"branch"`
	Message   string          `json:"message"`
	Author    Author          `json:"author"`
	Structure *structure.Node `json:"structure"`
}

// RestoreResult is the outcome of RestoreCommit.
type RestoreResult struct {
	Branch     string          `json:"branch"`
	Commit     CommitInfo      `json:"commit"`
	Structure  *structure.Node `json:"structure"`
	AutoCommit *CommitInfo     `json:"auto_commit,omitempty"`
}

// TreeResult is a project tree tagged with where it was read from.
type TreeResult struct {
	Branch     string          `json:"branch"`
	Structure  *structure.Node `json:"structure"`
	Origin     Origin          `json:"origin"`
	HeadCommit string          `json:"head_commit,omitempty"`
	// Reason is set when Origin is fallback.
	Reason string `json:"reason,omitempty"`
}

func checkTree(op string, tree *structure.Node) error {
	if tree == nil {
		return newError(op, KindInvalidOperation, "structure is required")
	}
	if err := structure.Validate(tree); err != nil {
		return &Error{Kind: KindInvalidName, Op: op, Message: err.Error(), Err: err}
	}
	for p := range structure.Flatten(tree) {
		if err := validation.ValidateFilePath(p); err != nil {
			return &Error{Kind: KindInvalidName, Op: op, Message: err.Error(), Paths: []string{p}, Err: err}
		}
	}
	return nil
}

func checkMessage(op, message string) error {
	if err := validation.ValidateCommitMessage(message); err != nil {
		var verr validation.ValidationError
		if errors.As(err, &verr) {
			return newError(op, KindInvalidOperation, "%s", verr.Message)
		}
		return newError(op, KindInvalidOperation, "%v", err)
	}
	return nil
}

// Commit writes the request's tree to the branch's working tree, removing
// paths it does not name, and commits everything. When the branch is not
// checked out it is checked out for the commit and the previous branch is
// restored afterwards.
func (s *Service) Commit(ctx context.Context, projectID string, req CommitRequest) (CommitInfo, error) {
	const op = "commit"
	if err := checkMessage(op, req.Message); err != nil {
		return CommitInfo{}, err
	}
	if err := checkTree(op, req.Structure); err != nil {
		return CommitInfo{}, err
	}
	if req.Branch != "" {
		if err := checkBranchName(op, req.Branch); err != nil {
			return CommitInfo{}, err
		}
	}
	files := structure.Flatten(req.Structure)

	var info CommitInfo
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) (err error) {
		repo := h.Repo
		if _, err := repo.EnsureSeeded(); err != nil {
			return err
		}
		original, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		branch := req.Branch
		if branch == "" {
			branch = original
		}

		if branch != original {
			exists, err := repo.BranchExists(branch)
			if err != nil {
				return err
			}
			if !exists {
				return newError(op, KindNotFound, "branch %q not found", branch)
			}
			defer func() {
				if rerr := s.returnTo(ctx, repo, original); rerr != nil && err == nil {
					err = rerr
				}
			}()
			if _, err := s.moveTo(ctx, repo, branch); err != nil {
				return err
			}
		}

		if err := repo.WriteFiles(files); err != nil {
			return err
		}
		c, err := repo.CommitAll(ctx, req.Message, s.signature(req.Author))
		if err != nil {
			return err
		}
		info = commitInfo(c)

		tree := structure.Unflatten(files)
		s.fallback.mirror(projectID, branch, tree, info.Hash, original)
		s.publish(projectID, broadcast.CommitCreated, map[string]interface{}{
			"branch":    branch,
			"commit":    info,
			"structure": tree,
		})
		return nil
	})
	return info, err
}

// ListCommits returns up to limit commits of branch, newest first. An
// empty branch means the current branch; limit <= 0 returns all.
func (s *Service) ListCommits(ctx context.Context, projectID, branch string, limit int) ([]CommitInfo, error) {
	const op = "list_commits"
	if branch != "" {
		if err := checkBranchName(op, branch); err != nil {
			return nil, err
		}
	}

	var out []CommitInfo
	err := s.read(ctx, op, projectID, func(h *pool.ProjectRepository) error {
		repo := h.Repo
		if branch == "" {
			current, err := repo.CurrentBranch()
			if err != nil {
				return err
			}
			branch = current
		}
		commits, err := repo.Log(branch, limit)
		if err != nil {
			if errors.Is(err, engine.ErrBranchNotFound) {
				return newError(op, KindNotFound, "branch %q not found", branch)
			}
			return err
		}
		out = make([]CommitInfo, 0, len(commits))
		for _, c := range commits {
			out = append(out, commitInfo(c))
		}
		return nil
	})
	return out, err
}

// RestoreCommit replaces the working tree of branch with the files of the
// commit hash. No commit is created; the next commit or auto-save records
// the restored state.
func (s *Service) RestoreCommit(ctx context.Context, projectID, hash, branch string) (RestoreResult, error) {
	const op = "restore_commit"
	if branch != "" {
		if err := checkBranchName(op, branch); err != nil {
			return RestoreResult{}, err
		}
	}

	var result RestoreResult
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) error {
		repo := h.Repo
		c, err := repo.ResolveCommit(hash)
		if err != nil {
			if errors.Is(err, engine.ErrCommitNotFound) {
				return newError(op, KindNotFound, "commit %q not found", hash)
			}
			return err
		}

		current, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		if branch == "" {
			branch = current
		}
		if branch != current {
			exists, err := repo.BranchExists(branch)
			if err != nil {
				return err
			}
			if !exists {
				return newError(op, KindNotFound, "branch %q not found", branch)
			}
			if result.AutoCommit, err = s.moveTo(ctx, repo, branch); err != nil {
				return err
			}
		}

		files, err := repo.FilesAt(c.Hash)
		if err != nil {
			return err
		}
		if err := repo.WriteFiles(files); err != nil {
			return err
		}

		result.Branch = branch
		result.Commit = commitInfo(c)
		result.Structure = structure.Unflatten(files)

		s.fallback.mirror(projectID, "", nil, "", branch)
		s.publish(projectID, broadcast.CommitRestored, map[string]interface{}{
			"branch":    branch,
			"commit":    result.Commit,
			"structure": result.Structure,
		})
		return nil
	})
	return result, err
}

// LoadTree returns the tree of branch, or of the current branch when
// branch is empty. The engine's answer is preferred. The document store
// answers when the repository holds only its seed commit, when the branch
// is known only to the document store, or when the repository cannot be
// opened.
func (s *Service) LoadTree(ctx context.Context, projectID, branch string) (TreeResult, error) {
	const op = "load_tree"
	if branch != "" {
		if err := checkBranchName(op, branch); err != nil {
			return TreeResult{}, err
		}
	}

	var (
		result TreeResult
		reason string
	)
	err := s.read(ctx, op, projectID, func(h *pool.ProjectRepository) error {
		repo := h.Repo
		current, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		if branch == "" {
			branch = current
		}

		exists, err := repo.BranchExists(branch)
		if err != nil {
			return err
		}
		if !exists {
			if s.fallback.hasBranch(ctx, projectID, branch) {
				reason = reasonBranchMissing
				return nil
			}
			return newError(op, KindNotFound, "branch %q not found", branch)
		}

		n, err := repo.CountCommits(branch, 2)
		if err != nil {
			return err
		}
		if n <= 1 {
			reason = reasonSeedOnly
			return nil
		}

		head, err := repo.BranchHead(branch)
		if err != nil {
			return err
		}
		var tree *structure.Node
		if branch == current {
			tree, err = s.workingTree(repo)
		} else {
			var files structure.FlatFileSet
			files, err = repo.FilesAt(branch)
			tree = structure.Unflatten(files)
		}
		if err != nil {
			return err
		}
		result = TreeResult{Branch: branch, Structure: tree, Origin: OriginEngine, HeadCommit: head}
		return nil
	})

	switch {
	case err != nil && KindOf(err) == KindStorageUnavailable:
		reason = reasonStorageUnavailable
		s.logger.WithField("project_id", projectID).WarnWithErr("Serving tree from document store", err)
	case err != nil:
		return TreeResult{}, err
	}
	if reason == "" {
		return result, nil
	}

	if branch == "" {
		branch = s.opts.DefaultBranch
	}
	s.fallback.countRead(reason)
	tree, head := s.fallback.load(ctx, projectID, branch)
	return TreeResult{
		Branch:     branch,
		Structure:  tree,
		Origin:     OriginFallback,
		HeadCommit: head,
		Reason:     reason,
	}, nil
}
