package vcs

import (
	"context"
	"fmt"
	"time"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/broadcast"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pool"
)

// MergeRequest merges Source into Target. An empty Target means the
// default branch.
type MergeRequest struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Author  Author `json:"author"`
	Message string `json:"message,omitempty"`
}

// MergeSummary describes a clean merge.
type MergeSummary struct {
	Commit       string   `json:"commit,omitempty"`
	UpToDate     bool     `json:"up_to_date"`
	ChangedPaths []string `json:"changed_paths"`
}

// MergeResult is the outcome of Merge. A conflicted merge is not an
// error: HasConflicts is set and Structure carries the conflict markers.
type MergeResult struct {
	Source       string          `json:"source"`
	Target       string          `json:"target"`
	HasConflicts bool            `json:"has_conflicts"`
	Conflicts    []string        `json:"conflicts,omitempty"`
	Structure    *structure.Node `json:"structure"`
	Summary      *MergeSummary   `json:"summary,omitempty"`
}

// ResolveRequest concludes a conflicted merge with Structure as the merged
// tree.
type ResolveRequest struct {
	Structure *structure.Node `json:"structure"`
	Message   string          `json:"message,omitempty"`
	Author    Author          `json:"author"`
}

// ResolveResult is the outcome of ResolveConflicts.
type ResolveResult struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Commit    CommitInfo      `json:"commit"`
	Structure *structure.Node `json:"structure"`
}

// Merge merges req.Source into req.Target. The target is checked out for
// the merge and the caller's branch is checked out again before Merge
// returns, whatever the outcome. On conflict the on-disk merge is aborted
// and the conflict is recorded until ResolveConflicts or AbortMerge.
func (s *Service) Merge(ctx context.Context, projectID string, req MergeRequest) (MergeResult, error) {
	const op = "merge"
	if req.Target == "" {
		req.Target = s.opts.DefaultBranch
	}
	if err := checkBranchName(op, req.Source); err != nil {
		return MergeResult{}, err
	}
	if err := checkBranchName(op, req.Target); err != nil {
		return MergeResult{}, err
	}
	if req.Source == req.Target {
		return MergeResult{}, newError(op, KindInvalidOperation, "cannot merge branch %q into itself", req.Source)
	}
	if req.Message == "" {
		req.Message = fmt.Sprintf("Merge branch '%s' into %s", req.Source, req.Target)
	} else if err := checkMessage(op, req.Message); err != nil {
		return MergeResult{}, err
	}

	result := MergeResult{Source: req.Source, Target: req.Target}
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) (err error) {
		repo := h.Repo
		if state := h.MergeState(); state.Phase == pool.MergeConflicted {
			e := newError(op, KindInvalidOperation,
				"merge of %q into %q has unresolved conflicts; resolve or abort it first",
				state.Conflict.Source, state.Conflict.Target)
			e.Paths = state.Conflict.Paths
			return e
		}
		for _, b := range []string{req.Source, req.Target} {
			exists, err := repo.BranchExists(b)
			if err != nil {
				return err
			}
			if !exists {
				return newError(op, KindNotFound, "branch %q not found", b)
			}
		}

		original, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		next := pool.MergeState{Phase: pool.MergeIdle}
		h.SetMergeState(pool.MergeState{Phase: pool.MergeMerging})
		defer func() {
			h.SetMergeState(next)
			if rerr := s.returnTo(ctx, repo, original); rerr != nil && err == nil {
				err = rerr
			}
		}()

		if req.Target != original {
			if _, err := s.moveTo(ctx, repo, req.Target); err != nil {
				return err
			}
		} else if _, err := s.autoSave(ctx, repo, "Auto-save before merging "+req.Source); err != nil {
			return err
		}

		// Read after the auto-save so unsaved edits on the source are merged.
		sourceHash, err := repo.BranchHead(req.Source)
		if err != nil {
			return err
		}
		before, err := repo.BranchHead(req.Target)
		if err != nil {
			return err
		}
		outcome, err := repo.Merge(ctx, sourceHash, req.Message, s.signature(req.Author))
		if err != nil {
			return err
		}

		if len(outcome.Conflicts) > 0 {
			if err := repo.AbortMerge(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			next = pool.MergeState{
				Phase: pool.MergeConflicted,
				Conflict: &pool.Conflict{
					Source:       req.Source,
					Target:       req.Target,
					SourceHash:   sourceHash,
					ReturnBranch: original,
					Paths:        outcome.Conflicts,
					Files:        outcome.Files,
					DetectedAt:   time.Now(),
				},
			}
			result.HasConflicts = true
			result.Conflicts = outcome.Conflicts
			result.Structure = structure.Unflatten(outcome.Files)
			s.logger.WithFields(map[string]interface{}{
				"project_id": projectID,
				"source":     req.Source,
				"target":     req.Target,
				"conflicts":  len(outcome.Conflicts),
			}).Info("Merge stopped on conflicts")
			return nil
		}

		result.Structure = structure.Unflatten(outcome.Files)
		if outcome.UpToDate || outcome.Commit == "" {
			result.Summary = &MergeSummary{UpToDate: true, ChangedPaths: []string{}}
			return nil
		}

		changed, err := repo.ChangedPaths(before, outcome.Commit)
		if err != nil {
			return err
		}
		if changed == nil {
			changed = []string{}
		}
		result.Summary = &MergeSummary{Commit: outcome.Commit, ChangedPaths: changed}

		s.fallback.mirror(projectID, req.Target, result.Structure, outcome.Commit, "")
		s.publish(projectID, broadcast.BranchMerged, map[string]interface{}{
			"source":        req.Source,
			"target":        req.Target,
			"commit":        outcome.Commit,
			"changed_paths": changed,
			"structure":     result.Structure,
		})
		return nil
	})
	return result, err
}

// ResolveConflicts concludes the recorded conflicted merge. The merge of
// the recorded source commit is started again on the target, req.Structure
// replaces the working tree and the result is committed with both parents.
// The content is taken as given; leftover conflict markers are committed
// as they are.
func (s *Service) ResolveConflicts(ctx context.Context, projectID string, req ResolveRequest) (ResolveResult, error) {
	const op = "resolve_conflicts"
	if err := checkTree(op, req.Structure); err != nil {
		return ResolveResult{}, err
	}
	if req.Message != "" {
		if err := checkMessage(op, req.Message); err != nil {
			return ResolveResult{}, err
		}
	}
	files := structure.Flatten(req.Structure)

	var result ResolveResult
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) (err error) {
		repo := h.Repo
		state := h.MergeState()
		if state.Phase != pool.MergeConflicted || state.Conflict == nil {
			return newError(op, KindInvalidOperation, "no conflicted merge to resolve")
		}
		c := state.Conflict
		result.Source, result.Target = c.Source, c.Target
		message := req.Message
		if message == "" {
			message = fmt.Sprintf("Merge branch '%s' into %s (conflicts resolved)", c.Source, c.Target)
		}

		original, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		defer func() {
			if rerr := s.returnTo(ctx, repo, original); rerr != nil && err == nil {
				err = rerr
			}
		}()

		if c.Target != original {
			if _, err := s.moveTo(ctx, repo, c.Target); err != nil {
				return err
			}
		} else if _, err := s.autoSave(ctx, repo, "Auto-save before resolving merge of "+c.Source); err != nil {
			return err
		}

		if _, err := repo.MergeNoCommit(ctx, c.SourceHash); err != nil {
			return err
		}
		if err := repo.WriteFiles(files); err != nil {
			return err
		}
		commit, err := repo.CommitAll(ctx, message, s.signature(req.Author))
		if err != nil {
			return err
		}
		h.SetMergeState(pool.MergeState{Phase: pool.MergeIdle})

		result.Commit = commitInfo(commit)
		result.Structure = structure.Unflatten(files)

		s.fallback.mirror(projectID, c.Target, result.Structure, commit.Hash, "")
		s.publish(projectID, broadcast.ConflictsResolved, map[string]interface{}{
			"source":    c.Source,
			"target":    c.Target,
			"commit":    result.Commit,
			"structure": result.Structure,
		})
		return nil
	})
	return result, err
}

// AbortMerge drops the recorded conflicted merge.
func (s *Service) AbortMerge(ctx context.Context, projectID string) (pool.MergeState, error) {
	const op = "abort_merge"
	var state pool.MergeState
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) error {
		prev := h.MergeState()
		if prev.Phase != pool.MergeConflicted || prev.Conflict == nil {
			return newError(op, KindInvalidOperation, "no conflicted merge to abort")
		}
		if err := h.Repo.AbortMerge(ctx); err != nil {
			return err
		}
		h.SetMergeState(pool.MergeState{Phase: pool.MergeIdle})
		state = h.MergeState()

		s.publish(projectID, broadcast.MergeAborted, map[string]interface{}{
			"source": prev.Conflict.Source,
			"target": prev.Conflict.Target,
		})
		return nil
	})
	return state, err
}

// MergeStatus reports the project's merge state.
func (s *Service) MergeStatus(ctx context.Context, projectID string) (pool.MergeState, error) {
	var state pool.MergeState
	err := s.read(ctx, "merge_status", projectID, func(h *pool.ProjectRepository) error {
		state = h.MergeState()
		return nil
	})
	return state, err
}
