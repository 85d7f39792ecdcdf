package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/broadcast"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/internal/engine"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pool"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/validation"
)

// SwitchResult is the outcome of SwitchBranch.
type SwitchResult struct {
	Branch    string          `json:"branch"`
	Previous  string          `json:"previous"`
	Structure *structure.Node `json:"structure"`
	Branches  BranchList      `json:"branches"`
	// AutoCommit is the commit that captured local changes before leaving
	// the previous branch, if any.
	AutoCommit *CommitInfo `json:"auto_commit,omitempty"`
}

func invalidBranchName(op, name string, err error) *Error {
	e := &Error{Kind: KindInvalidName, Op: op, Message: err.Error(), Err: err}
	var verr validation.ValidationError
	if errors.As(err, &verr) {
		e.Message = fmt.Sprintf("invalid branch name %q: %s", name, verr.Message)
		e.Suggestion = verr.Suggestion
	}
	return e
}

func checkBranchName(op, name string) error {
	if err := validation.ValidateBranchName(name); err != nil {
		return invalidBranchName(op, name, err)
	}
	return nil
}

// ListBranches returns every branch, default branch first.
func (s *Service) ListBranches(ctx context.Context, projectID string) (BranchList, error) {
	var list BranchList
	err := s.read(ctx, "list_branches", projectID, func(h *pool.ProjectRepository) error {
		var err error
		list, err = s.branchList(h.Repo)
		return err
	})
	return list, err
}

// CreateBranch creates name from base's tip with a commit of its own, so
// the new branch is distinguishable from base. An empty base means the
// default branch. Nothing is checked out.
func (s *Service) CreateBranch(ctx context.Context, projectID, name, base string) (BranchList, error) {
	const op = "create_branch"
	if err := checkBranchName(op, name); err != nil {
		return BranchList{}, err
	}
	if base == "" {
		base = s.opts.DefaultBranch
	}
	if err := checkBranchName(op, base); err != nil {
		return BranchList{}, err
	}

	var list BranchList
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) error {
		repo := h.Repo
		branches, err := repo.Branches()
		if err != nil {
			return err
		}
		baseFound := false
		for _, b := range branches {
			switch {
			case b == name:
				return newError(op, KindAlreadyExists, "branch %q already exists", name)
			case strings.HasPrefix(name, b+"/"), strings.HasPrefix(b, name+"/"):
				return newError(op, KindAlreadyExists, "branch %q conflicts with existing branch %q", name, b)
			case b == base:
				baseFound = true
			}
		}
		if !baseFound {
			return newError(op, KindNotFound, "base branch %q not found", base)
		}
		if err := s.adoptStoredTree(ctx, projectID, repo, base); err != nil {
			return err
		}

		head, err := repo.CreateBranch(name, base, fmt.Sprintf("Create branch %s from %s", name, base), s.system())
		if err != nil {
			return err
		}
		if list, err = s.branchList(repo); err != nil {
			return err
		}

		files, err := repo.FilesAt(head)
		if err != nil {
			return err
		}
		s.fallback.mirror(projectID, name, structure.Unflatten(files), head, "")
		s.publish(projectID, broadcast.BranchCreated, map[string]interface{}{
			"branch":   name,
			"base":     base,
			"head":     head,
			"branches": list,
		})
		return nil
	})
	return list, err
}

// adoptStoredTree commits the document store's tree onto base when base
// holds only its seed commit. Readers of such a base are served the stored
// tree, so a branch created from it must start from that tree too.
func (s *Service) adoptStoredTree(ctx context.Context, projectID string, repo *engine.Repo, base string) (err error) {
	n, err := repo.CountCommits(base, 2)
	if err != nil || n > 1 {
		return err
	}
	tree, _ := s.fallback.load(ctx, projectID, base)
	files := structure.Flatten(tree)
	if len(files) == 0 {
		return nil
	}
	logger := s.logger.WithFields(map[string]interface{}{"project_id": projectID, "branch": base})
	if err := checkTree("adopt_stored_tree", tree); err != nil {
		logger.WarnWithErr("Stored project tree is not valid; branching from the empty seed", err)
		return nil
	}

	original, err := repo.CurrentBranch()
	if err != nil {
		return err
	}
	if original == base {
		dirty, err := repo.IsDirty(ctx)
		if err != nil || dirty {
			return err
		}
	} else {
		if _, err := s.moveTo(ctx, repo, base); err != nil {
			return err
		}
		defer func() {
			if rerr := s.returnTo(ctx, repo, original); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}

	if err := repo.WriteFiles(files); err != nil {
		return err
	}
	c, err := repo.CommitAll(ctx, "Import project structure", s.system())
	if err != nil {
		return err
	}
	logger.WithField("commit", c.Hash).Info("Imported stored project tree")
	s.fallback.mirror(projectID, base, tree, c.Hash, "")
	return nil
}

// SwitchBranch checks out name. Local changes on the current branch are
// auto-committed first unless force is set, in which case they are
// discarded.
func (s *Service) SwitchBranch(ctx context.Context, projectID, name string, force bool) (SwitchResult, error) {
	const op = "switch_branch"
	if err := checkBranchName(op, name); err != nil {
		return SwitchResult{}, err
	}

	var result SwitchResult
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) error {
		repo := h.Repo
		current, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		result.Previous = current

		if current == name {
			result.Branch = name
			if result.Structure, err = s.workingTree(repo); err != nil {
				return err
			}
			result.Branches, err = s.branchList(repo)
			return err
		}

		exists, err := repo.BranchExists(name)
		if err != nil {
			return err
		}
		if !exists {
			return newError(op, KindNotFound, "branch %q not found", name)
		}

		if !force {
			saved, err := s.autoSave(ctx, repo, "Auto-save before switching to "+name)
			if err != nil {
				return err
			}
			result.AutoCommit = saved
		}
		if err := s.checkout(ctx, repo, name, force); err != nil {
			return err
		}

		result.Branch = name
		if result.Structure, err = s.workingTree(repo); err != nil {
			return err
		}
		if result.Branches, err = s.branchList(repo); err != nil {
			return err
		}

		head, err := repo.BranchHead(name)
		if err != nil {
			return err
		}
		if result.AutoCommit != nil {
			if files, err := repo.FilesAt(result.AutoCommit.Hash); err == nil {
				s.fallback.mirror(projectID, current, structure.Unflatten(files), result.AutoCommit.Hash, "")
			}
		}
		s.fallback.mirror(projectID, name, result.Structure, head, name)

		payload := map[string]interface{}{
			"branch":    name,
			"previous":  current,
			"structure": result.Structure,
			"branches":  result.Branches,
		}
		if result.AutoCommit != nil {
			payload["auto_commit"] = result.AutoCommit
		}
		s.publish(projectID, broadcast.BranchSwitched, payload)
		return nil
	})
	return result, err
}

// DeleteBranch removes name. The default and the current branch cannot be
// deleted. Without force, a branch holding content changes not reachable
// from the current branch is kept.
func (s *Service) DeleteBranch(ctx context.Context, projectID, name string, force bool) (BranchList, error) {
	const op = "delete_branch"
	if err := checkBranchName(op, name); err != nil {
		return BranchList{}, err
	}
	if name == s.opts.DefaultBranch {
		return BranchList{}, newError(op, KindInvalidOperation, "the default branch %q cannot be deleted", name)
	}

	var list BranchList
	err := s.write(ctx, op, projectID, func(h *pool.ProjectRepository) error {
		repo := h.Repo
		current, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		if current == name {
			return newError(op, KindInvalidOperation, "branch %q is checked out; switch to another branch first", name)
		}
		exists, err := repo.BranchExists(name)
		if err != nil {
			return err
		}
		if !exists {
			return newError(op, KindNotFound, "branch %q not found", name)
		}
		if state := h.MergeState(); state.Conflict != nil &&
			(state.Conflict.Source == name || state.Conflict.Target == name) {
			return newError(op, KindInvalidOperation,
				"branch %q is part of an unresolved merge; resolve or abort it first", name)
		}

		if !force {
			unmerged, err := repo.UnmergedCommits(name, current)
			if err != nil {
				return err
			}
			if unmerged > 0 {
				return newError(op, KindRequiresForce,
					"branch %q has %d commit(s) not merged into %q; delete with force to discard them", name, unmerged, current)
			}
		}

		if err := repo.DeleteBranch(name); err != nil {
			return err
		}
		if list, err = s.branchList(repo); err != nil {
			return err
		}

		s.fallback.forget(projectID, name)
		s.publish(projectID, broadcast.BranchDeleted, map[string]interface{}{
			"branch":   name,
			"branches": list,
		})
		return nil
	})
	return list, err
}
