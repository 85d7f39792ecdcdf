package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

// MergeOutcome describes the result of merging a revision into the
// current branch.
type MergeOutcome struct {
	// Commit is the merge commit, empty when UpToDate or conflicted.
	Commit   string
	UpToDate bool
	// Conflicts lists conflicted paths; the merge is left in progress
	// until AbortMerge or a commit concludes it.
	Conflicts []string
	// Files is the working tree after the merge attempt, including
	// conflict markers.
	Files structure.FlatFileSet
}

// Checkout switches the working tree to branch. Without force, git's
// refusal to overwrite local changes is reported as ErrWouldOverwrite.
// With force, local changes and untracked files are discarded.
func (r *Repo) Checkout(ctx context.Context, branch string, force bool) error {
	args := []string{"checkout"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, branch, "--")

	if _, err := r.run(ctx, nil, args...); err != nil {
		return classifyCheckout(branch, err)
	}
	if force {
		if _, err := r.run(ctx, nil, "clean", "-fd"); err != nil {
			return fmt.Errorf("discard untracked files: %w", err)
		}
	}
	return nil
}

func classifyCheckout(branch string, err error) error {
	var gerr *gitError
	if !errors.As(err, &gerr) {
		return err
	}
	out := gerr.stderr + gerr.stdout
	switch {
	case strings.Contains(out, "would be overwritten"):
		return fmt.Errorf("%w: %s", ErrWouldOverwrite, strings.TrimSpace(gerr.stderr))
	case strings.Contains(out, "did not match any file(s) known to git"),
		strings.Contains(out, "invalid reference"):
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	case strings.Contains(out, "you need to resolve your current index first"),
		strings.Contains(out, "unmerged"):
		return fmt.Errorf("%w: %s", ErrMergeInProgress, strings.TrimSpace(gerr.stderr))
	}
	return err
}

// CommitAll stages every change in the working tree and commits it on the
// current branch. Empty commits are allowed. When a merge is in progress
// the commit concludes it.
func (r *Repo) CommitAll(ctx context.Context, message string, author Signature) (Commit, error) {
	if _, err := r.run(ctx, nil, "add", "-A"); err != nil {
		return Commit{}, fmt.Errorf("stage changes: %w", err)
	}
	if _, err := r.run(ctx, &author, "commit", "--allow-empty", "--no-verify", "-q", "-m", message); err != nil {
		return Commit{}, fmt.Errorf("commit: %w", err)
	}
	return r.headCommit()
}

func (r *Repo) headCommit() (Commit, error) {
	repo, err := r.open()
	if err != nil {
		return Commit{}, err
	}
	head, err := repo.Head()
	if err != nil {
		return Commit{}, fmt.Errorf("read HEAD: %w", err)
	}
	c, err := repo.CommitObject(head.Hash())
	if err != nil {
		return Commit{}, fmt.Errorf("read HEAD commit: %w", err)
	}
	return toCommit(c), nil
}

// Merge performs a non-fast-forward merge of rev into the current branch.
// A conflicted merge is not an error: the outcome lists the conflicted
// paths and the merge stays in progress on disk.
func (r *Repo) Merge(ctx context.Context, rev, message string, author Signature) (MergeOutcome, error) {
	return r.merge(ctx, rev, author, "merge", "--no-ff", "--no-edit", "-m", message, rev)
}

// MergeNoCommit starts a merge of rev into the current branch and stops
// before committing, leaving the result staged or conflicted for the
// caller to finish with CommitAll.
func (r *Repo) MergeNoCommit(ctx context.Context, rev string) (MergeOutcome, error) {
	return r.merge(ctx, rev, Signature{}, "merge", "--no-ff", "--no-commit", rev)
}

func (r *Repo) merge(ctx context.Context, rev string, author Signature, args ...string) (MergeOutcome, error) {
	if r.MergeInProgress() {
		return MergeOutcome{}, ErrMergeInProgress
	}
	before, err := r.headCommit()
	if err != nil {
		return MergeOutcome{}, err
	}

	out, runErr := r.run(ctx, &author, args...)
	if runErr != nil {
		conflicts, err := r.ConflictedPaths(ctx)
		if err != nil || len(conflicts) == 0 {
			return MergeOutcome{}, fmt.Errorf("merge %s: %w", rev, runErr)
		}
		files, err := r.WorkingFiles()
		if err != nil {
			return MergeOutcome{}, err
		}
		return MergeOutcome{Conflicts: conflicts, Files: files}, nil
	}

	files, err := r.WorkingFiles()
	if err != nil {
		return MergeOutcome{}, err
	}
	if strings.Contains(out, "Already up to date") || strings.Contains(out, "Already up-to-date") {
		return MergeOutcome{UpToDate: true, Files: files}, nil
	}

	after, err := r.headCommit()
	if err != nil {
		return MergeOutcome{}, err
	}
	outcome := MergeOutcome{Files: files}
	if after.Hash != before.Hash {
		outcome.Commit = after.Hash
	}
	return outcome, nil
}

// ConflictedPaths lists paths with unresolved conflicts.
func (r *Repo) ConflictedPaths(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, nil, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// MergeInProgress reports whether git has an unfinished merge.
func (r *Repo) MergeInProgress() bool {
	_, err := os.Stat(filepath.Join(r.path, ".git", "MERGE_HEAD"))
	return err == nil
}

// AbortMerge abandons an in-progress merge and restores the pre-merge
// working tree. It is a no-op when no merge is in progress.
func (r *Repo) AbortMerge(ctx context.Context) error {
	if !r.MergeInProgress() {
		return nil
	}
	if _, err := r.run(ctx, nil, "merge", "--abort"); err != nil {
		return fmt.Errorf("abort merge: %w", err)
	}
	return nil
}
