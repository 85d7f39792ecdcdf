package engine

import (
	"errors"
	"fmt"
	"sort"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// emptyTreeHash is the well-known id of a tree with no entries.
var emptyTreeHash = plumbing.NewHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

// CurrentBranch returns the branch HEAD points at, even when it is unborn.
func (r *Repo) CurrentBranch() (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("%w: read HEAD: %v", ErrCorrupt, err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", fmt.Errorf("%w: HEAD is detached", ErrCorrupt)
	}
	return head.Target().Short(), nil
}

// Branches returns all local branch names, sorted.
func (r *Repo) Branches() ([]string, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}
	iter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(name string) (bool, error) {
	_, err := r.BranchHead(name)
	if errors.Is(err, ErrBranchNotFound) {
		return false, nil
	}
	return err == nil, err
}

// BranchHead returns the tip commit hash of a branch.
func (r *Repo) BranchHead(name string) (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	h, err := branchHash(repo, name)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func branchHash(repo *gogit.Repository, name string) (plumbing.Hash, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
		}
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

// CreateBranch creates name from base without touching the working tree.
// The new branch starts with its own commit carrying base's tree so the
// creation is visible in its history.
func (r *Repo) CreateBranch(name, base, message string, author Signature) (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}

	if _, err := branchHash(repo, name); err == nil {
		return "", fmt.Errorf("%w: %s", ErrBranchExists, name)
	} else if !errors.Is(err, ErrBranchNotFound) {
		return "", err
	}

	baseHash, err := branchHash(repo, base)
	if err != nil {
		return "", err
	}
	baseCommit, err := repo.CommitObject(baseHash)
	if err != nil {
		return "", fmt.Errorf("read %s tip: %w", base, err)
	}

	hash, err := r.writeCommit(repo, baseCommit.TreeHash, []plumbing.Hash{baseHash}, message, author)
	if err != nil {
		return "", err
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := repo.Storer.CheckAndSetReference(ref, nil); err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	return hash.String(), nil
}

// DeleteBranch removes a local branch reference.
func (r *Repo) DeleteBranch(name string) error {
	repo, err := r.open()
	if err != nil {
		return err
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := branchHash(repo, name); err != nil {
		return err
	}
	if err := repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// UnmergedCommits counts commits reachable from branch but not from into
// that change content relative to their first parent. Commits that only
// re-record their parent's tree, such as branch creation or empty
// auto-saves, are not counted.
func (r *Repo) UnmergedCommits(branch, into string) (int, error) {
	repo, err := r.open()
	if err != nil {
		return 0, err
	}
	branchTip, err := branchHash(repo, branch)
	if err != nil {
		return 0, err
	}
	intoTip, err := branchHash(repo, into)
	if err != nil {
		return 0, err
	}

	merged := make(map[plumbing.Hash]bool)
	intoIter, err := repo.Log(&gogit.LogOptions{From: intoTip})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", into, err)
	}
	err = intoIter.ForEach(func(c *object.Commit) error {
		merged[c.Hash] = true
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", into, err)
	}

	count := 0
	branchIter, err := repo.Log(&gogit.LogOptions{From: branchTip})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", branch, err)
	}
	err = branchIter.ForEach(func(c *object.Commit) error {
		if merged[c.Hash] {
			return nil
		}
		if c.NumParents() == 0 {
			if c.TreeHash != emptyTreeHash {
				count++
			}
			return nil
		}
		parent, err := c.Parent(0)
		if err != nil {
			return err
		}
		if parent.TreeHash != c.TreeHash {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", branch, err)
	}
	return count, nil
}
