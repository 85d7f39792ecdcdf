package engine

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

// Log returns up to limit commits reachable from branch, walking parents
// from the tip so linear history comes back newest first.
// A limit of zero or less returns the whole history.
func (r *Repo) Log(branch string, limit int) ([]Commit, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}
	tip, err := branchHash(repo, branch)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&gogit.LogOptions{From: tip})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", branch, err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(commits) >= limit {
			return storer.ErrStop
		}
		commits = append(commits, toCommit(c))
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("walk %s: %w", branch, err)
	}
	return commits, nil
}

// CountCommits counts commits reachable from branch, stopping at max when
// max is positive.
func (r *Repo) CountCommits(branch string, max int) (int, error) {
	commits, err := r.Log(branch, max)
	if err != nil {
		return 0, err
	}
	return len(commits), nil
}

// ResolveCommit expands a full or abbreviated hash to a commit.
func (r *Repo) ResolveCommit(rev string) (Commit, error) {
	repo, err := r.open()
	if err != nil {
		return Commit{}, err
	}
	c, err := resolveCommit(repo, rev)
	if err != nil {
		return Commit{}, err
	}
	return toCommit(c), nil
}

func resolveCommit(repo *gogit.Repository, rev string) (*object.Commit, error) {
	rev = strings.TrimSpace(rev)
	if len(rev) < 4 || len(rev) > 40 || strings.Trim(rev, "0123456789abcdefABCDEF") != "" {
		return nil, fmt.Errorf("%w: %q", ErrCommitNotFound, rev)
	}

	if len(rev) == 40 {
		c, err := repo.CommitObject(plumbing.NewHash(rev))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, rev)
		}
		return c, nil
	}

	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, rev)
	}
	c, err := repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, rev)
	}
	return c, nil
}

// FilesAt returns the flat file set recorded by a commit or branch tip.
// Empty keep files come back as folder markers.
func (r *Repo) FilesAt(rev string) (structure.FlatFileSet, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	var c *object.Commit
	if h, err := branchHash(repo, rev); err == nil {
		c, err = repo.CommitObject(h)
		if err != nil {
			return nil, fmt.Errorf("read %s tip: %w", rev, err)
		}
	} else {
		c, err = resolveCommit(repo, rev)
		if err != nil {
			return nil, err
		}
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", c.Hash, err)
	}
	return treeFiles(tree)
}

func treeFiles(tree *object.Tree) (structure.FlatFileSet, error) {
	files := make(structure.FlatFileSet)
	iter := tree.Files()
	defer iter.Close()

	err := iter.ForEach(func(f *object.File) error {
		content, err := blobString(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		addFile(files, f.Name, content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func blobString(f *object.File) (string, error) {
	rd, err := f.Reader()
	if err != nil {
		return "", err
	}
	defer rd.Close()
	b, err := io.ReadAll(rd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// addFile records a path, turning an empty keep file into a folder marker.
func addFile(files structure.FlatFileSet, name, content string) {
	if content == "" && (name == keepFile || strings.HasSuffix(name, "/"+keepFile)) {
		dir := strings.TrimSuffix(name, keepFile)
		if dir == "" {
			return
		}
		files[dir] = ""
		return
	}
	files[name] = content
}

// ChangedPaths lists paths whose content differs between two commits,
// sorted. Keep files are reported as their folder.
func (r *Repo) ChangedPaths(from, to string) ([]string, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}
	source, err := resolveCommit(repo, from)
	if err != nil {
		return nil, err
	}
	target, err := resolveCommit(repo, to)
	if err != nil {
		return nil, err
	}
	fromTree, err := source.Tree()
	if err != nil {
		return nil, err
	}
	toTree, err := target.Tree()
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", from, to, err)
	}

	seen := make(map[string]bool)
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name == "" {
				continue
			}
			if name == keepFile || strings.HasSuffix(name, "/"+keepFile) {
				name = strings.TrimSuffix(name, keepFile)
			}
			if name != "" {
				seen[name] = true
			}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func toCommit(c *object.Commit) Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return Commit{
		Hash:      c.Hash.String(),
		Message:   strings.TrimRight(c.Message, "\n"),
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		Timestamp: c.Author.When,
		Parents:   parents,
	}
}
