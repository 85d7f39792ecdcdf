// Package engine adapts a git repository on disk to the operations the
// version control service needs. Object and reference reads go through
// go-git; index, working tree and three-way merge operations shell out to
// the git binary.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Common errors returned by Repo operations.
var (
	ErrNotRepository   = errors.New("not a git repository")
	ErrCorrupt         = errors.New("repository metadata is unreadable")
	ErrGitUnavailable  = errors.New("git is not installed or not in PATH")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrBranchExists    = errors.New("branch already exists")
	ErrCommitNotFound  = errors.New("commit not found")
	ErrNoCommits       = errors.New("repository has no commits")
	ErrWouldOverwrite  = errors.New("local changes would be overwritten")
	ErrMergeInProgress = errors.New("a merge is already in progress")
	ErrInvalidPath     = errors.New("invalid file path")
)

// keepFile materialises empty folders, which git cannot track.
const keepFile = ".gitkeep"

// Signature identifies the author of a commit.
type Signature struct {
	Name  string
	Email string
}

// Commit is a read-only view of a commit object.
type Commit struct {
	Hash      string
	Message   string
	Author    string
	Email     string
	Timestamp time.Time
	Parents   []string
}

// Options configures how a Repo talks to git.
type Options struct {
	// GitBinary is the git executable, "git" when empty.
	GitBinary string
	// Author is used when an operation is not given one.
	Author Signature
}

// Repo is a git repository with a working tree. It is not safe for
// concurrent mutation; callers serialise access per repository.
type Repo struct {
	path   string
	git    string
	author Signature
}

// LookupGit resolves the git binary, returning ErrGitUnavailable when it
// cannot be found.
func LookupGit(binary string) (string, error) {
	if binary == "" {
		binary = "git"
	}
	p, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGitUnavailable, err)
	}
	return p, nil
}

func newRepo(path string, opts Options) (*Repo, error) {
	git, err := LookupGit(opts.GitBinary)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return &Repo{path: abs, git: git, author: opts.Author}, nil
}

// Init creates a repository at path with defaultBranch as its initial
// branch and seeds it with an empty "Initial commit".
func Init(ctx context.Context, path, defaultBranch string, opts Options) (*Repo, error) {
	r, err := newRepo(path, opts)
	if err != nil {
		return nil, err
	}

	repo, err := gogit.PlainInitWithOptions(r.path, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(defaultBranch),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	if _, err := r.seed(repo, defaultBranch); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens an existing repository and checks that its metadata is
// readable. A directory without git metadata yields ErrNotRepository;
// unreadable metadata yields ErrCorrupt.
func Open(path string, opts Options) (*Repo, error) {
	r, err := newRepo(path, opts)
	if err != nil {
		return nil, err
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the repository's working tree root.
func (r *Repo) Path() string {
	return r.path
}

// Verify checks that git metadata exists and HEAD resolves to a readable
// commit. An unborn HEAD is not an error.
func (r *Repo) Verify() error {
	if _, err := os.Stat(filepath.Join(r.path, ".git")); err != nil {
		if os.IsNotExist(err) {
			return ErrNotRepository
		}
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	repo, err := gogit.PlainOpen(r.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := repo.CommitObject(head.Hash()); err != nil {
		return fmt.Errorf("%w: head commit: %v", ErrCorrupt, err)
	}
	return nil
}

// open reopens the repository so each read sees objects and packs written
// by the git binary since the last call.
func (r *Repo) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(r.path)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return repo, nil
}

// HasCommits reports whether HEAD points at a commit.
func (r *Repo) HasCommits() (bool, error) {
	repo, err := r.open()
	if err != nil {
		return false, err
	}
	if _, err := repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureSeeded creates the empty initial commit on the current branch when
// the repository has none. It reports whether a commit was created.
func (r *Repo) EnsureSeeded() (bool, error) {
	ok, err := r.HasCommits()
	if err != nil || ok {
		return false, err
	}
	branch, err := r.CurrentBranch()
	if err != nil {
		return false, err
	}
	repo, err := r.open()
	if err != nil {
		return false, err
	}
	if _, err := r.seed(repo, branch); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) seed(repo *gogit.Repository, branch string) (plumbing.Hash, error) {
	empty := &object.Tree{}
	obj := repo.Storer.NewEncodedObject()
	if err := empty.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode empty tree: %w", err)
	}
	treeHash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store empty tree: %w", err)
	}

	hash, err := r.writeCommit(repo, treeHash, nil, "Initial commit", r.author)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("set %s: %w", branch, err)
	}
	return hash, nil
}

func (r *Repo) writeCommit(repo *gogit.Repository, tree plumbing.Hash, parents []plumbing.Hash, message string, author Signature) (plumbing.Hash, error) {
	author = r.signature(author)
	sig := object.Signature{Name: author.Name, Email: author.Email, When: time.Now()}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}

	obj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store commit: %w", err)
	}
	return hash, nil
}

func (r *Repo) signature(s Signature) Signature {
	if s.Name == "" {
		s.Name = r.author.Name
	}
	if s.Email == "" {
		s.Email = r.author.Email
	}
	if s.Name == "" {
		s.Name = "vcsd"
	}
	if s.Email == "" {
		s.Email = "vcsd@localhost"
	}
	return s
}

// gitError carries the output of a failed git invocation.
type gitError struct {
	args   []string
	stdout string
	stderr string
	err    error
}

func (e *gitError) Error() string {
	msg := strings.TrimSpace(e.stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.stdout)
	}
	return fmt.Sprintf("git %s failed: %s", e.args[0], msg)
}

func (e *gitError) Unwrap() error {
	return e.err
}

// run executes git in the working tree. Author, when set, becomes the
// identity of any commit the command creates.
func (r *Repo) run(ctx context.Context, author *Signature, args ...string) (string, error) {
	full := []string{
		"-c", "core.quotepath=false",
		"-c", "core.autocrlf=false",
		"-c", "commit.gpgsign=false",
	}
	if author != nil {
		a := r.signature(*author)
		full = append(full, "-c", "user.name="+a.Name, "-c", "user.email="+a.Email)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, r.git, full...)
	cmd.Dir = r.path
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C", "LANG=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), &gitError{args: args, stdout: stdout.String(), stderr: stderr.String(), err: err}
	}
	return stdout.String(), nil
}
