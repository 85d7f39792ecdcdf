// Package vcs implements branch, commit and merge operations over the
// per-project repositories. Every mutation runs under the project's
// exclusive lock; every successful mutation is broadcast and mirrored to
// the document store.
package vcs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/broadcast"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/internal/engine"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/metrics"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pool"
)

// Publisher delivers events to a project's subscribers. Publish must not
// block.
type Publisher interface {
	Publish(projectID string, kind broadcast.Kind, payload any)
}

// Author identifies who made a change.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Options configures a Service.
type Options struct {
	DefaultBranch string
	// SettleDelay is waited after every checkout before the current branch
	// is re-read.
	SettleDelay time.Duration
	// SystemAuthor signs seed, branch and auto-save commits, and commits
	// whose request names no author.
	SystemAuthor Author
	// MirrorTimeout bounds each asynchronous document store write.
	MirrorTimeout time.Duration
}

// BranchList is the full branch set with the checked-out branch.
type BranchList struct {
	All     []string `json:"all"`
	Current string   `json:"current"`
}

// CommitInfo describes a commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Parents   []string  `json:"parents,omitempty"`
}

// Origin says where a tree was read from.
type Origin string

const (
	OriginEngine   Origin = "engine"
	OriginFallback Origin = "fallback"
)

// Service exposes the version control operations.
type Service struct {
	pool     *pool.RepositoryPool
	events   Publisher
	fallback *fallback
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics

	// Checkout and its read-back of the current branch; replaced in tests.
	checkoutFn func(ctx context.Context, repo *engine.Repo, branch string, force bool) error
	readBack   func(repo *engine.Repo) (string, error)

	closed atomic.Bool
}

// NewService wires the pool, document store and publisher together.
// store, events, logger and m may be nil.
func NewService(p *pool.RepositoryPool, store datastore.DocumentStore, events Publisher, opts Options, logger *logging.Logger, m *metrics.PrometheusMetrics) *Service {
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = p.Config().DefaultBranch
	}
	if opts.SystemAuthor.Name == "" {
		opts.SystemAuthor = Author{Name: "Collaborative Editor", Email: "editor@localhost"}
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("vcs")

	return &Service{
		pool:     p,
		events:   events,
		fallback: newFallback(store, opts.MirrorTimeout, logger, m),
		opts:     opts,
		logger:   logger,
		metrics:  m,
		checkoutFn: func(ctx context.Context, repo *engine.Repo, branch string, force bool) error {
			return repo.Checkout(ctx, branch, force)
		},
		readBack: func(repo *engine.Repo) (string, error) {
			return repo.CurrentBranch()
		},
	}
}

// DefaultBranch returns the protected default branch name.
func (s *Service) DefaultBranch() string {
	return s.opts.DefaultBranch
}

// Close waits for pending document store mirrors.
func (s *Service) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.fallback.wait()
	}
}

// write runs fn under the project's exclusive lock.
func (s *Service) write(ctx context.Context, op, projectID string, fn func(h *pool.ProjectRepository) error) error {
	return s.run(ctx, op, projectID, false, fn)
}

// read runs fn under the project's shared lock.
func (s *Service) read(ctx context.Context, op, projectID string, fn func(h *pool.ProjectRepository) error) error {
	return s.run(ctx, op, projectID, true, fn)
}

func (s *Service) run(ctx context.Context, op, projectID string, shared bool, fn func(h *pool.ProjectRepository) error) error {
	start := time.Now()
	err := func() error {
		h, err := s.acquire(ctx, projectID)
		if err != nil {
			return err
		}
		defer s.pool.Release(h)

		if shared {
			h.RLock()
			defer h.RUnlock()
		} else {
			h.Lock()
			defer h.Unlock()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(h)
	}()
	err = wrap(op, err)
	s.observe(op, projectID, start, err)
	return err
}

func (s *Service) acquire(ctx context.Context, projectID string) (*pool.ProjectRepository, error) {
	h, err := s.pool.Acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if h.ClaimRecoveryNotice() {
		s.publish(projectID, broadcast.RepositoryRecovered, map[string]interface{}{
			"message": "repository metadata was unreadable and the repository was re-created; prior history is lost",
		})
	}
	return h, nil
}

func (s *Service) observe(op, projectID string, start time.Time, err error) {
	duration := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	s.metrics.ObserveOperation(op, outcome, duration)

	if err == nil {
		s.logger.WithFields(map[string]interface{}{
			"operation":  op,
			"project_id": projectID,
			"duration":   duration.String(),
		}).Debug("Operation completed")
		return
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"operation":  op,
		"project_id": projectID,
		"kind":       outcome,
	})
	switch KindOf(err) {
	case KindInternal, KindStorageUnavailable, KindCheckoutVerificationFailed:
		logger.ErrorWithErr("Operation failed", err)
	default:
		logger.Debugf("Operation rejected: %v", err)
	}
}

func (s *Service) publish(projectID string, kind broadcast.Kind, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(projectID, kind, payload)
}

// signature returns a, or the system author when a has no name.
func (s *Service) signature(a Author) engine.Signature {
	if a.Name == "" {
		a = s.opts.SystemAuthor
	}
	if a.Email == "" {
		a.Email = s.opts.SystemAuthor.Email
	}
	return engine.Signature{Name: a.Name, Email: a.Email}
}

func (s *Service) system() engine.Signature {
	return s.signature(s.opts.SystemAuthor)
}

// branchList returns the default branch first, then the rest sorted.
func (s *Service) branchList(repo *engine.Repo) (BranchList, error) {
	names, err := repo.Branches()
	if err != nil {
		return BranchList{}, err
	}
	current, err := repo.CurrentBranch()
	if err != nil {
		return BranchList{}, err
	}

	list := BranchList{All: make([]string, 0, len(names)), Current: current}
	for _, n := range names {
		if n == s.opts.DefaultBranch {
			list.All = append(list.All, n)
		}
	}
	for _, n := range names {
		if n != s.opts.DefaultBranch {
			list.All = append(list.All, n)
		}
	}
	return list, nil
}

// autoSave commits local changes on the current branch. It returns nil
// when the working tree is clean.
func (s *Service) autoSave(ctx context.Context, repo *engine.Repo, message string) (*CommitInfo, error) {
	dirty, err := repo.IsDirty(ctx)
	if err != nil || !dirty {
		return nil, err
	}
	c, err := repo.CommitAll(ctx, message, s.system())
	if err != nil {
		return nil, err
	}
	info := commitInfo(c)
	return &info, nil
}

// checkout switches branches, waits the settle delay and checks that the
// switch is visible.
func (s *Service) checkout(ctx context.Context, repo *engine.Repo, branch string, force bool) error {
	if err := s.checkoutFn(ctx, repo, branch, force); err != nil {
		return err
	}
	if s.opts.SettleDelay > 0 {
		select {
		case <-time.After(s.opts.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	current, err := s.readBack(repo)
	if err != nil {
		return err
	}
	if current != branch {
		return newError("", KindCheckoutVerificationFailed,
			"checkout of %q reported success but the repository is on %q", branch, current)
	}
	return nil
}

// moveTo auto-saves the current branch when dirty and checks out branch.
func (s *Service) moveTo(ctx context.Context, repo *engine.Repo, branch string) (*CommitInfo, error) {
	saved, err := s.autoSave(ctx, repo, "Auto-save before switching to "+branch)
	if err != nil {
		return nil, err
	}
	if err := s.checkout(ctx, repo, branch, false); err != nil {
		return saved, err
	}
	return saved, nil
}

// returnTo abandons any in-progress git merge and checks out branch if it
// is not already current.
func (s *Service) returnTo(ctx context.Context, repo *engine.Repo, branch string) error {
	// Restoring must run even when the request context is done.
	ctx = context.WithoutCancel(ctx)
	if err := repo.AbortMerge(ctx); err != nil {
		return err
	}
	current, err := repo.CurrentBranch()
	if err != nil {
		return err
	}
	if current == branch {
		return nil
	}
	return s.checkout(ctx, repo, branch, false)
}

func (s *Service) workingTree(repo *engine.Repo) (*structure.Node, error) {
	files, err := repo.WorkingFiles()
	if err != nil {
		return nil, err
	}
	return structure.Unflatten(files), nil
}

func commitInfo(c engine.Commit) CommitInfo {
	return CommitInfo{
		Hash:      c.Hash,
		Message:   c.Message,
		Author:    c.Author,
		Email:     c.Email,
		Timestamp: c.Timestamp,
		Parents:   c.Parents,
	}
}
