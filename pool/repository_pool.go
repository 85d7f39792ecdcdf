// Package pool provides the per-project repository handles. A handle is
// created on first use, reused while cached, repaired when its on-disk
// metadata is corrupt, and evicted after it has been idle.
package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/internal/engine"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/metrics"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/validation"
)

var (
	// ErrStorageUnavailable means the repository root cannot be written or
	// git cannot be run. It is not retried.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPoolFull           = errors.New("repository pool is full")
	ErrPoolClosed         = errors.New("repository pool is closed")
	ErrInvalidProjectID   = errors.New("invalid project id")
)

// persistTimeout bounds the document store write that records a new
// repository's location.
const persistTimeout = 5 * time.Second

// RepositoryPool manages the open repository of every active project.
type RepositoryPool struct {
	mu            sync.RWMutex
	repositories  map[string]*ProjectRepository
	opening       map[string]*openCall
	config        PoolConfig
	store         datastore.DocumentStore
	logger        *logging.Logger
	metrics       *metrics.PrometheusMetrics
	lastCleanup   time.Time
	cleanupTicker *time.Ticker
	done          chan struct{}
	closed        bool
}

// openCall is a repository open in progress. Concurrent Acquires of the
// same project wait on done instead of opening it twice.
type openCall struct {
	done chan struct{}
	err  error
}

// PoolConfig defines configuration for the repository pool
type PoolConfig struct {
	Root            string         `json:"root"`             // Directory holding one repository per project
	DefaultBranch   string         `json:"default_branch"`   // Branch created by the seed commit
	MaxIdleTime     time.Duration  `json:"max_idle_time"`    // Maximum time a repository can stay idle
	CleanupInterval time.Duration  `json:"cleanup_interval"` // How often to run cleanup
	MaxRepositories int            `json:"max_repositories"` // Maximum number of repositories in pool
	Engine          engine.Options `json:"-"`
}

// MergePhase tags the merge state of a repository.
type MergePhase string

const (
	MergeIdle       MergePhase = "idle"
	MergeMerging    MergePhase = "merging"
	MergeConflicted MergePhase = "conflicted"
)

// Conflict records a merge that stopped on conflicts. The git merge is
// aborted on disk; the record is what resolution replays.
type Conflict struct {
	Source       string                `json:"source"`
	Target       string                `json:"target"`
	SourceHash   string                `json:"source_hash"`
	ReturnBranch string                `json:"return_branch"`
	Paths        []string              `json:"paths"`
	Files        structure.FlatFileSet `json:"-"`
	DetectedAt   time.Time             `json:"detected_at"`
}

// MergeState is Idle, Merging, or Conflicted with its record.
type MergeState struct {
	Phase    MergePhase `json:"phase"`
	Conflict *Conflict  `json:"conflict,omitempty"`
}

// ProjectRepository is the handle for one project's repository. Mutations
// hold Lock for their whole sequence; reads hold RLock.
type ProjectRepository struct {
	ID        string
	Path      string
	Repo      *engine.Repo
	Recovered bool
	CreatedAt time.Time

	lock  sync.RWMutex
	merge MergeState

	recoveryNoticed atomic.Bool

	mu           sync.Mutex
	mergePhase   MergePhase
	lastAccessed time.Time
	accessCount  int64
	refs         int
}

// RepositoryStats provides statistics about the repository pool
type RepositoryStats struct {
	TotalRepositories  int                          `json:"total_repositories"`
	ActiveRepositories int                          `json:"active_repositories"`
	IdleRepositories   int                          `json:"idle_repositories"`
	RepositoryDetails  map[string]*RepositoryDetail `json:"repository_details,omitempty"`
	LastCleanup        time.Time                    `json:"last_cleanup"`
	Config             PoolConfig                   `json:"config"`
}

// RepositoryDetail provides detailed information about a pooled repository
type RepositoryDetail struct {
	ID           string     `json:"id"`
	Path         string     `json:"path"`
	LastAccessed time.Time  `json:"last_accessed"`
	AccessCount  int64      `json:"access_count"`
	CreatedAt    time.Time  `json:"created_at"`
	IdleTime     string     `json:"idle_time"`
	InUse        int        `json:"in_use"`
	MergePhase   MergePhase `json:"merge_phase"`
	Recovered    bool       `json:"recovered"`
}

// DefaultPoolConfig returns a sensible default configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Root:            "./data/repos",
		DefaultBranch:   "main",
		MaxIdleTime:     30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxRepositories: 100,
	}
}

// NewRepositoryPool creates a pool and starts its cleanup routine. store,
// logger and m may be nil.
func NewRepositoryPool(config PoolConfig, store datastore.DocumentStore, logger *logging.Logger, m *metrics.PrometheusMetrics) *RepositoryPool {
	defaults := DefaultPoolConfig()
	if config.Root == "" {
		config.Root = defaults.Root
	}
	if config.DefaultBranch == "" {
		config.DefaultBranch = defaults.DefaultBranch
	}
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = defaults.MaxIdleTime
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.MaxRepositories == 0 {
		config.MaxRepositories = defaults.MaxRepositories
	}
	if logger == nil {
		logger = logging.Nop()
	}

	pool := &RepositoryPool{
		repositories: make(map[string]*ProjectRepository),
		opening:      make(map[string]*openCall),
		config:       config,
		store:        store,
		logger:       logger.WithComponent("pool"),
		metrics:      m,
		lastCleanup:  time.Now(),
		done:         make(chan struct{}),
	}

	pool.startCleanupRoutine()
	return pool
}

// Config returns the effective configuration.
func (p *RepositoryPool) Config() PoolConfig {
	return p.config
}

// Acquire returns the handle for projectID, creating and seeding the
// repository on first use. Every Acquire must be paired with Release.
// Disk and document store work happens outside the pool lock, so a slow
// open only delays callers of the same project.
func (p *RepositoryPool) Acquire(ctx context.Context, projectID string) (*ProjectRepository, error) {
	if err := validation.ValidateProjectID(projectID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProjectID, err)
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if handle, exists := p.repositories[projectID]; exists {
			handle.touch(1)
			p.mu.Unlock()
			return handle, nil
		}

		if call, inFlight := p.opening[projectID]; inFlight {
			p.mu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if call.err != nil {
				return nil, call.err
			}
			continue
		}

		if len(p.repositories)+len(p.opening) >= p.config.MaxRepositories {
			if p.evictIdleRepositories(true) == 0 {
				p.mu.Unlock()
				return nil, fmt.Errorf("%w (max: %d)", ErrPoolFull, p.config.MaxRepositories)
			}
		}

		call := &openCall{done: make(chan struct{})}
		p.opening[projectID] = call
		p.mu.Unlock()

		return p.finishOpen(ctx, projectID, call)
	}
}

// finishOpen opens the repository without the pool lock and publishes the
// result to the pool and to any waiters.
func (p *RepositoryPool) finishOpen(ctx context.Context, projectID string, call *openCall) (*ProjectRepository, error) {
	// Waiters share this open, so it ignores the caller's cancellation.
	handle, created, err := p.open(context.WithoutCancel(ctx), projectID)

	p.mu.Lock()
	delete(p.opening, projectID)
	if err == nil && p.closed {
		err = ErrPoolClosed
	}
	if err == nil {
		handle.touch(1)
		p.repositories[projectID] = handle
		p.metrics.SetRepositoryCount(len(p.repositories))
	}
	call.err = err
	close(call.done)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if created {
		p.persistLocation(ctx, handle)
	}
	return handle, nil
}

// Release marks one use of the handle as finished.
func (p *RepositoryPool) Release(handle *ProjectRepository) {
	if handle == nil {
		return
	}
	handle.touch(-1)
}

// open creates, reopens or repairs the repository directory. created
// reports whether a fresh repository was made whose location should be
// recorded. Called without p.mu; the opening entry excludes other callers.
func (p *RepositoryPool) open(ctx context.Context, projectID string) (handle *ProjectRepository, created bool, err error) {
	if _, err := engine.LookupGit(p.config.Engine.GitBinary); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.MkdirAll(p.config.Root, 0755); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	path := filepath.Join(p.config.Root, projectID)
	logger := p.logger.WithField("project_id", projectID)
	handle = &ProjectRepository{
		ID:        projectID,
		Path:      path,
		CreatedAt: time.Now(),
		merge:     MergeState{Phase: MergeIdle},
	}

	_, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		repo, err := p.create(ctx, path)
		if err != nil {
			return nil, false, err
		}
		handle.Repo = repo
		logger.Info("Created repository")
		return handle, true, nil

	case statErr != nil:
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, statErr)
	}

	repo, err := engine.Open(path, p.config.Engine)
	if err == nil {
		var seeded bool
		seeded, err = repo.EnsureSeeded()
		if err == nil {
			if seeded {
				logger.Info("Seeded repository without commits")
			}
			handle.Repo = repo
			return handle, false, nil
		}
	}
	if !errors.Is(err, engine.ErrNotRepository) && !errors.Is(err, engine.ErrCorrupt) {
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	logger.WarnWithErr("Repository metadata is missing or unreadable; discarding prior state and re-creating it", err)
	if err := os.RemoveAll(path); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	repo, err = p.create(ctx, path)
	if err != nil {
		return nil, false, err
	}
	handle.Repo = repo
	handle.Recovered = true
	p.metrics.IncRecovery()
	return handle, true, nil
}

func (p *RepositoryPool) create(ctx context.Context, path string) (*engine.Repo, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	repo, err := engine.Init(ctx, path, p.config.DefaultBranch, p.config.Engine)
	if err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return repo, nil
}

// persistLocation records the repository path on the project document.
// Failures are logged only. The write is bounded by persistTimeout and
// survives cancellation of the caller's context.
func (p *RepositoryPool) persistLocation(ctx context.Context, handle *ProjectRepository) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	abs := handle.Repo.Path()
	err := p.store.UpdateProject(ctx, handle.ID, datastore.ProjectUpdate{RepoPath: &abs})
	switch {
	case err == nil:
	case errors.Is(err, datastore.ErrNotFound):
		p.logger.WithField("project_id", handle.ID).Debug("No project document to record repository path on")
	default:
		p.logger.WithField("project_id", handle.ID).WarnWithErr("Failed to record repository path", err)
	}
}

// Remove drops an unused handle from the pool. Files stay on disk.
func (p *RepositoryPool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle, exists := p.repositories[id]
	if !exists || !handle.evictable() {
		return false
	}
	delete(p.repositories, id)
	p.metrics.SetRepositoryCount(len(p.repositories))
	return true
}

// Size returns the current size of the pool
func (p *RepositoryPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.repositories)
}

// Stats returns statistics about the repository pool
func (p *RepositoryPool) Stats() RepositoryStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := RepositoryStats{
		TotalRepositories: len(p.repositories),
		RepositoryDetails: make(map[string]*RepositoryDetail),
		LastCleanup:       p.lastCleanup,
		Config:            p.config,
	}

	idleThreshold := time.Now().Add(-p.config.MaxIdleTime)
	for id, handle := range p.repositories {
		detail := handle.Detail()
		if detail.InUse > 0 || detail.LastAccessed.After(idleThreshold) {
			stats.ActiveRepositories++
		} else {
			stats.IdleRepositories++
		}
		stats.RepositoryDetails[id] = &detail
	}

	return stats
}

// Cleanup manually triggers cleanup of idle repositories
func (p *RepositoryPool) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCleanup = time.Now()
	return p.evictIdleRepositories(false)
}

// Close shuts down the repository pool
func (p *RepositoryPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)

	if p.cleanupTicker != nil {
		p.cleanupTicker.Stop()
	}

	p.repositories = make(map[string]*ProjectRepository)
	p.metrics.SetRepositoryCount(0)
}

// startCleanupRoutine starts the background cleanup routine
func (p *RepositoryPool) startCleanupRoutine() {
	p.cleanupTicker = time.NewTicker(p.config.CleanupInterval)

	go func() {
		for {
			select {
			case <-p.cleanupTicker.C:
				if n := p.Cleanup(); n > 0 {
					p.logger.Debugf("Evicted %d idle repositories", n)
				}
			case <-p.done:
				return
			}
		}
	}()
}

// evictIdleRepositories removes handles that are unused, have no recorded
// conflict and have been idle past MaxIdleTime. With makeRoom set and
// nothing past the limit, the least recently used candidate goes instead.
// Must be called with write lock held.
func (p *RepositoryPool) evictIdleRepositories(makeRoom bool) int {
	evicted := 0
	cutoff := time.Now().Add(-p.config.MaxIdleTime)

	var candidates []*ProjectRepository
	for id, handle := range p.repositories {
		if !handle.evictable() {
			continue
		}
		if handle.LastAccessed().Before(cutoff) {
			delete(p.repositories, id)
			evicted++
			continue
		}
		candidates = append(candidates, handle)
	}

	if makeRoom && evicted == 0 && len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].LastAccessed().Before(candidates[j].LastAccessed())
		})
		delete(p.repositories, candidates[0].ID)
		evicted++
	}

	if evicted > 0 {
		p.metrics.SetRepositoryCount(len(p.repositories))
	}
	return evicted
}

// Lock takes the project's exclusive lock.
func (pr *ProjectRepository) Lock() { pr.lock.Lock() }

// Unlock releases the exclusive lock.
func (pr *ProjectRepository) Unlock() { pr.lock.Unlock() }

// RLock takes the project's shared lock.
func (pr *ProjectRepository) RLock() { pr.lock.RLock() }

// RUnlock releases the shared lock.
func (pr *ProjectRepository) RUnlock() { pr.lock.RUnlock() }

// ClaimRecoveryNotice reports true exactly once for a recovered handle,
// to the caller that should announce the recovery.
func (pr *ProjectRepository) ClaimRecoveryNotice() bool {
	return pr.Recovered && pr.recoveryNoticed.CompareAndSwap(false, true)
}

// MergeState returns the merge state. The caller holds the project lock.
func (pr *ProjectRepository) MergeState() MergeState {
	return pr.merge
}

// SetMergeState replaces the merge state. The caller holds Lock.
func (pr *ProjectRepository) SetMergeState(state MergeState) {
	if state.Phase == "" {
		state.Phase = MergeIdle
	}
	pr.merge = state

	pr.mu.Lock()
	pr.mergePhase = state.Phase
	pr.mu.Unlock()
}

// LastAccessed returns when the handle was last acquired or released.
func (pr *ProjectRepository) LastAccessed() time.Time {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.lastAccessed
}

// Detail returns statistics for this handle.
func (pr *ProjectRepository) Detail() RepositoryDetail {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	return RepositoryDetail{
		ID:           pr.ID,
		Path:         pr.Path,
		LastAccessed: pr.lastAccessed,
		AccessCount:  pr.accessCount,
		CreatedAt:    pr.CreatedAt,
		IdleTime:     time.Since(pr.lastAccessed).String(),
		InUse:        pr.refs,
		MergePhase:   pr.phase(),
		Recovered:    pr.Recovered,
	}
}

func (pr *ProjectRepository) touch(delta int) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.lastAccessed = time.Now()
	pr.refs += delta
	if delta > 0 {
		pr.accessCount++
	}
	if pr.refs < 0 {
		pr.refs = 0
	}
}

func (pr *ProjectRepository) evictable() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.refs == 0 && pr.phase() != MergeConflicted
}

// phase must be called with pr.mu held.
func (pr *ProjectRepository) phase() MergePhase {
	if pr.mergePhase == "" {
		return MergeIdle
	}
	return pr.mergePhase
}
