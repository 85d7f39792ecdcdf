package vcs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/metrics"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

// Reasons a read is served from the document store.
const (
	reasonSeedOnly           = "seed_only"
	reasonBranchMissing      = "branch_missing"
	reasonStorageUnavailable = "storage_unavailable"
)

// fallback reads trees from the document store when the engine cannot
// serve them, and mirrors engine state into it after successful writes.
// The document store is never written instead of the engine.
type fallback struct {
	store   datastore.DocumentStore
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
	pending sync.WaitGroup

	// Mirror writes for one project run in submission order.
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newFallback(store datastore.DocumentStore, timeout time.Duration, logger *logging.Logger, m *metrics.PrometheusMetrics) *fallback {
	return &fallback{
		store:   store,
		timeout: timeout,
		logger:  logger.WithComponent("fallback"),
		metrics: m,
		tails:   make(map[string]chan struct{}),
	}
}

// load returns the best tree the document store has for branch: its
// snapshot, else the active branch's snapshot, else the project's own
// structure, else an empty tree. It never fails.
func (f *fallback) load(ctx context.Context, projectID, branch string) (*structure.Node, string) {
	if f.store == nil {
		return structure.NewRoot(), ""
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	logger := f.logger.WithField("project_id", projectID)

	vc, err := f.store.FindVersionControl(ctx, projectID)
	switch {
	case err == nil:
		if snap := vc.Branch(branch); snap != nil && snap.Structure != nil {
			return snap.Structure, snap.HeadCommit
		}
		if snap := vc.Branch(vc.ActiveBranch); snap != nil && snap.Structure != nil {
			return snap.Structure, snap.HeadCommit
		}
	case !errors.Is(err, datastore.ErrNotFound):
		logger.WarnWithErr("Failed to read version control snapshot", err)
	}

	project, err := f.store.FindProject(ctx, projectID)
	switch {
	case err == nil:
		if project.Structure != nil {
			return project.Structure, ""
		}
	case !errors.Is(err, datastore.ErrNotFound):
		logger.WarnWithErr("Failed to read project structure", err)
	}

	return structure.NewRoot(), ""
}

// hasBranch reports whether the document store knows a branch the engine
// does not have.
func (f *fallback) hasBranch(ctx context.Context, projectID, branch string) bool {
	if f.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	vc, err := f.store.FindVersionControl(ctx, projectID)
	return err == nil && vc.Branch(branch) != nil
}

// mirror records a branch's committed tree and, when active is set, the
// active branch. It returns immediately.
func (f *fallback) mirror(projectID, branch string, tree *structure.Node, head, active string) {
	if f.store == nil {
		return
	}
	snapshot := datastore.BranchSnapshot{Name: branch, Structure: tree.Clone(), HeadCommit: head}
	f.async(projectID, "mirror", func(ctx context.Context) error {
		if branch != "" {
			if err := f.store.SaveBranchSnapshot(ctx, projectID, snapshot); err != nil {
				return err
			}
		}
		if active != "" {
			return f.store.SetActiveBranch(ctx, projectID, active)
		}
		return nil
	})
}

// forget drops a deleted branch's snapshot. It returns immediately.
func (f *fallback) forget(projectID, branch string) {
	if f.store == nil {
		return
	}
	f.async(projectID, "forget", func(ctx context.Context) error {
		return f.store.DeleteBranchSnapshot(ctx, projectID, branch)
	})
}

func (f *fallback) async(projectID, what string, fn func(ctx context.Context) error) {
	f.mu.Lock()
	prev := f.tails[projectID]
	done := make(chan struct{})
	f.tails[projectID] = done
	f.mu.Unlock()

	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		defer func() {
			f.mu.Lock()
			if f.tails[projectID] == done {
				delete(f.tails, projectID)
			}
			f.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			f.metrics.IncMirrorFailure()
			f.logger.WithFields(map[string]interface{}{
				"project_id": projectID,
				"action":     what,
			}).WarnWithErr("Document store mirror failed", err)
		}
	}()
}

func (f *fallback) wait() {
	f.pending.Wait()
}

func (f *fallback) countRead(reason string) {
	f.metrics.IncFallbackRead(reason)
}
