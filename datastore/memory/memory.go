// Package memory implements an in-memory document store.
// It provides no persistence and suits development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
)

// MemoryStore implements datastore.DocumentStore using in-memory maps.
// Values are deep-copied on the way in and out.
type MemoryStore struct {
	projects   map[string]*datastore.Project
	projectsMu sync.RWMutex

	versionControl   map[string]*datastore.VersionControl
	versionControlMu sync.RWMutex

	// Metrics
	reads  atomic.Int64
	writes atomic.Int64

	closed atomic.Bool
}

// init registers the memory store factory
func init() {
	datastore.Register(datastore.TypeMemory, func(config datastore.Config) (datastore.DocumentStore, error) {
		return New(config), nil
	})
}

// New creates a new memory store
func New(config datastore.Config) *MemoryStore {
	return &MemoryStore{
		projects:       make(map[string]*datastore.Project),
		versionControl: make(map[string]*datastore.VersionControl),
	}
}

// Initialize initializes the memory store
func (m *MemoryStore) Initialize(config datastore.Config) error {
	return nil
}

// Close closes the memory store
func (m *MemoryStore) Close() error {
	if m.closed.Swap(true) {
		return fmt.Errorf("already closed")
	}

	m.projectsMu.Lock()
	m.projects = nil
	m.projectsMu.Unlock()

	m.versionControlMu.Lock()
	m.versionControl = nil
	m.versionControlMu.Unlock()

	return nil
}

// HealthCheck checks if the store is healthy
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if m.closed.Load() {
		return datastore.ErrClosed
	}
	return ctx.Err()
}

// Type returns the backend name
func (m *MemoryStore) Type() string {
	return datastore.TypeMemory
}

// Stats returns read and write counters.
func (m *MemoryStore) Stats() (reads, writes int64) {
	return m.reads.Load(), m.writes.Load()
}

func (m *MemoryStore) check(ctx context.Context) error {
	if m.closed.Load() {
		return datastore.ErrClosed
	}
	return ctx.Err()
}

// FindProject returns a copy of the stored project
func (m *MemoryStore) FindProject(ctx context.Context, id string) (*datastore.Project, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.reads.Add(1)

	m.projectsMu.RLock()
	defer m.projectsMu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, datastore.ErrNotFound)
	}
	return p.Clone(), nil
}

// SaveProject creates or replaces a project
func (m *MemoryStore) SaveProject(ctx context.Context, project *datastore.Project) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if project == nil || project.ID == "" {
		return fmt.Errorf("project id is required: %w", datastore.ErrInvalidData)
	}
	m.writes.Add(1)

	p := project.Clone()
	p.UpdatedAt = time.Now()

	m.projectsMu.Lock()
	m.projects[p.ID] = p
	m.projectsMu.Unlock()
	return nil
}

// UpdateProject applies a partial update
func (m *MemoryStore) UpdateProject(ctx context.Context, id string, update datastore.ProjectUpdate) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.writes.Add(1)

	m.projectsMu.Lock()
	defer m.projectsMu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, datastore.ErrNotFound)
	}
	update.Apply(p)
	p.UpdatedAt = time.Now()
	return nil
}

// FindVersionControl returns a copy of the project's branch metadata
func (m *MemoryStore) FindVersionControl(ctx context.Context, projectID string) (*datastore.VersionControl, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.reads.Add(1)

	m.versionControlMu.RLock()
	defer m.versionControlMu.RUnlock()

	vc, ok := m.versionControl[projectID]
	if !ok {
		return nil, fmt.Errorf("version control for %s: %w", projectID, datastore.ErrNotFound)
	}
	return vc.Clone(), nil
}

// SaveBranchSnapshot upserts one branch snapshot
func (m *MemoryStore) SaveBranchSnapshot(ctx context.Context, projectID string, snapshot datastore.BranchSnapshot) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if snapshot.Name == "" {
		return fmt.Errorf("branch name is required: %w", datastore.ErrInvalidData)
	}
	m.writes.Add(1)

	snapshot.Structure = snapshot.Structure.Clone()
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}

	m.versionControlMu.Lock()
	defer m.versionControlMu.Unlock()

	m.ensure(projectID).UpsertSnapshot(snapshot)
	return nil
}

// DeleteBranchSnapshot removes one branch snapshot
func (m *MemoryStore) DeleteBranchSnapshot(ctx context.Context, projectID, branch string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.writes.Add(1)

	m.versionControlMu.Lock()
	defer m.versionControlMu.Unlock()

	if vc, ok := m.versionControl[projectID]; ok {
		vc.RemoveSnapshot(branch)
	}
	return nil
}

// SetActiveBranch records the project's current branch
func (m *MemoryStore) SetActiveBranch(ctx context.Context, projectID, branch string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.writes.Add(1)

	m.versionControlMu.Lock()
	defer m.versionControlMu.Unlock()

	m.ensure(projectID).ActiveBranch = branch
	return nil
}

// ensure must be called with versionControlMu held.
func (m *MemoryStore) ensure(projectID string) *datastore.VersionControl {
	vc, ok := m.versionControl[projectID]
	if !ok {
		vc = &datastore.VersionControl{ProjectID: projectID}
		m.versionControl[projectID] = vc
	}
	return vc
}
