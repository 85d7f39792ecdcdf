package pool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore/memory"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func newTestPool(t *testing.T, config PoolConfig, store datastore.DocumentStore) *RepositoryPool {
	t.Helper()
	requireGit(t)
	if config.Root == "" {
		config.Root = t.TempDir()
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Hour
	}
	p := NewRepositoryPool(config, store, nil, nil)
	t.Cleanup(p.Close)
	return p
}

func TestDefaultPoolConfig(t *testing.T) {
	config := DefaultPoolConfig()
	assert.Equal(t, "main", config.DefaultBranch)
	assert.Equal(t, 30*time.Minute, config.MaxIdleTime)
	assert.Equal(t, 5*time.Minute, config.CleanupInterval)
	assert.Equal(t, 100, config.MaxRepositories)
}

func TestPoolConfigDefaults(t *testing.T) {
	p := NewRepositoryPool(PoolConfig{Root: t.TempDir()}, nil, nil, nil)
	defer p.Close()

	config := p.Config()
	assert.Equal(t, "main", config.DefaultBranch)
	assert.Equal(t, 100, config.MaxRepositories)
	assert.Equal(t, 30*time.Minute, config.MaxIdleTime)
}

func TestAcquireCreatesAndSeeds(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := memory.New(datastore.DefaultConfig(datastore.TypeMemory))
	require.NoError(t, store.SaveProject(ctx, &datastore.Project{ID: "proj-1", Name: "demo"}))

	p := newTestPool(t, PoolConfig{Root: root}, store)

	handle, err := p.Acquire(ctx, "proj-1")
	require.NoError(t, err)
	defer p.Release(handle)

	assert.Equal(t, filepath.Join(root, "proj-1"), handle.Path)
	assert.False(t, handle.Recovered)
	assert.DirExists(t, filepath.Join(root, "proj-1", ".git"))

	branch, err := handle.Repo.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	commits, err := handle.Repo.Log("main", 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "Initial commit", commits[0].Message)

	project, err := store.FindProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, handle.Repo.Path(), project.RepoPath)
}

func TestAcquireIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, PoolConfig{}, nil)

	first, err := p.Acquire(ctx, "proj")
	require.NoError(t, err)
	p.Release(first)

	second, err := p.Acquire(ctx, "proj")
	require.NoError(t, err)
	p.Release(second)
	assert.Same(t, first, second)

	// A fresh pool over the same root reopens without reseeding.
	other := newTestPool(t, PoolConfig{Root: p.Config().Root}, nil)
	third, err := other.Acquire(ctx, "proj")
	require.NoError(t, err)
	defer other.Release(third)
	assert.False(t, third.Recovered)

	count, err := third.Repo.CountCommits("main", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAcquireRepairsCorruptRepository(t *testing.T) {
	testCases := []struct {
		name    string
		prepare func(t *testing.T, dir string)
	}{
		{
			name: "MissingMetadata",
			prepare: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("x"), 0644))
			},
		},
		{
			name: "UnreadableMetadata",
			prepare: func(t *testing.T, dir string) {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
				require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("garbage"), 0644))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			dir := filepath.Join(root, "broken")
			require.NoError(t, os.MkdirAll(dir, 0755))
			tc.prepare(t, dir)

			p := newTestPool(t, PoolConfig{Root: root}, nil)
			handle, err := p.Acquire(ctx, "broken")
			require.NoError(t, err)
			defer p.Release(handle)

			assert.True(t, handle.Recovered)
			assert.True(t, handle.ClaimRecoveryNotice())
			assert.False(t, handle.ClaimRecoveryNotice(), "recovery is announced once per handle")
			assert.NoFileExists(t, filepath.Join(dir, "stale.txt"))
			files, err := handle.Repo.FilesAt("main")
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestAcquireSeedsRepositoryWithoutCommits(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()
	dir := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(dir, 0755))
	cmd := exec.Command("git", "init", "-q", "-b", "main", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("git init -b unsupported: %v: %s", err, out)
	}

	p := newTestPool(t, PoolConfig{Root: root}, nil)
	handle, err := p.Acquire(ctx, "empty")
	require.NoError(t, err)
	defer p.Release(handle)

	assert.False(t, handle.Recovered)
	ok, err := handle.Repo.HasCommits()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidProjectID", func(t *testing.T) {
		p := newTestPool(t, PoolConfig{}, nil)
		_, err := p.Acquire(ctx, "../escape")
		assert.ErrorIs(t, err, ErrInvalidProjectID)
	})

	t.Run("UnwritableRoot", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0644))
		p := newTestPool(t, PoolConfig{Root: filepath.Join(file, "repos")}, nil)
		_, err := p.Acquire(ctx, "proj")
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})

	t.Run("GitMissing", func(t *testing.T) {
		config := PoolConfig{}
		config.Engine.GitBinary = "definitely-not-a-git-binary"
		p := newTestPool(t, config, nil)
		_, err := p.Acquire(ctx, "proj")
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})

	t.Run("Closed", func(t *testing.T) {
		p := newTestPool(t, PoolConfig{}, nil)
		p.Close()
		p.Close()
		_, err := p.Acquire(ctx, "proj")
		assert.ErrorIs(t, err, ErrPoolClosed)
	})
}

func TestPoolSizeLimit(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, PoolConfig{MaxRepositories: 1}, nil)

	a, err := p.Acquire(ctx, "a")
	require.NoError(t, err)

	_, err = p.Acquire(ctx, "b")
	assert.ErrorIs(t, err, ErrPoolFull)

	p.Release(a)
	b, err := p.Acquire(ctx, "b")
	require.NoError(t, err)
	defer p.Release(b)
	assert.Equal(t, 1, p.Size())
}

func TestPoolCleanup(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, PoolConfig{MaxIdleTime: time.Millisecond}, nil)

	idle, err := p.Acquire(ctx, "idle")
	require.NoError(t, err)
	p.Release(idle)

	busy, err := p.Acquire(ctx, "busy")
	require.NoError(t, err)
	defer p.Release(busy)

	conflicted, err := p.Acquire(ctx, "conflicted")
	require.NoError(t, err)
	conflicted.Lock()
	conflicted.SetMergeState(MergeState{Phase: MergeConflicted, Conflict: &Conflict{Source: "f", Target: "main"}})
	conflicted.Unlock()
	p.Release(conflicted)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, p.Cleanup())
	assert.Equal(t, 2, p.Size())
	assert.False(t, p.Remove("busy"))
	assert.False(t, p.Remove("conflicted"))
	assert.False(t, p.Remove("idle"))
}

func TestPoolStats(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, PoolConfig{}, nil)

	handle, err := p.Acquire(ctx, "proj")
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 1, stats.TotalRepositories)
	assert.Equal(t, 1, stats.ActiveRepositories)
	require.Contains(t, stats.RepositoryDetails, "proj")
	detail := stats.RepositoryDetails["proj"]
	assert.Equal(t, 1, detail.InUse)
	assert.Equal(t, int64(1), detail.AccessCount)
	assert.Equal(t, MergeIdle, detail.MergePhase)

	p.Release(handle)
	assert.Equal(t, 0, p.Stats().RepositoryDetails["proj"].InUse)
	assert.True(t, p.Remove("proj"))
	assert.Equal(t, 0, p.Size())
}

func TestMergeStateDefaultsToIdle(t *testing.T) {
	handle := &ProjectRepository{}
	handle.SetMergeState(MergeState{})
	assert.Equal(t, MergeIdle, handle.MergeState().Phase)

	files := structure.FlatFileSet{"a.txt": "<<<<<<<"}
	handle.SetMergeState(MergeState{Phase: MergeConflicted, Conflict: &Conflict{Paths: []string{"a.txt"}, Files: files}})
	assert.Equal(t, MergeConflicted, handle.Detail().MergePhase)
	assert.Equal(t, []string{"a.txt"}, handle.MergeState().Conflict.Paths)
}

// blockingStore holds UpdateProject for one project until release is
// closed.
type blockingStore struct {
	*memory.MemoryStore
	project string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) UpdateProject(ctx context.Context, id string, update datastore.ProjectUpdate) error {
	if id == b.project {
		close(b.entered)
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.MemoryStore.UpdateProject(ctx, id, update)
}

func TestSlowOpenDoesNotBlockOtherProjects(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		MemoryStore: memory.New(datastore.DefaultConfig(datastore.TypeMemory)),
		project:     "slow",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	p := newTestPool(t, PoolConfig{}, store)

	fast, err := p.Acquire(ctx, "fast")
	require.NoError(t, err)
	p.Release(fast)

	slowDone := make(chan error, 1)
	go func() {
		h, err := p.Acquire(ctx, "slow")
		if err == nil {
			p.Release(h)
		}
		slowDone <- err
	}()

	select {
	case <-store.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("slow project never reached the document store")
	}

	start := time.Now()
	cached, err := p.Acquire(ctx, "fast")
	require.NoError(t, err)
	p.Release(cached)
	fresh, err := p.Acquire(ctx, "other")
	require.NoError(t, err)
	p.Release(fresh)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 3, p.Size())

	close(store.release)
	require.NoError(t, <-slowDone)
}

func TestConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, PoolConfig{}, nil)

	var wg sync.WaitGroup
	handles := make([]*ProjectRepository, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := p.Acquire(ctx, "shared")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
		p.Release(h)
	}
	assert.Equal(t, int64(8), handles[0].Detail().AccessCount)
}
