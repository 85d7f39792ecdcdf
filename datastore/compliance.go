package datastore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

// ComplianceTestSuite describes a backend under test.
type ComplianceTestSuite struct {
	Store   DocumentStore
	Config  Config
	Cleanup func()
}

// RunComplianceTests exercises the DocumentStore contract against a
// backend. Every backend's tests call it.
func RunComplianceTests(t *testing.T, suite ComplianceTestSuite) {
	t.Helper()
	if suite.Cleanup != nil {
		defer suite.Cleanup()
	}
	store := suite.Store
	ctx := context.Background()

	t.Run("HealthCheck", func(t *testing.T) {
		assert.NoError(t, store.HealthCheck(ctx))
	})

	t.Run("Projects", func(t *testing.T) {
		_, err := store.FindProject(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		tree := structure.NewFolder("", structure.NewFile("a.txt", "A"))
		require.NoError(t, store.SaveProject(ctx, &Project{ID: "p1", Name: "demo", Structure: tree}))

		p, err := store.FindProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "demo", p.Name)
		assert.True(t, structure.Equal(tree, p.Structure))
		assert.Empty(t, p.RepoPath)

		// returned values are copies
		p.Structure.Children[0].Content = "mutated"
		again, err := store.FindProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "A", again.Structure.Children[0].Content)

		repoPath := "/srv/repos/p1"
		require.NoError(t, store.UpdateProject(ctx, "p1", ProjectUpdate{RepoPath: &repoPath}))
		p, err = store.FindProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, repoPath, p.RepoPath)
		assert.True(t, structure.Equal(tree, p.Structure), "partial update must keep other fields")

		err = store.UpdateProject(ctx, "missing", ProjectUpdate{RepoPath: &repoPath})
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, store.SaveProject(ctx, &Project{}), ErrInvalidData)
	})

	t.Run("VersionControl", func(t *testing.T) {
		_, err := store.FindVersionControl(ctx, "p2")
		assert.ErrorIs(t, err, ErrNotFound)

		mainTree := structure.NewFolder("", structure.NewFile("main.txt", "M"))
		featureTree := structure.NewFolder("", structure.NewFile("feature.txt", "F"))

		require.NoError(t, store.SaveBranchSnapshot(ctx, "p2", BranchSnapshot{Name: "main", Structure: mainTree, HeadCommit: "aaa"}))
		require.NoError(t, store.SaveBranchSnapshot(ctx, "p2", BranchSnapshot{Name: "feature", Structure: featureTree, HeadCommit: "bbb"}))
		require.NoError(t, store.SetActiveBranch(ctx, "p2", "feature"))

		vc, err := store.FindVersionControl(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, "p2", vc.ProjectID)
		assert.Equal(t, "feature", vc.ActiveBranch)
		require.Len(t, vc.Branches, 2)
		require.NotNil(t, vc.Branch("main"))
		assert.Equal(t, "aaa", vc.Branch("main").HeadCommit)
		assert.True(t, structure.Equal(featureTree, vc.Branch("feature").Structure))
		assert.False(t, vc.Branch("main").UpdatedAt.IsZero())

		// upsert replaces rather than duplicating
		updated := structure.NewFolder("", structure.NewFile("main.txt", "M2"))
		require.NoError(t, store.SaveBranchSnapshot(ctx, "p2", BranchSnapshot{Name: "main", Structure: updated, HeadCommit: "ccc"}))
		vc, err = store.FindVersionControl(ctx, "p2")
		require.NoError(t, err)
		require.Len(t, vc.Branches, 2)
		assert.Equal(t, "ccc", vc.Branch("main").HeadCommit)
		assert.True(t, structure.Equal(updated, vc.Branch("main").Structure))

		require.NoError(t, store.DeleteBranchSnapshot(ctx, "p2", "feature"))
		require.NoError(t, store.DeleteBranchSnapshot(ctx, "p2", "never-existed"))
		vc, err = store.FindVersionControl(ctx, "p2")
		require.NoError(t, err)
		assert.Len(t, vc.Branches, 1)
		assert.Nil(t, vc.Branch("feature"))

		assert.ErrorIs(t, store.SaveBranchSnapshot(ctx, "p2", BranchSnapshot{}), ErrInvalidData)
	})

	t.Run("ConcurrentSnapshots", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("branch-%d", i)
				tree := structure.NewFolder("", structure.NewFile("f.txt", name))
				assert.NoError(t, store.SaveBranchSnapshot(ctx, "p3", BranchSnapshot{Name: name, Structure: tree}))
			}(i)
		}
		wg.Wait()

		vc, err := store.FindVersionControl(ctx, "p3")
		require.NoError(t, err)
		assert.Len(t, vc.Branches, 10)
	})
}
