package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

func newTestStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	config := datastore.Config{Type: datastore.TypeBolt, Connection: path}
	store, err := New(config)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(config))
	return store
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store := newTestStore(t, path)

	datastore.RunComplianceTests(t, datastore.ComplianceTestSuite{
		Store:   store,
		Config:  store.config,
		Cleanup: func() { store.Close() },
	})
}

func TestBoltStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	store := newTestStore(t, path)
	tree := structure.NewFolder("", structure.NewFolder("src", structure.NewFile("main.go", "package main")))
	require.NoError(t, store.SaveProject(ctx, &datastore.Project{ID: "p", Name: "persist", Structure: tree}))
	require.NoError(t, store.SaveBranchSnapshot(ctx, "p", datastore.BranchSnapshot{Name: "main", Structure: tree, HeadCommit: "abc"}))
	require.NoError(t, store.Close())

	reopened := newTestStore(t, path)
	defer reopened.Close()

	p, err := reopened.FindProject(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "p", p.ID)
	assert.True(t, structure.Equal(tree, p.Structure))

	vc, err := reopened.FindVersionControl(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, vc.Branch("main"))
	assert.Equal(t, "abc", vc.Branch("main").HeadCommit)
}

func TestBoltStoreClosed(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.HealthCheck(ctx), datastore.ErrClosed)
	_, err := store.FindProject(ctx, "p")
	assert.ErrorIs(t, err, datastore.ErrClosed)
}

func TestDeleteSnapshotDoesNotCreateRecord(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "delete.db"))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.DeleteBranchSnapshot(ctx, "ghost", "main"))
	_, err := store.FindVersionControl(ctx, "ghost")
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(datastore.Config{Type: datastore.TypeBolt})
	assert.Error(t, err)
}
