package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/broadcast"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pkg/structure"
)

func sampleTree() *structure.Node {
	return treeOf(
		structure.NewFile("README.md", "# demo\n"),
		structure.NewFolder("src",
			structure.NewFile("main.go", "package main\n"),
			structure.NewFolder("util", structure.NewFile("strings.go", "package util\n")),
		),
		structure.NewFolder("assets"),
	)
}

func TestCommitRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info := f.commit(t, "", "Initial layout", sampleTree())
	assert.Len(t, info.Hash, 40)
	assert.Equal(t, "Initial layout", info.Message)
	assert.Equal(t, "Ada", info.Author)
	assert.Equal(t, "ada@example.com", info.Email)

	tr, err := f.svc.LoadTree(ctx, project, "")
	require.NoError(t, err)
	assert.Equal(t, OriginEngine, tr.Origin)
	assert.Equal(t, "main", tr.Branch)
	assert.Equal(t, info.Hash, tr.HeadCommit)
	assert.True(t, structure.Equal(sampleTree(), tr.Structure))

	ev := f.events.last()
	assert.Equal(t, broadcast.CommitCreated, ev.Kind)
}

func TestCommitRemovesAbsentPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.commit(t, "", "Initial layout", sampleTree())

	smaller := treeOf(structure.NewFile("README.md", "# demo v2\n"))
	f.commit(t, "", "Trim", smaller)

	tr, err := f.svc.LoadTree(ctx, project, "main")
	require.NoError(t, err)
	assert.True(t, structure.Equal(smaller, tr.Structure))

	_, err = os.Stat(filepath.Join(f.repoPath(), "src"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommitAllowsEmptyCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.commit(t, "", "One", sampleTree())
	second := f.commit(t, "", "Two", sampleTree())
	assert.NotEqual(t, first.Hash, second.Hash)

	commits, err := f.svc.ListCommits(ctx, project, "main", 0)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, []string{"Two", "One", "Initial commit"},
		[]string{commits[0].Message, commits[1].Message, commits[2].Message})
	assert.Equal(t, []string{first.Hash}, commits[0].Parents)
}

func TestCommitOnOtherBranchRestoresCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.commit(t, "", "Base", treeOf(structure.NewFile("a.txt", "main")))
	_, err := f.svc.CreateBranch(ctx, project, "feature", "")
	require.NoError(t, err)

	f.commit(t, "feature", "Feature work", treeOf(structure.NewFile("a.txt", "feature")))
	assert.Equal(t, "main", f.current(t))

	mainTree, err := f.svc.LoadTree(ctx, project, "main")
	require.NoError(t, err)
	assert.True(t, structure.Equal(treeOf(structure.NewFile("a.txt", "main")), mainTree.Structure))

	featureTree, err := f.svc.LoadTree(ctx, project, "feature")
	require.NoError(t, err)
	assert.True(t, structure.Equal(treeOf(structure.NewFile("a.txt", "feature")), featureTree.Structure))
}

func TestCommitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, project, CommitRequest{Message: "  ", Structure: sampleTree()})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = f.svc.Commit(ctx, project, CommitRequest{Message: "nil tree"})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	dup := treeOf(structure.NewFile("a.txt", "1"), structure.NewFile("a.txt", "2"))
	_, err = f.svc.Commit(ctx, project, CommitRequest{Message: "dup", Structure: dup})
	assert.ErrorIs(t, err, ErrInvalidName)

	reserved := treeOf(structure.NewFolder(".git", structure.NewFile("config", "x")))
	_, err = f.svc.Commit(ctx, project, CommitRequest{Message: "reserved", Structure: reserved})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = f.svc.Commit(ctx, project, CommitRequest{Branch: "ghost", Message: "m", Structure: sampleTree()})
	assert.ErrorIs(t, err, ErrNotFound)

	commits, err := f.svc.ListCommits(ctx, project, "", 10)
	require.NoError(t, err)
	before := len(commits)
	for name, node := range map[string]*structure.Node{
		"untyped":   {Name: "src", Children: []*structure.Node{structure.NewFile("main.go", "package main")}},
		"directory": {Name: "src", Type: "directory", Children: []*structure.Node{structure.NewFile("main.go", "package main")}},
	} {
		_, err = f.svc.Commit(ctx, project, CommitRequest{Message: name, Structure: treeOf(node)})
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	commits, err = f.svc.ListCommits(ctx, project, "", 10)
	require.NoError(t, err)
	assert.Len(t, commits, before, "rejected trees must not be committed")

	_, err = f.svc.Commit(ctx, "../escape", CommitRequest{Message: "m", Structure: sampleTree()})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestListCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		f.commit(t, "", msg, treeOf(structure.NewFile("log.txt", msg)))
	}

	commits, err := f.svc.ListCommits(ctx, project, "", 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "three", commits[0].Message)
	assert.Equal(t, "two", commits[1].Message)

	_, err = f.svc.ListCommits(ctx, project, "ghost", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.commit(t, "", "v1", treeOf(structure.NewFile("a.txt", "1")))
	f.commit(t, "", "v2", treeOf(structure.NewFile("a.txt", "2"), structure.NewFile("b.txt", "b")))

	result, err := f.svc.RestoreCommit(ctx, project, v1.Hash, "")
	require.NoError(t, err)
	assert.Equal(t, "main", result.Branch)
	assert.Equal(t, v1.Hash, result.Commit.Hash)
	assert.True(t, structure.Equal(treeOf(structure.NewFile("a.txt", "1")), result.Structure))
	assert.Equal(t, broadcast.CommitRestored, f.events.last().Kind)

	commits, err := f.svc.ListCommits(ctx, project, "main", 0)
	require.NoError(t, err)
	assert.Len(t, commits, 3, "restoring does not create a commit")

	tr, err := f.svc.LoadTree(ctx, project, "main")
	require.NoError(t, err)
	assert.True(t, structure.Equal(treeOf(structure.NewFile("a.txt", "1")), tr.Structure))
}

func TestRestoreCommitOnOtherBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.commit(t, "", "v1", treeOf(structure.NewFile("a.txt", "1")))
	f.commit(t, "", "v2", treeOf(structure.NewFile("a.txt", "2")))
	_, err := f.svc.CreateBranch(ctx, project, "feature", "")
	require.NoError(t, err)

	result, err := f.svc.RestoreCommit(ctx, project, v1.Hash, "feature")
	require.NoError(t, err)
	assert.Equal(t, "feature", result.Branch)
	assert.Equal(t, "feature", f.current(t))
	assert.True(t, structure.Equal(treeOf(structure.NewFile("a.txt", "1")), result.Structure))
}

func TestRestoreCommitErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.commit(t, "", "v1", treeOf(structure.NewFile("a.txt", "1")))

	_, err := f.svc.RestoreCommit(ctx, project, "0123456789abcdef0123456789abcdef01234567", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.RestoreCommit(ctx, project, "not-a-hash", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadTreeSeedOnlyUsesDocumentStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stored := treeOf(structure.NewFile("legacy.txt", "from before version control"))
	require.NoError(t, f.store.SaveProject(ctx, &datastore.Project{ID: project, Name: "demo", Structure: stored}))

	tr, err := f.svc.LoadTree(ctx, project, "")
	require.NoError(t, err)
	assert.Equal(t, OriginFallback, tr.Origin)
	assert.Equal(t, reasonSeedOnly, tr.Reason)
	assert.True(t, structure.Equal(stored, tr.Structure))
}

func TestLoadTreeSeedOnlyWithoutDocumentIsEmpty(t *testing.T) {
	f := newFixture(t)

	tr, err := f.svc.LoadTree(context.Background(), project, "main")
	require.NoError(t, err)
	assert.Equal(t, OriginFallback, tr.Origin)
	assert.True(t, structure.Equal(structure.NewRoot(), tr.Structure))
}

func TestLoadTreeBranchKnownOnlyToDocumentStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ghost := treeOf(structure.NewFile("ghost.txt", "boo"))
	require.NoError(t, f.store.SaveBranchSnapshot(ctx, project, datastore.BranchSnapshot{Name: "ghost", Structure: ghost, HeadCommit: "abc"}))

	tr, err := f.svc.LoadTree(ctx, project, "ghost")
	require.NoError(t, err)
	assert.Equal(t, OriginFallback, tr.Origin)
	assert.Equal(t, reasonBranchMissing, tr.Reason)
	assert.Equal(t, "abc", tr.HeadCommit)
	assert.True(t, structure.Equal(ghost, tr.Structure))

	_, err = f.svc.LoadTree(ctx, project, "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageOutageServesReadsAndFailsWrites(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	// A regular file where the repositories root should be.
	root := filepath.Join(t.TempDir(), "repos")
	require.NoError(t, os.WriteFile(root, []byte("not a directory"), 0o644))
	f := newFixtureAt(t, root)

	snapshot := treeOf(structure.NewFile("a.txt", "mirrored"))
	require.NoError(t, f.store.SaveBranchSnapshot(ctx, project, datastore.BranchSnapshot{Name: "main", Structure: snapshot, HeadCommit: "def"}))
	require.NoError(t, f.store.SetActiveBranch(ctx, project, "main"))

	tr, err := f.svc.LoadTree(ctx, project, "")
	require.NoError(t, err)
	assert.Equal(t, OriginFallback, tr.Origin)
	assert.Equal(t, reasonStorageUnavailable, tr.Reason)
	assert.Equal(t, "main", tr.Branch)
	assert.True(t, structure.Equal(snapshot, tr.Structure))

	_, err = f.svc.Commit(ctx, project, CommitRequest{Message: "m", Structure: sampleTree()})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = f.svc.ListBranches(ctx, project)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	vc, err := f.store.FindVersionControl(ctx, project)
	require.NoError(t, err)
	assert.True(t, structure.Equal(snapshot, vc.Branch("main").Structure), "writes are never redirected to the document store")
}
