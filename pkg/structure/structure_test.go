package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Node {
	root := NewRoot()
	root.Name = "demo"
	root.Children = []*Node{
		NewFile("README.md", "# demo"),
		NewFolder("src",
			NewFile("main.go", "package main"),
			NewFolder("util", NewFile("strings.go", "package util")),
			NewFolder("empty"),
		),
		NewFile("blank.txt", ""),
	}
	return root
}

func TestFlatten(t *testing.T) {
	files := Flatten(sampleTree())

	assert.Equal(t, FlatFileSet{
		"README.md":           "# demo",
		"src/main.go":         "package main",
		"src/util/strings.go": "package util",
		"src/empty/":          "",
		"blank.txt":           "",
	}, files)
	assert.Equal(t, []string{"README.md", "blank.txt", "src/main.go", "src/util/strings.go"}, files.Paths())
	assert.Equal(t, []string{"src/empty"}, files.Dirs())
}

func TestRoundTrip(t *testing.T) {
	trees := map[string]*Node{
		"sample":      sampleTree(),
		"empty root":  NewRoot(),
		"single file": {Type: TypeFolder, Children: []*Node{NewFile("a.txt", "hello")}},
		"deep": {Type: TypeFolder, Children: []*Node{
			NewFolder("a", NewFolder("b", NewFolder("c", NewFile("d.txt", "deep")))),
		}},
		"only empty folders": {Type: TypeFolder, Children: []*Node{NewFolder("x"), NewFolder("y")}},
	}

	for name, tree := range trees {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, Validate(tree))
			back := Unflatten(Flatten(tree))
			assert.True(t, Equal(tree, back), "round trip changed the tree")
		})
	}
}

func TestUnflatten_BuildsIntermediateFolders(t *testing.T) {
	root := Unflatten(FlatFileSet{"a/b/c.txt": "x", "a/d.txt": ""})

	a := root.Child("a")
	require.NotNil(t, a)
	assert.True(t, a.IsFolder())
	b := a.Child("b")
	require.NotNil(t, b)
	assert.True(t, b.IsFolder())
	assert.Equal(t, "x", b.Child("c.txt").Content)
	assert.Equal(t, TypeFile, a.Child("d.txt").Type)
	assert.Equal(t, "", a.Child("d.txt").Content)
}

func TestUnflatten_SortsSiblings(t *testing.T) {
	root := Unflatten(FlatFileSet{"z.txt": "", "a.txt": "", "m/": ""})
	names := []string{}
	for _, c := range root.Children {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"a.txt", "m", "z.txt"}, names)
}

func TestEqual(t *testing.T) {
	a := sampleTree()
	b := sampleTree()
	b.Children[0], b.Children[2] = b.Children[2], b.Children[0]
	assert.True(t, Equal(a, b), "sibling order must not matter")

	b.Child("src").Child("main.go").Content = "changed"
	assert.False(t, Equal(a, b))

	c := sampleTree()
	c.Child("src").Child("empty").Type = TypeFile
	assert.False(t, Equal(a, c))

	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(a, nil))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		tree *Node
	}{
		{"nil", nil},
		{"duplicate siblings", NewFolder("", NewFile("a", ""), NewFile("a", ""))},
		{"slash in name", NewFolder("", NewFile("a/b", ""))},
		{"empty name", NewFolder("", NewFile("", ""))},
		{"file with children", NewFolder("", &Node{Name: "f", Type: TypeFile, Children: []*Node{NewFile("x", "")}})},
		{"untyped folder", NewFolder("", &Node{Name: "src", Children: []*Node{NewFile("main.go", "")}})},
		{"unknown type", NewFolder("", &Node{Name: "src", Type: "directory", Children: []*Node{NewFile("main.go", "")}})},
		{"untyped root", &Node{Children: []*Node{NewFile("a.txt", "")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate(tt.tree))
		})
	}
}

func TestFlattenSkipsUnknownTypes(t *testing.T) {
	tree := NewFolder("",
		NewFile("a.txt", "a"),
		&Node{Name: "src", Children: []*Node{NewFile("main.go", "package main")}},
	)

	assert.Equal(t, FlatFileSet{"a.txt": "a"}, Flatten(tree))
}

func TestClone(t *testing.T) {
	a := sampleTree()
	b := a.Clone()
	b.Child("src").Child("main.go").Content = "mutated"
	assert.Equal(t, "package main", a.Child("src").Child("main.go").Content)
}
