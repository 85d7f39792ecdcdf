// Package structure converts between the nested project tree edited by
// clients and the flat path->content form stored by the versioning engine.
package structure

import (
	"fmt"
	"sort"
	"strings"
)

type Type string

const (
	TypeFile   Type = "file"
	TypeFolder Type = "folder"
)

// Node is one entry of a project tree. The root node is an unnamed folder.
type Node struct {
	Name     string  `json:"name" bson:"name"`
	Type     Type    `json:"type" bson:"type"`
	Content  string  `json:"content,omitempty" bson:"content,omitempty"`
	Children []*Node `json:"children,omitempty" bson:"children,omitempty"`
}

// FlatFileSet maps '/'-joined paths to file content. Keys ending in "/"
// denote empty folders.
type FlatFileSet map[string]string

func NewRoot() *Node {
	return &Node{Type: TypeFolder}
}

func NewFile(name, content string) *Node {
	return &Node{Name: name, Type: TypeFile, Content: content}
}

func NewFolder(name string, children ...*Node) *Node {
	return &Node{Name: name, Type: TypeFolder, Children: children}
}

func (n *Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Name: n.Name, Type: n.Type, Content: n.Content}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Validate checks the well-formedness precondition of Flatten: every node
// is a file or a folder, names are non-empty without '/', sibling names are
// unique and files have no children.
func Validate(root *Node) error {
	if root == nil {
		return fmt.Errorf("structure is nil")
	}
	return validateChildren(root, "")
}

func validateChildren(n *Node, prefix string) error {
	switch n.Type {
	case TypeFile:
		if len(n.Children) > 0 {
			return fmt.Errorf("file %q has children", prefix)
		}
		return nil
	case TypeFolder:
	default:
		return fmt.Errorf("node %q has unknown type %q", prefix, n.Type)
	}
	seen := make(map[string]bool, len(n.Children))
	for _, c := range n.Children {
		if c == nil {
			return fmt.Errorf("nil entry under %q", prefix)
		}
		if c.Name == "" || c.Name == "." || c.Name == ".." || strings.Contains(c.Name, "/") {
			return fmt.Errorf("invalid name %q under %q", c.Name, prefix)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate name %q under %q", c.Name, prefix)
		}
		seen[c.Name] = true
		if err := validateChildren(c, join(prefix, c.Name)); err != nil {
			return err
		}
	}
	return nil
}

// Flatten walks the tree depth-first and joins ancestor names with '/'.
// The root's own name is not part of any path.
func Flatten(root *Node) FlatFileSet {
	files := make(FlatFileSet)
	if root == nil {
		return files
	}
	if root.Type == TypeFile {
		files[root.Name] = root.Content
		return files
	}
	flattenInto(files, root, "")
	return files
}

func flattenInto(files FlatFileSet, n *Node, prefix string) {
	for _, c := range n.Children {
		p := join(prefix, c.Name)
		switch c.Type {
		case TypeFolder:
			if len(c.Children) == 0 {
				files[p+"/"] = ""
				continue
			}
			flattenInto(files, c, p)
		case TypeFile:
			files[p] = c.Content
		}
	}
}

// Unflatten rebuilds the tree, creating intermediate folders. Siblings are
// sorted by name.
func Unflatten(files FlatFileSet) *Node {
	root := NewRoot()
	for _, p := range sortedKeys(files) {
		isDir := strings.HasSuffix(p, "/")
		parts := splitPath(p)
		if len(parts) == 0 {
			continue
		}
		dir := root
		last := len(parts) - 1
		for i, part := range parts {
			if i == last && !isDir {
				if existing := dir.Child(part); existing != nil {
					// a folder already claimed this name; keep the folder
					break
				}
				dir.Children = append(dir.Children, NewFile(part, files[p]))
				break
			}
			next := dir.Child(part)
			if next == nil {
				next = NewFolder(part)
				dir.Children = append(dir.Children, next)
			} else if next.Type == TypeFile {
				next.Type = TypeFolder
				next.Content = ""
			}
			dir = next
		}
	}
	sortTree(root)
	return root
}

// Equal reports whether two trees have the same topology and content,
// ignoring sibling order and the root's name.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return equalNode(a, b, true)
}

func equalNode(a, b *Node, root bool) bool {
	if !root && a.Name != b.Name {
		return false
	}
	if a.Type != b.Type {
		return false
	}
	if a.Type == TypeFile {
		return a.Content == b.Content
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for _, ac := range a.Children {
		bc := b.Child(ac.Name)
		if bc == nil || !equalNode(ac, bc, false) {
			return false
		}
	}
	return true
}

// Paths returns the sorted file paths of a flat set, skipping folder markers.
func (f FlatFileSet) Paths() []string {
	out := make([]string, 0, len(f))
	for p := range f {
		if strings.HasSuffix(p, "/") {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Dirs returns the sorted empty-folder markers of a flat set without the
// trailing slash.
func (f FlatFileSet) Dirs() []string {
	var out []string
	for p := range f {
		if strings.HasSuffix(p, "/") {
			out = append(out, strings.TrimSuffix(p, "/"))
		}
	}
	sort.Strings(out)
	return out
}

func sortTree(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	for _, c := range n.Children {
		if c.Type == TypeFolder {
			sortTree(c)
		}
	}
}

func sortedKeys(files FlatFileSet) []string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
