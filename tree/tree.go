// Package tree implements the Folder Tree Index (C5): an in-memory,
// path-keyed file tree with a single writer and many concurrent readers,
// exposing copy-on-write snapshots so a reader's view never changes
// underneath it mid-traversal.
package tree

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/crypto"
)

// FileEntry describes one file node: its full hash, short hash (for the
// object-store sidecar naming convention), size, and modification time.
type FileEntry struct {
	Path    string
	Hash    string
	Short   string
	Size    int64
	ModTime time.Time
}

// node is an immutable tree node. Mutation never modifies a published
// node in place; it builds replacement nodes along the path from the
// root and swaps the root pointer, so any previously taken snapshot
// keeps seeing its own, unchanged, tree.
type node struct {
	name     string
	isDir    bool
	children []*node // sorted by name, giving the "ordered map" the design calls for
	file     *FileEntry
}

func (n *node) child(name string) (*node, int) {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].name >= name })
	if i < len(n.children) && n.children[i].name == name {
		return n.children[i], i
	}
	return nil, i
}

// withChild returns a copy of n with child replacing (or inserted at)
// the position for its name.
func (n *node) withChild(child *node) *node {
	existing, i := n.child(child.name)
	children := make([]*node, len(n.children))
	copy(children, n.children)
	if existing != nil {
		children[i] = child
	} else {
		children = append(children, nil)
		copy(children[i+1:], children[i:])
		children[i] = child
	}
	return &node{name: n.name, isDir: true, children: children}
}

// withoutChild returns a copy of n with the named child removed.
func (n *node) withoutChild(name string) *node {
	existing, i := n.child(name)
	if existing == nil {
		return n
	}
	children := make([]*node, 0, len(n.children)-1)
	children = append(children, n.children[:i]...)
	children = append(children, n.children[i+1:]...)
	return &node{name: n.name, isDir: true, children: children}
}

// Tree is the Folder Tree Index. Writes are serialized by writeMu; the
// root is published through an atomic pointer so Snapshot never blocks
// on a writer and never observes a partially built tree.
type Tree struct {
	writeMu sync.Mutex
	root    atomic.Pointer[node]
}

// New returns an empty Tree.
func New() *Tree {
	t := &Tree{}
	t.root.Store(&node{isDir: true})
	return t
}

// SnapshotHandle is an immutable view of the tree rooted at a path
// prefix, captured at the moment Snapshot was called.
type SnapshotHandle struct {
	root   *node
	prefix string
}

// Snapshot captures the current tree state under prefix ("" for the
// whole tree). The returned handle is unaffected by subsequent Put or
// Remove calls.
func (t *Tree) Snapshot(prefix string) SnapshotHandle {
	return SnapshotHandle{root: t.root.Load(), prefix: path.Clean("/" + prefix)}
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Put inserts or replaces the file at path with entry, creating any
// missing intermediate directories.
func (t *Tree) Put(filePath string, entry FileEntry) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Put",
		"package":  "tree",
		"path":     filePath,
	})

	segments := splitPath(filePath)
	if len(segments) == 0 {
		return fmt.Errorf("tree: empty path")
	}
	entry.Path = strings.Join(segments, "/")

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	newRoot := insert(t.root.Load(), segments, entry)
	t.root.Store(newRoot)

	logger.WithFields(logrus.Fields{
		"hash": entry.Hash,
		"size": entry.Size,
	}).Debug("tree entry written")
	return nil
}

// insert rebuilds the path from root to the leaf holding entry, copying
// every node along the way and leaving sibling subtrees shared.
func insert(n *node, segments []string, entry FileEntry) *node {
	if len(segments) == 1 {
		leaf := &node{name: segments[0], file: &entry}
		return n.withChild(leaf)
	}
	head, rest := segments[0], segments[1:]
	existing, _ := n.child(head)
	if existing == nil || !existing.isDir {
		existing = &node{name: head, isDir: true}
	}
	return n.withChild(insert(existing, rest, entry))
}

// Remove deletes the file at path, if present.
func (t *Tree) Remove(filePath string) error {
	segments := splitPath(filePath)
	if len(segments) == 0 {
		return fmt.Errorf("tree: empty path")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	newRoot, removed := remove(t.root.Load(), segments)
	if !removed {
		return fmt.Errorf("tree: path %s not found", filePath)
	}
	t.root.Store(newRoot)
	return nil
}

func remove(n *node, segments []string) (*node, bool) {
	head := segments[0]
	existing, _ := n.child(head)
	if existing == nil {
		return n, false
	}
	if len(segments) == 1 {
		return n.withoutChild(head), true
	}
	updated, ok := remove(existing, segments[1:])
	if !ok {
		return n, false
	}
	return n.withChild(updated), true
}

// descend walks from root through prefix, returning the node at that
// path, or nil if no such path exists.
func descend(root *node, prefix string) *node {
	n := root
	for _, seg := range splitPath(prefix) {
		child, _ := n.child(seg)
		if child == nil {
			return nil
		}
		n = child
	}
	return n
}

// List returns every file under handle's prefix, depth-first with each
// directory's entries in name order (so "a/b" precedes "a.txt").
func (h SnapshotHandle) List() []FileEntry {
	start := descend(h.root, h.prefix)
	if start == nil {
		return nil
	}
	var out []FileEntry
	collect(start, &out)
	return out
}

func collect(n *node, out *[]FileEntry) {
	if !n.isDir {
		*out = append(*out, *n.file)
		return
	}
	for _, c := range n.children {
		collect(c, out)
	}
}

// HashOf returns the hash recorded for filePath within handle, and
// whether that path exists as a file.
func (h SnapshotHandle) HashOf(filePath string) (string, bool) {
	full := path.Join(h.prefix, filePath)
	n := descend(h.root, full)
	if n == nil || n.isDir {
		return "", false
	}
	return n.file.Hash, true
}

// NewFileEntry derives a FileEntry from file content, computing the
// object-store hash/short-hash pair via crypto.FileHash.
func NewFileEntry(filePath string, data []byte, modTime time.Time) FileEntry {
	full, short := crypto.FileHash(data)
	return FileEntry{
		Path:    filePath,
		Hash:    full,
		Short:   short,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
}
