// Package vnode implements the Virtual Node Tree and its expansion algorithm
// (spec.md section 4.3): a lazy tree whose shape is derived from a compiled
// path template plus on-demand crawls of the remote hierarchy.
package vnode

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/N-Coder/studip-fuse/internal/crawler"
	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/N-Coder/studip-fuse/internal/template"
	"github.com/N-Coder/studip-fuse/internal/token"
)

// Kind distinguishes directories from file leaves.
type Kind int

const (
	KindDirectory Kind = iota
	KindFileLeaf
)

// State is a node's materialization state (spec.md section 3).
type State int

const (
	Unexpanded State = iota
	Expanding
	Expanded
	Failed
)

func (s State) String() string {
	switch s {
	case Unexpanded:
		return "unexpanded"
	case Expanding:
		return "expanding"
	case Expanded:
		return "expanded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExpansionError wraps the reason a node's expansion failed
// (NodeExpansionFailed in spec.md section 7's taxonomy).
type ExpansionError struct {
	Path   string
	Reason error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("studip-fuse: expansion of %q failed: %v", e.Path, e.Reason)
}

func (e *ExpansionError) Unwrap() error { return e.Reason }

// Tree holds the root Node; parents reference children directly and no
// node holds a back-pointer beyond its own parent (spec.md section 9).
type Tree struct {
	crawler      *crawler.Crawler
	segments     []template.Segment
	genericRoots map[string]bool

	root *Node
}

// New builds the Tree's root. The root always has bindings = empty and
// pending = "all accessible files of the authenticated user" (spec.md
// section 3), represented here simply as "nothing bound yet".
func New(c *crawler.Crawler, segments []template.Segment, genericRoots map[string]bool) *Tree {
	t := &Tree{crawler: c, segments: segments, genericRoots: genericRoots}
	t.root = &Node{tree: t, name: "", segIndex: 0, kind: KindDirectory}
	return t
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// Node is one node of the Virtual Node Tree.
type Node struct {
	tree     *Tree
	parent   *Node
	name     string // display name within parent; "" for root
	segIndex int    // index of the next template segment to apply
	bindings token.Bindings
	kind     Kind
	file     *entity.File // set iff kind == KindFileLeaf

	mu       sync.Mutex
	state    State
	failErr  error
	children map[string]*Node
	order    []string // display names, sorted, stable across a run

	expandSF singleflight.Group
}

// Kind reports whether this node is a directory or a file leaf.
func (n *Node) Kind() Kind { return n.kind }

// IsDir reports whether n is a directory.
func (n *Node) IsDir() bool { return n.kind == KindDirectory }

// Name is this node's display name within its parent ("" only for root).
func (n *Node) Name() string { return n.name }

// Parent returns the owning directory node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// File returns the bound file entity for a file leaf, or nil for a directory.
func (n *Node) File() *entity.File { return n.file }

// Bindings returns the entities bound to this node by its ancestors.
func (n *Node) Bindings() token.Bindings { return n.bindings }

// State returns the node's current materialization state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// FailReason returns the recorded failure, or nil if not in Failed state.
func (n *Node) FailReason() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failErr
}

// Path renders this node's position as a '/'-joined virtual path, purely
// for diagnostics (it names the node in ExpansionError).
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	return path.Join(n.parent.Path(), n.name)
}

// KnownTokens renders every defined token under this node's bindings, for
// the studip-fuse.known-tokens extended attribute.
func (n *Node) KnownTokens() map[token.Name]string {
	return token.Render(n.bindings)
}

// Entity returns the most specific bound entity at this node, for the
// studip-fuse.json / studip-fuse.url extended attributes.
func (n *Node) Entity() entity.Entity {
	switch {
	case n.file != nil:
		return n.file
	case n.bindings.Folder != nil:
		return n.bindings.Folder
	case n.bindings.Course != nil:
		return n.bindings.Course
	case n.bindings.Semester != nil:
		return n.bindings.Semester
	default:
		return nil
	}
}

// Ensure expands this directory node if it is not already expanded, exactly
// once even under concurrent callers (spec.md section 4.3's concurrency
// discipline, implemented with a per-node singleflight.Group). Expanding an
// already-expanded node is a no-op (Testable Properties, spec.md section 8).
func (n *Node) Ensure(ctx context.Context) error {
	if n.kind == KindFileLeaf {
		return nil
	}
	_, err, _ := n.expandSF.Do("expand", func() (any, error) {
		n.mu.Lock()
		switch n.state {
		case Expanded:
			n.mu.Unlock()
			return nil, nil
		case Failed:
			reason := n.failErr
			n.mu.Unlock()
			return nil, reason
		}
		n.state = Expanding
		n.mu.Unlock()

		children, err := n.tree.expand(ctx, n)

		n.mu.Lock()
		defer n.mu.Unlock()
		if err != nil {
			n.state = Failed
			n.failErr = &ExpansionError{Path: n.Path(), Reason: err}
			return nil, n.failErr
		}
		n.children = children
		order := make([]string, 0, len(children))
		for name := range children {
			order = append(order, name)
		}
		sort.Strings(order)
		n.order = order
		n.state = Expanded
		return nil, nil
	})
	return err
}

// Children returns the directory's entries in stable, lexicographically
// sorted order (spec.md section 5, "Readdir stability"). Ensure must have
// succeeded first.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// Child looks up one named child without expanding further than necessary;
// Ensure must have succeeded first.
func (n *Node) Child(name string) (*Node, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.children[name]
	return c, ok
}

// Resolve walks the tree from the root through path components, expanding
// directories as needed, and returns ErrNotFound (ENOENT-equivalent) if any
// component is missing. A failed ancestor's error propagates: resolution
// does not bypass it (spec.md section 4.6).
func (t *Tree) Resolve(ctx context.Context, components []string) (*Node, error) {
	cur := t.root
	for _, comp := range components {
		if err := cur.Ensure(ctx); err != nil {
			return nil, err
		}
		next, ok := cur.Child(comp)
		if !ok {
			return nil, ErrNotFound
		}
		cur = next
	}
	if err := cur.parentEnsureForSelf(ctx); err != nil {
		return nil, err
	}
	return cur, nil
}

// parentEnsureForSelf ensures a resolved directory node is itself expanded
// (so its own readdir doesn't need a further round-trip) and is a no-op for
// file leaves.
func (n *Node) parentEnsureForSelf(ctx context.Context) error {
	return n.Ensure(ctx)
}

// ErrNotFound is returned by Resolve when a path component has no matching
// child; the FUSE dispatcher maps this to ENOENT.
var ErrNotFound = fmt.Errorf("studip-fuse: no such virtual path component")
