package tree

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
)

// Tree is a rooted forest of folder and sheet nodes.
//
// All structural changes are made by a single owner (the orchestrator's
// event loop). The mutex exists so the persistence timer can serialize
// a consistent snapshot while the owner keeps working.
type Tree struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	roots  []string
	sheets map[string]string // sheet name -> node id
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		nodes:  make(map[string]*Node),
		sheets: make(map[string]string),
	}
}

// Len returns the number of nodes, excluding the root.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.nodes)
}

// Get returns a copy of the node with the given id.
func (t *Tree) Get(id string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}

	return n.clone(), true
}

// Has reports whether id is an existing node or the root.
func (t *Tree) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.hasLocked(id)
}

func (t *Tree) hasLocked(id string) bool {
	if id == RootID {
		return true
	}

	_, ok := t.nodes[id]

	return ok
}

// Roots returns the ids of the top-level nodes in order.
func (t *Tree) Roots() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return slices.Clone(t.roots)
}

// Children returns the child ids of id (RootID for the top level).
func (t *Tree) Children(id string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, err := t.childrenLocked(id)
	if err != nil {
		return nil, err
	}

	return slices.Clone(*c), nil
}

func (t *Tree) childrenLocked(id string) (*[]string, error) {
	if id == RootID {
		return &t.roots, nil
	}

	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	return &n.Children, nil
}

// FindSheet returns the node referencing the named sheet (exact match).
func (t *Tree) FindSheet(sheetName string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.sheets[sheetName]
	if !ok {
		return Node{}, false
	}

	return t.nodes[id].clone(), true
}

// SheetNames returns every referenced sheet name in pre-order.
func (t *Tree) SheetNames() []string {
	var names []string
	for n := range t.Find(Node.IsSheet) {
		names = append(names, n.SheetName)
	}

	return names
}

// Create inserts a node as the last child of parentID.
func (t *Tree) Create(parentID string, p Payload) (string, error) {
	return t.CreateAt(parentID, p, -1)
}

// CreateAt inserts a node under parentID at position. A negative or
// out-of-range position appends.
func (t *Tree) CreateAt(parentID string, p Payload, position int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insertLocked("", parentID, p, position)
}

func (t *Tree) insertLocked(id, parentID string, p Payload, position int) (string, error) {
	if !t.hasLocked(parentID) {
		return "", fmt.Errorf("%w: %s", apperrors.ErrParentNotFound, parentID)
	}

	switch p.Kind {
	case KindSheet:
		if strings.TrimSpace(p.SheetName) == "" {
			return "", fmt.Errorf("sheet node: %w", apperrors.ErrEmptyName)
		}

		if owner, dup := t.sheets[p.SheetName]; dup {
			return "", fmt.Errorf("%w: %q (node %s)", apperrors.ErrDuplicateSheet, p.SheetName, owner)
		}

		// A sheet node always displays its sheet's name.
		p.Label = p.SheetName
	case KindFolder:
		p.SheetName = ""
	default:
		return "", fmt.Errorf("unknown node kind %q", p.Kind)
	}

	if id == "" || t.hasLocked(id) {
		id = newID(p.Kind)
	}

	n := &Node{
		ID:        id,
		Label:     p.Label,
		Kind:      p.Kind,
		SheetName: p.SheetName,
		ParentID:  parentID,
	}

	siblings, _ := t.childrenLocked(parentID)
	*siblings = insertAt(*siblings, id, position)

	t.nodes[id] = n
	if n.Kind == KindSheet {
		t.sheets[n.SheetName] = id
	}

	return id, nil
}

// Move re-parents id under newParentID at position (interpreted after
// the node is detached; negative or out-of-range appends). Moving a
// node onto itself or into its own subtree fails with ErrCycleDetected.
// A move to the node's current place is a no-op.
func (t *Tree) Move(id, newParentID string, position int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	if !t.hasLocked(newParentID) {
		return fmt.Errorf("%w: %s", apperrors.ErrParentNotFound, newParentID)
	}

	if newParentID == id || t.isDescendantLocked(newParentID, id) {
		return fmt.Errorf("%w: %s into %s", apperrors.ErrCycleDetected, id, newParentID)
	}

	oldSiblings, _ := t.childrenLocked(n.ParentID)
	oldIndex := slices.Index(*oldSiblings, id)

	if n.ParentID == newParentID {
		remaining := len(*oldSiblings) - 1
		target := position
		if target < 0 || target > remaining {
			target = remaining
		}

		if target == oldIndex {
			return nil
		}
	}

	*oldSiblings = slices.Delete(*oldSiblings, oldIndex, oldIndex+1)

	newSiblings, _ := t.childrenLocked(newParentID)
	*newSiblings = insertAt(*newSiblings, id, position)
	n.ParentID = newParentID

	return nil
}

// IsDescendant reports whether id lies strictly inside ancestorID's
// subtree. Every node is a descendant of RootID.
func (t *Tree) IsDescendant(id, ancestorID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.isDescendantLocked(id, ancestorID)
}

func (t *Tree) isDescendantLocked(id, ancestorID string) bool {
	cur, ok := t.nodes[id]
	for ok {
		if cur.ParentID == ancestorID {
			return true
		}

		cur, ok = t.nodes[cur.ParentID]
	}

	return false
}

// Delete removes id and its entire subtree.
func (t *Tree) Delete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	siblings, _ := t.childrenLocked(n.ParentID)
	if i := slices.Index(*siblings, id); i >= 0 {
		*siblings = slices.Delete(*siblings, i, i+1)
	}

	t.dropLocked(n)

	return nil
}

func (t *Tree) dropLocked(n *Node) {
	for _, c := range n.Children {
		if child, ok := t.nodes[c]; ok {
			t.dropLocked(child)
		}
	}

	if n.Kind == KindSheet && t.sheets[n.SheetName] == n.ID {
		delete(t.sheets, n.SheetName)
	}

	delete(t.nodes, n.ID)
}

// Rename changes a node's label only. For sheet nodes callers keep the
// sheet name in step with SetSheetName once the host confirms.
func (t *Tree) Rename(id, label string) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("renaming %s: %w", id, apperrors.ErrEmptyName)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	n.Label = label

	return nil
}

// SetSheetName points a sheet node at name and sets its label to match.
func (t *Tree) SetSheetName(id, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("retargeting %s: %w", id, apperrors.ErrEmptyName)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	if n.Kind != KindSheet {
		return fmt.Errorf("node %s is not a sheet", id)
	}

	if owner, dup := t.sheets[name]; dup && owner != id {
		return fmt.Errorf("%w: %q (node %s)", apperrors.ErrDuplicateSheet, name, owner)
	}

	if t.sheets[n.SheetName] == id {
		delete(t.sheets, n.SheetName)
	}

	n.SheetName = name
	n.Label = name
	t.sheets[name] = id

	return nil
}

// Find lazily yields copies of the nodes matching pred in pre-order,
// following each parent's child order. The lock is held only while
// stepping, so the caller may mutate the tree between yields; nodes
// removed in the meantime are skipped.
func (t *Tree) Find(pred func(Node) bool) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		t.mu.RLock()
		stack := reversed(t.roots)
		t.mu.RUnlock()

		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			t.mu.RLock()
			n, ok := t.nodes[id]
			var c Node
			if ok {
				c = n.clone()
			}
			t.mu.RUnlock()

			if !ok {
				continue
			}

			stack = append(stack, reversed(c.Children)...)

			if pred != nil && !pred(c) {
				continue
			}

			if !yield(c) {
				return
			}
		}
	}
}

// All yields every node in pre-order.
func (t *Tree) All() iter.Seq[Node] {
	return t.Find(nil)
}

// Walk visits nodes depth-first in pre-order with their depth (0 for
// top-level). Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(n Node, depth int) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var visit func(ids []string, depth int)
	visit = func(ids []string, depth int) {
		for _, id := range ids {
			n, ok := t.nodes[id]
			if !ok {
				continue
			}

			if fn(n.clone(), depth) {
				visit(n.Children, depth+1)
			}
		}
	}

	visit(t.roots, 0)
}

// Subtree returns the ids of id and all its descendants in pre-order.
func (t *Tree) Subtree(id string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	var ids []string

	var visit func(n *Node)
	visit = func(n *Node) {
		ids = append(ids, n.ID)
		for _, c := range n.Children {
			if child, ok := t.nodes[c]; ok {
				visit(child)
			}
		}
	}
	visit(n)

	return ids, nil
}

// Outline renders the tree as indented text, one node per line.
// Folders end with "/".
func (t *Tree) Outline() string {
	var b strings.Builder

	t.Walk(func(n Node, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))

		if n.Kind == KindFolder {
			b.WriteString(n.Label + "/")
		} else {
			b.WriteString(n.Label)
		}

		b.WriteByte('\n')

		return true
	})

	return b.String()
}

// Clone returns a deep copy with identical ids.
func (t *Tree) Clone() *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c := New()
	c.roots = slices.Clone(t.roots)

	for id, n := range t.nodes {
		cn := n.clone()
		c.nodes[id] = &cn
	}

	for name, id := range t.sheets {
		c.sheets[name] = id
	}

	return c
}

// Equal reports whether both trees have the same nodes, in the same
// places, with the same ids, labels, kinds and sheet names.
func (t *Tree) Equal(other *Tree) bool {
	return slices.EqualFunc(t.Export(), other.Export(), Entry.equal)
}

func insertAt(ids []string, id string, position int) []string {
	if position < 0 || position > len(ids) {
		return append(ids, id)
	}

	return slices.Insert(ids, position, id)
}

func reversed(ids []string) []string {
	r := slices.Clone(ids)
	slices.Reverse(r)

	return r
}
