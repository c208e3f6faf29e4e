// Package tree holds the user's hierarchical organisation of workbook
// sheets: folders and sheet references under a synthetic root. It is
// pure data. Keeping the tree consistent with the host workbook is the
// job of package sheetsync.
package tree

import (
	"slices"

	"github.com/google/uuid"
)

// RootID is the synthetic root that owns all top-level nodes.
const RootID = "#"

// Kind distinguishes folders from sheet references.
type Kind string

const (
	KindFolder Kind = "folder"
	KindSheet  Kind = "sheet"
)

// Node is one element of the tree. Values returned by Tree methods are
// copies; mutate through the Tree.
type Node struct {
	ID    string
	Label string
	Kind  Kind

	// SheetName is the host sheet this node references. Empty for folders.
	SheetName string

	// Children holds child ids in the user's order.
	Children []string

	// ParentID is RootID for top-level nodes.
	ParentID string
}

// IsSheet reports whether the node references a host sheet.
func (n Node) IsSheet() bool {
	return n.Kind == KindSheet
}

func (n *Node) clone() Node {
	c := *n
	c.Children = slices.Clone(n.Children)

	return c
}

// Payload describes a node to create.
type Payload struct {
	Label     string
	Kind      Kind
	SheetName string
}

// Folder returns a payload for a folder labelled label.
func Folder(label string) Payload {
	return Payload{Label: label, Kind: KindFolder}
}

// Sheet returns a payload for a reference to the named host sheet.
func Sheet(name string) Payload {
	return Payload{Label: name, Kind: KindSheet, SheetName: name}
}

// newID generates a process-unique node id. Ids are never reused.
func newID(kind Kind) string {
	return string(kind) + "_" + uuid.NewString()
}
