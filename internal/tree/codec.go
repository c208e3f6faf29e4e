package tree

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
)

// Entry is the persisted and rendered shape of a node. The field names
// match what tree widgets consume, so a serialized tree can be handed to
// a renderer unchanged.
type Entry struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Type     string    `json:"type"`
	Data     EntryData `json:"data"`
	Children []Entry   `json:"children"`
}

// EntryData carries the node kind and sheet reference.
type EntryData struct {
	IsWorksheet bool   `json:"isWorksheet"`
	SheetName   string `json:"sheetName,omitempty"`
	NodeType    string `json:"nodeType,omitempty"`
}

// Kind returns the node kind encoded by the entry. isWorksheet is
// authoritative; type is only a rendering hint.
func (e Entry) Kind() Kind {
	if e.Data.IsWorksheet {
		return KindSheet
	}

	return KindFolder
}

// Payload converts the entry to a creation payload. Sheet entries
// without a sheet name fall back to their text.
func (e Entry) Payload() Payload {
	if e.Kind() == KindSheet {
		name := e.Data.SheetName
		if name == "" {
			name = e.Text
		}

		return Sheet(name)
	}

	return Folder(e.Text)
}

func (e Entry) equal(o Entry) bool {
	return e.ID == o.ID &&
		e.Text == o.Text &&
		e.Kind() == o.Kind() &&
		e.Data.SheetName == o.Data.SheetName &&
		slices.EqualFunc(e.Children, o.Children, Entry.equal)
}

func entryOf(n *Node) Entry {
	e := Entry{
		ID:       n.ID,
		Text:     n.Label,
		Type:     string(n.Kind),
		Children: []Entry{},
		Data: EntryData{
			IsWorksheet: n.Kind == KindSheet,
			SheetName:   n.SheetName,
			NodeType:    string(n.Kind),
		},
	}

	return e
}

// Export returns the whole tree as nested entries.
func (t *Tree) Export() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.exportLocked(t.roots)
}

// ExportNode returns a deep copy of the subtree rooted at id.
func (t *Tree) ExportNode(id string) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.nodes[id]; !ok {
		return Entry{}, fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	return t.exportLocked([]string{id})[0], nil
}

func (t *Tree) exportLocked(ids []string) []Entry {
	out := make([]Entry, 0, len(ids))

	for _, id := range ids {
		n, ok := t.nodes[id]
		if !ok {
			continue
		}

		e := entryOf(n)
		e.Children = t.exportLocked(n.Children)
		out = append(out, e)
	}

	return out
}

// Serialize produces the canonical persisted representation.
func (t *Tree) Serialize() ([]byte, error) {
	data, err := json.Marshal(t.Export())
	if err != nil {
		return nil, fmt.Errorf("encoding tree: %w", err)
	}

	return data, nil
}

// Deserialize rebuilds a tree from Serialize output. Empty input yields
// an empty tree. Entries without an id, or whose id repeats, get a fresh
// one. A sheet entry referencing a sheet already seen is dropped and its
// children are kept under the dropped entry's parent.
func Deserialize(data []byte) (*Tree, error) {
	t := New()

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return t, nil
	}

	var entries []Entry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("decoding tree: %w", err)
	}

	if err := t.Import(RootID, entries); err != nil {
		return nil, err
	}

	return t, nil
}

// Import inserts entries, preserving their ids where possible, as the
// last children of parentID.
func (t *Tree) Import(parentID string, entries []Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasLocked(parentID) {
		return fmt.Errorf("%w: %s", apperrors.ErrParentNotFound, parentID)
	}

	return t.importLocked(parentID, entries)
}

func (t *Tree) importLocked(parentID string, entries []Entry) error {
	for _, e := range entries {
		id, err := t.insertLocked(e.ID, parentID, e.Payload(), -1)

		switch {
		case errors.Is(err, apperrors.ErrDuplicateSheet), errors.Is(err, apperrors.ErrEmptyName):
			id = parentID
		case err != nil:
			return fmt.Errorf("importing %q: %w", e.Text, err)
		}

		if err := t.importLocked(id, e.Children); err != nil {
			return err
		}
	}

	return nil
}
