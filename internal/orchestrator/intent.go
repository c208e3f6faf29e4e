package orchestrator

import (
	"fmt"
	"slices"
)

// Kind names a user intent.
type Kind string

const (
	KindCreateFolder Kind = "create_folder"
	KindCreateSheet  Kind = "create_sheet"
	KindRename       Kind = "rename"
	KindDelete       Kind = "delete"
	KindMove         Kind = "move"
	KindMoveToRoot   Kind = "move_to_root"
	KindCopy         Kind = "copy"
	KindPaste        Kind = "paste"
	KindRefresh      Kind = "refresh"
	KindSave         Kind = "save"
	KindHideOthers   Kind = "hide_others"
	KindHide         Kind = "hide"
	KindNavigate     Kind = "navigate"
	KindSelect       Kind = "select"
)

var kinds = []Kind{
	KindCreateFolder, KindCreateSheet, KindRename, KindDelete, KindMove,
	KindMoveToRoot, KindCopy, KindPaste, KindRefresh, KindSave,
	KindHideOthers, KindHide, KindNavigate, KindSelect,
}

// Kinds returns every intent kind the orchestrator accepts.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

// Intent is one user request. Which fields matter depends on Kind:
//
//	create_folder, create_sheet  Parent, Name
//	rename                       Node, Name
//	delete, copy                 Nodes (Force keeps going past host failures)
//	move                         Node, Parent, Position (nil appends)
//	paste                        Parent
//	move_to_root, hide,
//	navigate, select             Node
type Intent struct {
	Kind     Kind     `json:"op"`
	Node     string   `json:"node,omitempty"`
	Nodes    []string `json:"nodes,omitempty"`
	Parent   string   `json:"parent,omitempty"`
	Name     string   `json:"name,omitempty"`
	Position *int     `json:"position,omitempty"`
	Force    bool     `json:"force,omitempty"`
}

// Validate checks that the fields Kind needs are present.
func (in Intent) Validate() error {
	switch in.Kind {
	case KindCreateFolder, KindCreateSheet:
		// Empty names are rejected by the engine with ErrEmptyName.
		return nil
	case KindRename, KindMove, KindMoveToRoot, KindHide, KindNavigate, KindSelect:
		if in.Node == "" {
			return fmt.Errorf("%s: node is required", in.Kind)
		}
	case KindDelete, KindCopy:
		// An empty selection is reported as a warning, not rejected here.
		return nil
	case KindPaste, KindRefresh, KindSave, KindHideOthers:
		return nil
	default:
		return fmt.Errorf("unknown intent %q", in.Kind)
	}

	return nil
}

// Level classifies a user-facing message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is a short user-facing notice.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Result is what an intent produced.
type Result struct {
	Message Message `json:"message"`

	// NodeIDs lists nodes created by the intent, if any.
	NodeIDs []string `json:"nodeIds,omitempty"`

	// Sheet is the host sheet an intent touched, when there is one.
	Sheet string `json:"sheet,omitempty"`

	// Changed reports whether the tree was mutated.
	Changed bool `json:"changed"`
}
