// Package workbook is the host side of the sync: a flat, ordered list of
// sheets with visibility, an active sheet and coarse change
// notifications. Memory keeps the workbook in process; DirWorkbook maps
// it onto a directory of CSV files.
package workbook

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
)

// MaxNameLength is the longest sheet name a host accepts.
const MaxNameLength = 31

// PositionEnd places a new or duplicated sheet after all others.
const PositionEnd = -1

// invalidNameChars may not appear anywhere in a sheet name.
const invalidNameChars = `:\/?*[]`

// Visibility is a sheet's visibility state on the host.
type Visibility string

const (
	Visible    Visibility = "visible"
	Hidden     Visibility = "hidden"
	VeryHidden Visibility = "veryHidden"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == Visible || v == Hidden || v == VeryHidden
}

// Sheet describes one host sheet.
type Sheet struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Visibility Visibility `json:"visibility" yaml:"visibility"`
	Position   int        `json:"position" yaml:"-"`
}

// Visible reports whether the sheet is shown on the host.
func (s Sheet) Visible() bool {
	return s.Visibility == Visible
}

// EventKind identifies a host change notification.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRenamed EventKind = "renamed"
	EventDeleted EventKind = "deleted"
)

// Event is a host change notification. SheetID is informational only:
// by the time a handler runs the host may no longer resolve it.
type Event struct {
	Kind       EventKind
	SheetID    string
	NameBefore string
	NameAfter  string
}

// Handler receives host notifications. Handlers run on a goroutine owned
// by the service and must not block for long.
type Handler func(Event)

// Service is the host spreadsheet API consumed by the sync engine. Sheets
// are addressed by name.
type Service interface {
	ListSheets(ctx context.Context) ([]Sheet, error)
	CreateSheet(ctx context.Context, name string) (Sheet, error)
	RenameSheet(ctx context.Context, name, newName string) error
	DeleteSheet(ctx context.Context, name string) error
	DuplicateSheet(ctx context.Context, name, newName string, position int) (string, error)
	SetVisibility(ctx context.Context, name string, v Visibility) error
	Activate(ctx context.Context, name string) error
	ActiveSheet(ctx context.Context) (Sheet, error)
	// Subscribe registers h for change notifications until the returned
	// function is called or ctx is done. Hosts without notification
	// support return ErrEventsUnsupported.
	Subscribe(ctx context.Context, h Handler) (func(), error)
}

// ValidateName checks name against the host's sheet naming rules.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidSheetName, apperrors.ErrEmptyName)
	}

	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return fmt.Errorf("%w: %q is %d characters, limit is %d", apperrors.ErrInvalidSheetName, name, n, MaxNameLength)
	}

	if i := strings.IndexAny(name, invalidNameChars); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", apperrors.ErrInvalidSheetName, name, name[i])
	}

	if strings.HasPrefix(name, "'") || strings.HasSuffix(name, "'") {
		return fmt.Errorf("%w: %q begins or ends with an apostrophe", apperrors.ErrInvalidSheetName, name)
	}

	return nil
}

// Names returns the names of sheets in host order.
func Names(sheets []Sheet) []string {
	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = s.Name
	}

	return names
}

// VisibleNames returns the names of visible sheets in host order.
func VisibleNames(sheets []Sheet) []string {
	names := make([]string, 0, len(sheets))
	for _, s := range sheets {
		if s.Visible() {
			names = append(names, s.Name)
		}
	}

	return names
}
