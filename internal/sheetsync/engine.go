// Package sheetsync keeps the sheet tree and the host workbook consistent.
// User intents are mirrored from the tree to the host; host change
// notifications are folded back into the tree by re-reading the host's
// sheet list rather than trusting the identifiers in the notification.
package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
)

//go:generate mockgen -source=engine.go -destination=mock_host_test.go -package=sheetsync -mock_names host=MockHost

// host is the subset of workbook.Service the engine drives. Extracted
// for testability.
type host interface {
	ListSheets(ctx context.Context) ([]workbook.Sheet, error)
	CreateSheet(ctx context.Context, name string) (workbook.Sheet, error)
	RenameSheet(ctx context.Context, name, newName string) error
	DeleteSheet(ctx context.Context, name string) error
	DuplicateSheet(ctx context.Context, name, newName string, position int) (string, error)
	SetVisibility(ctx context.Context, name string, v workbook.Visibility) error
	Activate(ctx context.Context, name string) error
	ActiveSheet(ctx context.Context) (workbook.Sheet, error)
}

// Engine applies structural changes to the tree and the host. It is not
// safe for concurrent use; the orchestrator's loop is its only caller.
type Engine struct {
	host      host
	tree      *tree.Tree
	clipboard []tree.Entry
	logger    *slog.Logger
}

// NewEngine returns an engine over t. A nil tree starts empty.
func NewEngine(h host, t *tree.Tree, logger *slog.Logger) *Engine {
	if t == nil {
		t = tree.New()
	}

	return &Engine{
		host:   h,
		tree:   t,
		logger: logger,
	}
}

// Tree returns the tree the engine mutates.
func (e *Engine) Tree() *tree.Tree {
	return e.tree
}

// SetTree replaces the tree, for example after loading a persisted one.
// The clipboard survives.
func (e *Engine) SetTree(t *tree.Tree) {
	e.tree = t
}

// listSheets always asks the host; a cached list would make name
// resolution and orphan matching wrong after external changes.
func (e *Engine) listSheets(ctx context.Context) ([]workbook.Sheet, error) {
	sheets, err := e.host.ListSheets(ctx)
	if err != nil {
		return nil, hostErr("listing sheets", err)
	}

	return sheets, nil
}

// hostErr wraps a host failure. Errors the host already classified keep
// their sentinel; everything else becomes ErrHostUnavailable.
func hostErr(op string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrSheetNotFound),
		errors.Is(err, apperrors.ErrSheetExists),
		errors.Is(err, apperrors.ErrInvalidSheetName),
		errors.Is(err, apperrors.ErrLastVisibleSheet),
		errors.Is(err, apperrors.ErrHostUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrHostUnavailable, err)
	}
}

// dropStale removes a node that still references name right after the
// host created a sheet under that name. The old sheet went away without
// a notification reaching the tree, so the node is an orphan.
func (e *Engine) dropStale(name string) error {
	n, ok := e.tree.FindSheet(name)
	if !ok {
		return nil
	}

	if err := e.tree.Delete(n.ID); err != nil {
		return fmt.Errorf("removing stale node for %q: %w", name, err)
	}

	e.logger.Info("stale node dropped",
		slog.String("sheet", name),
		slog.String("node", n.ID),
	)

	return nil
}

// parentOrRoot maps the empty id to the root.
func parentOrRoot(id string) string {
	if id == "" {
		return tree.RootID
	}

	return id
}

func (e *Engine) node(id string) (tree.Node, error) {
	n, ok := e.tree.Get(id)
	if !ok {
		return tree.Node{}, fmt.Errorf("%w: %s", apperrors.ErrNodeNotFound, id)
	}

	return n, nil
}
