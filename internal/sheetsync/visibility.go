package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/naming"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
)

// errNotASheet is returned when a sheet-only action targets a folder.
var errNotASheet = errors.New("node is not a sheet")

// Navigate activates the sheet behind a sheet node, unhiding it first if
// needed. Folders have nothing to activate and return an empty name.
func (e *Engine) Navigate(ctx context.Context, nodeID string) (string, error) {
	n, err := e.node(nodeID)
	if err != nil {
		return "", fmt.Errorf("navigating: %w", err)
	}

	if !n.IsSheet() {
		return "", nil
	}

	sheets, err := e.listSheets(ctx)
	if err != nil {
		return "", err
	}

	var target *workbook.Sheet

	for i := range sheets {
		if naming.Equal(sheets[i].Name, n.SheetName) {
			target = &sheets[i]
			break
		}
	}

	if target == nil {
		return "", fmt.Errorf("%w: %q may have been deleted", apperrors.ErrSheetNotFound, n.SheetName)
	}

	if !target.Visible() {
		if err := e.host.SetVisibility(ctx, target.Name, workbook.Visible); err != nil {
			return "", hostErr(fmt.Sprintf("unhiding sheet %q", target.Name), err)
		}
	}

	if err := e.host.Activate(ctx, target.Name); err != nil {
		return "", hostErr(fmt.Sprintf("activating sheet %q", target.Name), err)
	}

	return target.Name, nil
}

// HideSheet hides the sheet behind a sheet node. The host refuses to
// hide its last visible sheet (ErrLastVisibleSheet). The node stays in
// the tree.
func (e *Engine) HideSheet(ctx context.Context, nodeID string) error {
	n, err := e.node(nodeID)
	if err != nil {
		return fmt.Errorf("hiding: %w", err)
	}

	if !n.IsSheet() {
		return fmt.Errorf("hiding %q: %w", n.Label, errNotASheet)
	}

	if err := e.host.SetVisibility(ctx, n.SheetName, workbook.Hidden); err != nil {
		return hostErr(fmt.Sprintf("hiding sheet %q", n.SheetName), err)
	}

	return nil
}

// HideResult describes a hide-others run.
type HideResult struct {
	Hidden int
	Active string
	Plan   Plan
}

// HideOthers hides every visible sheet except the active one, then runs a
// full pass that treats hidden sheets as absent so their nodes drop out
// of the tree.
func (e *Engine) HideOthers(ctx context.Context) (HideResult, error) {
	active, err := e.host.ActiveSheet(ctx)
	if err != nil {
		return HideResult{}, hostErr("reading active sheet", err)
	}

	sheets, err := e.listSheets(ctx)
	if err != nil {
		return HideResult{}, err
	}

	res := HideResult{Active: active.Name}
	batch := &apperrors.BatchError{Op: "hide"}

	for _, s := range sheets {
		if !s.Visible() || s.Name == active.Name {
			continue
		}

		batch.Total++

		if err := e.host.SetVisibility(ctx, s.Name, workbook.Hidden); err != nil {
			batch.Add(s.Name, hostErr("hiding sheet", err))
			continue
		}

		res.Hidden++
	}

	res.Plan, err = e.reconcile(ctx, DiffOptions{DropHidden: true})
	if err != nil {
		return res, err
	}

	e.logger.Info("other sheets hidden",
		slog.Int("hidden", res.Hidden),
		slog.String("active", res.Active),
	)

	return res, batch.ErrOrNil()
}
