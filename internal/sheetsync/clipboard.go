package sheetsync

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/naming"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
)

// Copy replaces the clipboard with deep copies of the given subtrees.
// Nodes nested under another selected node are copied once, as part of
// their ancestor. Unknown ids are skipped.
func (e *Engine) Copy(nodeIDs []string) (int, error) {
	var clip []tree.Entry

	for _, id := range e.topLevel(nodeIDs, &apperrors.BatchError{}) {
		entry, err := e.tree.ExportNode(id)
		if err != nil {
			continue
		}

		clip = append(clip, entry)
	}

	if len(clip) == 0 {
		return 0, apperrors.ErrNothingToCopy
	}

	e.clipboard = clip

	return len(clip), nil
}

// PasteResult counts what a paste created.
type PasteResult struct {
	NodeIDs []string
	Sheets  int
	Folders int
}

// Paste duplicates the clipboard as the last children of targetID (the
// root when empty). Sheets are physically duplicated on the host under
// "<name> Copy", "<name> Copy (2)" and so on; folders become
// "<label> Copy" and their children are pasted into them depth-first in
// their original order. Failed items are reported in a *BatchError and
// their subtrees skipped; everything else stays pasted.
func (e *Engine) Paste(ctx context.Context, targetID string) (PasteResult, error) {
	var res PasteResult

	if len(e.clipboard) == 0 {
		return res, apperrors.ErrNothingToPaste
	}

	targetID = parentOrRoot(targetID)
	if !e.tree.Has(targetID) {
		return res, fmt.Errorf("pasting: %w: %s", apperrors.ErrNodeNotFound, targetID)
	}

	batch := &apperrors.BatchError{Op: "paste"}

	for _, entry := range e.clipboard {
		if id, ok := e.pasteEntry(ctx, entry, targetID, batch, &res); ok {
			res.NodeIDs = append(res.NodeIDs, id)
		}
	}

	if err := batch.ErrOrNil(); err != nil {
		e.logger.Warn("paste partially failed", slog.String("error", err.Error()))
		return res, err
	}

	return res, nil
}

func (e *Engine) pasteEntry(ctx context.Context, entry tree.Entry, parentID string, batch *apperrors.BatchError, res *PasteResult) (string, bool) {
	var (
		id  string
		err error
	)

	p := entry.Payload()

	switch p.Kind {
	case tree.KindSheet:
		batch.Total++

		id, err = e.duplicateSheet(ctx, p.SheetName, parentID)
		if err != nil {
			batch.Add(p.SheetName, err)
			return "", false
		}

		res.Sheets++
	default:
		id, err = e.tree.Create(parentID, tree.Folder(naming.FolderCopyLabel(p.Label)))
		if err != nil {
			batch.Total++
			batch.Add(p.Label, err)

			return "", false
		}

		res.Folders++
	}

	for _, child := range entry.Children {
		e.pasteEntry(ctx, child, id, batch, res)
	}

	return id, true
}

// duplicateSheet copies name on the host to the end of the workbook under
// a collision-free copy name and adds a node for the copy under
// parentID.
func (e *Engine) duplicateSheet(ctx context.Context, name, parentID string) (string, error) {
	sheets, err := e.listSheets(ctx)
	if err != nil {
		return "", err
	}

	newName := naming.CopyName(name, workbook.Names(sheets))
	if err := workbook.ValidateName(newName); err != nil {
		return "", err
	}

	got, err := e.host.DuplicateSheet(ctx, name, newName, workbook.PositionEnd)
	if err != nil {
		return "", hostErr(fmt.Sprintf("duplicating sheet %q", name), err)
	}

	if err := e.dropStale(got); err != nil {
		return "", err
	}

	id, err := e.tree.Create(parentID, tree.Sheet(got))
	if err != nil {
		return "", fmt.Errorf("adding node for copy %q: %w", got, err)
	}

	e.logger.Debug("sheet duplicated", slog.String("from", name), slog.String("to", got))

	return id, nil
}
