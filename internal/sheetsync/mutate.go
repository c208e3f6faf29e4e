package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/naming"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
)

// Created describes a sheet created through the engine.
type Created struct {
	NodeID    string
	Name      string
	Requested string
}

// Adjusted reports whether the requested name was taken and a suffixed
// name was used instead.
func (c Created) Adjusted() bool {
	return c.Name != c.Requested
}

// CreateSheet creates a host sheet under a collision-free version of
// name, activates it and adds a sheet node as the last child of
// parentID. If the host refuses, the tree is not touched.
func (e *Engine) CreateSheet(ctx context.Context, parentID, name string) (Created, error) {
	parentID = parentOrRoot(parentID)
	name = strings.TrimSpace(name)

	if name == "" {
		return Created{}, fmt.Errorf("creating sheet: %w", apperrors.ErrEmptyName)
	}

	if !e.tree.Has(parentID) {
		return Created{}, fmt.Errorf("creating sheet: %w: %s", apperrors.ErrParentNotFound, parentID)
	}

	sheets, err := e.listSheets(ctx)
	if err != nil {
		return Created{}, err
	}

	final := naming.ResolveUnique(name, workbook.Names(sheets))
	if err := workbook.ValidateName(final); err != nil {
		return Created{}, fmt.Errorf("creating sheet: %w", err)
	}

	if _, err := e.host.CreateSheet(ctx, final); err != nil {
		return Created{}, hostErr(fmt.Sprintf("creating sheet %q", final), err)
	}

	if err := e.host.Activate(ctx, final); err != nil {
		e.logger.Warn("activating new sheet",
			slog.String("sheet", final),
			slog.String("error", err.Error()),
		)
	}

	if err := e.dropStale(final); err != nil {
		return Created{}, err
	}

	id, err := e.tree.Create(parentID, tree.Sheet(final))
	if err != nil {
		return Created{}, fmt.Errorf("adding node for sheet %q: %w", final, err)
	}

	e.logger.Info("sheet created",
		slog.String("sheet", final),
		slog.String("node", id),
		slog.String("parent", parentID),
	)

	return Created{NodeID: id, Name: final, Requested: name}, nil
}

// CreateFolder adds a folder as the last child of parentID. Folders have
// no host counterpart.
func (e *Engine) CreateFolder(parentID, label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("creating folder: %w", apperrors.ErrEmptyName)
	}

	id, err := e.tree.Create(parentOrRoot(parentID), tree.Folder(label))
	if err != nil {
		return "", fmt.Errorf("creating folder: %w", err)
	}

	return id, nil
}

// RenameNode renames a node. Folders are renamed in the tree only. A
// sheet node is renamed on the host first; the rename is rejected
// before any host call if another sheet already uses the name. On
// success the node's label and sheet name both equal the new name.
func (e *Engine) RenameNode(ctx context.Context, nodeID, newLabel string) error {
	n, err := e.node(nodeID)
	if err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	newLabel = strings.TrimSpace(newLabel)
	if newLabel == "" {
		return fmt.Errorf("renaming: %w", apperrors.ErrEmptyName)
	}

	if !n.IsSheet() {
		return e.tree.Rename(nodeID, newLabel)
	}

	if newLabel == n.SheetName {
		return nil
	}

	if err := workbook.ValidateName(newLabel); err != nil {
		return fmt.Errorf("renaming %q: %w", n.SheetName, err)
	}

	sheets, err := e.listSheets(ctx)
	if err != nil {
		return err
	}

	others := make([]string, 0, len(sheets))
	for _, s := range sheets {
		if s.Name != n.SheetName {
			others = append(others, s.Name)
		}
	}

	if naming.Exists(newLabel, others) {
		return fmt.Errorf("%w: %q", apperrors.ErrNameCollision, newLabel)
	}

	if err := e.host.RenameSheet(ctx, n.SheetName, newLabel); err != nil {
		if errors.Is(err, apperrors.ErrSheetExists) {
			return fmt.Errorf("%w: %q", apperrors.ErrNameCollision, newLabel)
		}

		return hostErr(fmt.Sprintf("renaming sheet %q", n.SheetName), err)
	}

	if err := e.tree.SetSheetName(nodeID, newLabel); err != nil {
		return fmt.Errorf("updating node after rename: %w", err)
	}

	e.logger.Info("sheet renamed",
		slog.String("from", n.SheetName),
		slog.String("to", newLabel),
	)

	return nil
}

// DeleteOptions controls multi-node deletes.
type DeleteOptions struct {
	// ProceedOnFailure removes a targeted node even when deleting one of
	// its sheets on the host failed.
	ProceedOnFailure bool
}

// DeleteResult counts what a delete removed. Nodes counts targeted
// nodes that left the tree; Removed counts every node that left it,
// nested ones included.
type DeleteResult struct {
	Nodes   int
	Sheets  int
	Removed int
}

// Delete removes the given nodes with their subtrees. Every sheet inside
// a targeted subtree is deleted on the host before its node leaves the
// tree. Failures are collected per item in a *BatchError; items that
// succeeded stay deleted. A targeted node whose host deletions did not
// all succeed is kept, minus the sheet nodes that were deleted, unless
// opts.ProceedOnFailure is set.
func (e *Engine) Delete(ctx context.Context, nodeIDs []string, opts DeleteOptions) (DeleteResult, error) {
	var res DeleteResult

	batch := &apperrors.BatchError{Op: "delete"}

	for _, id := range e.topLevel(nodeIDs, batch) {
		ids, err := e.tree.Subtree(id)
		if err != nil {
			batch.Total++
			batch.Add(id, err)

			continue
		}

		var (
			failed  bool
			deleted []string
		)

		for _, sid := range ids {
			n, ok := e.tree.Get(sid)
			if !ok || !n.IsSheet() {
				continue
			}

			batch.Total++

			if err := e.host.DeleteSheet(ctx, n.SheetName); err != nil && !errors.Is(err, apperrors.ErrSheetNotFound) {
				failed = true
				batch.Add(n.SheetName, hostErr("deleting sheet", err))

				continue
			}

			deleted = append(deleted, sid)
			res.Sheets++
		}

		if !failed || opts.ProceedOnFailure {
			if err := e.tree.Delete(id); err != nil {
				return res, fmt.Errorf("removing node %s: %w", id, err)
			}

			res.Nodes++
			res.Removed += len(ids)

			continue
		}

		// Keep the target but drop nodes whose sheets are already gone.
		for _, sid := range deleted {
			if e.tree.Has(sid) {
				if err := e.tree.Delete(sid); err != nil {
					return res, fmt.Errorf("removing node %s: %w", sid, err)
				}

				res.Removed++
			}
		}
	}

	if err := batch.ErrOrNil(); err != nil {
		e.logger.Warn("delete partially failed", slog.String("error", err.Error()))
		return res, err
	}

	return res, nil
}

// topLevel drops unknown ids (recording them in batch) and ids nested
// under another targeted id, keeping the input order.
func (e *Engine) topLevel(ids []string, batch *apperrors.BatchError) []string {
	targeted := make(map[string]bool, len(ids))
	for _, id := range ids {
		targeted[id] = true
	}

	var out []string

	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}

		seen[id] = true

		if !e.tree.Has(id) {
			batch.Total++
			batch.Add(id, apperrors.ErrNodeNotFound)

			continue
		}

		if e.hasTargetedAncestor(id, targeted) {
			continue
		}

		out = append(out, id)
	}

	return out
}

func (e *Engine) hasTargetedAncestor(id string, targeted map[string]bool) bool {
	for other := range targeted {
		if other != id && e.tree.IsDescendant(id, other) {
			return true
		}
	}

	return false
}

// Move re-parents or reorders a node. It never touches the host.
func (e *Engine) Move(nodeID, newParentID string, position int) error {
	if err := e.tree.Move(nodeID, parentOrRoot(newParentID), position); err != nil {
		return fmt.Errorf("moving node: %w", err)
	}

	return nil
}

// MoveToRoot moves a node to the end of the root level. A node already
// at the root is left where it is and alreadyAtRoot is true.
func (e *Engine) MoveToRoot(nodeID string) (alreadyAtRoot bool, err error) {
	n, err := e.node(nodeID)
	if err != nil {
		return false, fmt.Errorf("moving to root: %w", err)
	}

	if n.ParentID == tree.RootID {
		return true, nil
	}

	return false, e.Move(nodeID, tree.RootID, -1)
}

// DeleteSummary describes what deleting the given nodes would remove, in
// the form shown in a confirmation prompt.
func (e *Engine) DeleteSummary(nodeIDs []string) string {
	var sheets, folders []string

	for _, id := range e.topLevel(nodeIDs, &apperrors.BatchError{}) {
		ids, err := e.tree.Subtree(id)
		if err != nil {
			continue
		}

		for _, sid := range ids {
			n, ok := e.tree.Get(sid)
			if !ok {
				continue
			}

			if n.IsSheet() {
				sheets = append(sheets, n.SheetName)
			} else {
				folders = append(folders, n.Label)
			}
		}
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Delete %d item(s)?", len(sheets)+len(folders))

	if len(sheets) > 0 {
		fmt.Fprintf(&b, "\nSheets (deleted from the workbook): %s", strings.Join(sheets, ", "))
	}

	if len(folders) > 0 {
		fmt.Fprintf(&b, "\nFolders: %s", strings.Join(folders, ", "))
	}

	return b.String()
}
