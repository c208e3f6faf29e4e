package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/sheet-tree/internal/errors"
	"github.com/alexjbarnes/sheet-tree/internal/sheetsync"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
)

// handleIntent runs one intent on the loop and reports its outcome.
func (o *Orchestrator) handleIntent(ctx context.Context, in Intent) (Result, error) {
	res, err := o.dispatch(ctx, in)

	// Partial batches still change the tree.
	if res.Changed {
		o.changed()
	}

	if err != nil {
		o.logger.Warn("intent failed",
			slog.String("op", string(in.Kind)),
			slog.String("error", err.Error()),
		)

		msg := errorMessage(err)
		o.notify(msg)

		if res.Message.Text == "" {
			res.Message = msg
		}

		return res, err
	}

	o.logger.Debug("intent applied", slog.String("op", string(in.Kind)), slog.Bool("changed", res.Changed))
	o.notify(res.Message)

	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, in Intent) (Result, error) {
	e := o.engine

	switch in.Kind {
	case KindCreateFolder:
		id, err := e.CreateFolder(in.Parent, in.Name)
		if err != nil {
			return Result{}, err
		}

		return Result{
			Message: Message{Level: LevelSuccess, Text: "Folder created successfully!"},
			NodeIDs: []string{id},
			Changed: true,
		}, nil

	case KindCreateSheet:
		c, err := e.CreateSheet(ctx, in.Parent, in.Name)
		if err != nil {
			return Result{}, err
		}

		msg := Message{Level: LevelSuccess, Text: "Sheet created successfully!"}
		if c.Adjusted() {
			msg = Message{
				Level: LevelInfo,
				Text:  fmt.Sprintf("Sheet %q already exists. Created %q instead.", c.Requested, c.Name),
			}
		}

		return Result{Message: msg, NodeIDs: []string{c.NodeID}, Sheet: c.Name, Changed: true}, nil

	case KindRename:
		return o.rename(ctx, in)

	case KindDelete:
		res, err := e.Delete(ctx, in.Nodes, sheetsync.DeleteOptions{ProceedOnFailure: in.Force})

		out := Result{Changed: res.Removed > 0}
		if err == nil {
			out.Message = Message{Level: LevelSuccess, Text: fmt.Sprintf("Successfully deleted %d item(s)", res.Nodes)}
		}

		return out, err

	case KindMove:
		pos := -1
		if in.Position != nil {
			pos = *in.Position
		}

		if err := e.Move(in.Node, in.Parent, pos); err != nil {
			return Result{}, err
		}

		return Result{Changed: true}, nil

	case KindMoveToRoot:
		n, ok := e.Tree().Get(in.Node)

		already, err := e.MoveToRoot(in.Node)
		if err != nil {
			return Result{}, err
		}

		if already {
			return Result{Message: Message{Level: LevelInfo, Text: fmt.Sprintf("%q is already at root level", n.Label)}}, nil
		}

		label := in.Node
		if ok {
			label = n.Label
		}

		return Result{
			Message: Message{Level: LevelSuccess, Text: fmt.Sprintf("%q moved to root level", label)},
			Changed: true,
		}, nil

	case KindCopy:
		n, err := e.Copy(in.Nodes)
		if err != nil {
			return Result{}, err
		}

		return Result{Message: Message{Level: LevelSuccess, Text: fmt.Sprintf("Copied %d item(s)", n)}}, nil

	case KindPaste:
		res, err := e.Paste(ctx, in.Parent)

		out := Result{NodeIDs: res.NodeIDs, Changed: len(res.NodeIDs) > 0}
		if err == nil {
			out.Message = Message{Level: LevelSuccess, Text: fmt.Sprintf("Pasted %d item(s) successfully", len(res.NodeIDs))}
		}

		return out, err

	case KindRefresh:
		plan, err := e.Reconcile(ctx)
		if err != nil {
			return Result{}, err
		}

		return Result{
			Message: Message{Level: LevelSuccess, Text: "Tree refreshed successfully!"},
			Changed: !plan.Empty(),
		}, nil

	case KindSave:
		if err := o.sched.SaveNow(ctx); err != nil {
			return Result{}, err
		}

		return Result{Message: Message{Level: LevelSuccess, Text: "Structure saved successfully!"}}, nil

	case KindHideOthers:
		res, err := e.HideOthers(ctx)

		out := Result{Sheet: res.Active, Changed: !res.Plan.Empty()}
		if err == nil {
			out.Message = Message{
				Level: LevelSuccess,
				Text:  fmt.Sprintf("Hidden %d sheet(s). Only %q is visible.", res.Hidden, res.Active),
			}
		}

		return out, err

	case KindHide:
		n, _ := e.Tree().Get(in.Node)

		if err := e.HideSheet(ctx, in.Node); err != nil {
			if errors.Is(err, apperrors.ErrLastVisibleSheet) {
				return Result{}, fmt.Errorf("cannot hide %q: %w", n.SheetName, apperrors.ErrLastVisibleSheet)
			}

			return Result{}, err
		}

		return Result{
			Message: Message{Level: LevelSuccess, Text: fmt.Sprintf("Sheet %q hidden successfully!", n.SheetName)},
			Sheet:   n.SheetName,
		}, nil

	case KindNavigate, KindSelect:
		name, err := e.Navigate(ctx, in.Node)
		if err != nil {
			return Result{}, err
		}

		return Result{Sheet: name}, nil
	}

	return Result{}, fmt.Errorf("unknown intent %q", in.Kind)
}

func (o *Orchestrator) rename(ctx context.Context, in Intent) (Result, error) {
	n, ok := o.engine.Tree().Get(in.Node)
	if !ok {
		return Result{}, fmt.Errorf("renaming: %w", apperrors.ErrNodeNotFound)
	}

	if err := o.engine.RenameNode(ctx, in.Node, in.Name); err != nil {
		if errors.Is(err, apperrors.ErrNameCollision) {
			return Result{}, fmt.Errorf("a sheet named %q already exists, please choose a different name: %w", in.Name, err)
		}

		return Result{}, err
	}

	after, _ := o.engine.Tree().Get(in.Node)

	if !n.IsSheet() {
		return Result{
			Message: Message{Level: LevelSuccess, Text: fmt.Sprintf("Folder renamed to %q", after.Label)},
			Changed: after.Label != n.Label,
		}, nil
	}

	return Result{
		Message: Message{Level: LevelSuccess, Text: fmt.Sprintf("Sheet renamed to %q successfully!", after.SheetName)},
		Sheet:   after.SheetName,
		Changed: after.SheetName != n.SheetName,
	}, nil
}

// handleEvent folds one host notification into the tree. Failures are
// reported and the loop carries on.
func (o *Orchestrator) handleEvent(ctx context.Context, ev workbook.Event) {
	if !o.Status().TreeReady {
		o.logger.Debug("dropping host event before ready", slog.String("kind", string(ev.Kind)))
		return
	}

	var (
		msg     Message
		changed bool
		err     error
	)

	switch ev.Kind {
	case workbook.EventAdded:
		var added []string

		added, err = o.engine.OnAdded(ctx)
		if len(added) > 0 {
			changed = true
			msg = Message{Level: LevelSuccess, Text: addedText(added)}
		}

	case workbook.EventRenamed:
		var out sheetsync.RenameOutcome

		out, err = o.engine.OnRenamed(ctx, ev)

		switch {
		case out.NodeID != "":
			changed = true
			msg = Message{Level: LevelSuccess, Text: fmt.Sprintf("Sheet renamed to %q in tree", out.To)}
		case out.FullPass && !out.Plan.Empty():
			changed = true
			msg = Message{Level: LevelInfo, Text: "Tree updated to match the workbook"}
		}

	case workbook.EventDeleted:
		var plan sheetsync.Plan

		plan, err = o.engine.OnDeleted(ctx)
		changed = !plan.Empty()
		if len(plan.ToRemove) > 0 {
			msg = Message{Level: LevelInfo, Text: "Sheet deleted, tree updated"}
		}
	}

	if changed {
		o.changed()
	}

	if err != nil {
		o.logger.Warn("handling host event failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
		o.notify(Message{Level: LevelError, Text: "Error syncing with the workbook: " + err.Error()})

		return
	}

	o.logger.Debug("host event handled",
		slog.String("kind", string(ev.Kind)),
		slog.String("before", ev.NameBefore),
		slog.String("after", ev.NameAfter),
		slog.Bool("changed", changed),
	)
	o.notify(msg)
}

func addedText(names []string) string {
	if len(names) == 1 {
		return fmt.Sprintf("Sheet %q added to tree", names[0])
	}

	return fmt.Sprintf("%d sheets added to tree", len(names))
}

// errorMessage turns an intent failure into the notice shown to the user.
func errorMessage(err error) Message {
	switch {
	case errors.Is(err, apperrors.ErrNotReady):
		return Message{Level: LevelWarning, Text: "Tree is still loading, please wait..."}
	case errors.Is(err, apperrors.ErrNothingToCopy):
		return Message{Level: LevelWarning, Text: "No items selected to copy"}
	case errors.Is(err, apperrors.ErrNothingToPaste):
		return Message{Level: LevelWarning, Text: "Nothing to paste"}
	case errors.Is(err, apperrors.ErrLastVisibleSheet):
		return Message{Level: LevelWarning, Text: capitalize(err.Error()) + "."}
	case errors.Is(err, apperrors.ErrEmptyName):
		return Message{Level: LevelWarning, Text: "Please enter a name"}
	case errors.Is(err, apperrors.ErrSheetNotFound):
		return Message{Level: LevelError, Text: "Sheet not found. It may have been deleted."}
	case errors.Is(err, apperrors.ErrCycleDetected):
		return Message{Level: LevelError, Text: "Cannot move a node into itself"}
	case !errors.Is(err, apperrors.ErrPartialBatch) && apperrors.IsStructural(err):
		return Message{Level: LevelError, Text: "The tree no longer matches your selection. Please refresh and try again."}
	}

	return Message{Level: LevelError, Text: "Error: " + err.Error()}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}

	return s
}
