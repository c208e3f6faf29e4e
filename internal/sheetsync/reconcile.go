package sheetsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/alexjbarnes/sheet-tree/internal/workbook"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Plan is the outcome of comparing the tree with the host's sheet list.
type Plan struct {
	// ToAdd holds visible host sheets no node references, in host order.
	ToAdd []string
	// ToRemove holds sheet nodes whose sheet is missing from the host, in
	// tree pre-order.
	ToRemove []tree.Node
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// DiffOptions tunes Diff.
type DiffOptions struct {
	// DropHidden treats hidden sheets as absent, so their nodes are
	// removed. By default a node survives while its sheet is hidden.
	DropHidden bool
}

// Diff computes the full reconciliation plan. It is pure: the tree is
// only read. Sheet names are compared exactly, the way the host reports
// them.
func Diff(t *tree.Tree, sheets []workbook.Sheet, opts DiffOptions) Plan {
	present := make(map[string]bool, len(sheets))
	for _, s := range sheets {
		if opts.DropHidden && !s.Visible() {
			continue
		}

		present[s.Name] = true
	}

	referenced := make(map[string]bool)

	var plan Plan

	for n := range t.Find(tree.Node.IsSheet) {
		referenced[n.SheetName] = true

		if !present[n.SheetName] {
			plan.ToRemove = append(plan.ToRemove, n)
		}
	}

	for _, s := range sheets {
		if s.Visible() && !referenced[s.Name] {
			plan.ToAdd = append(plan.ToAdd, s.Name)
		}
	}

	return plan
}

// apply adds root nodes for plan.ToAdd and removes plan.ToRemove. Folders
// are never removed here; a removed sheet node takes its subtree along.
func apply(t *tree.Tree, plan Plan) error {
	for _, n := range plan.ToRemove {
		if !t.Has(n.ID) {
			continue
		}

		if err := t.Delete(n.ID); err != nil {
			return fmt.Errorf("removing node for %q: %w", n.SheetName, err)
		}
	}

	for _, name := range plan.ToAdd {
		if _, ok := t.FindSheet(name); ok {
			continue
		}

		if _, err := t.Create(tree.RootID, tree.Sheet(name)); err != nil {
			return fmt.Errorf("adding node for %q: %w", name, err)
		}
	}

	return nil
}

// Reconcile runs a full pass against the current host sheet list. Running
// it twice with no host change in between leaves the tree unchanged.
func (e *Engine) Reconcile(ctx context.Context) (Plan, error) {
	return e.reconcile(ctx, DiffOptions{})
}

func (e *Engine) reconcile(ctx context.Context, opts DiffOptions) (Plan, error) {
	sheets, err := e.listSheets(ctx)
	if err != nil {
		return Plan{}, err
	}

	plan := Diff(e.tree, sheets, opts)
	if plan.Empty() {
		return plan, nil
	}

	if err := apply(e.tree, plan); err != nil {
		return plan, err
	}

	e.logger.Info("tree reconciled",
		slog.Int("added", len(plan.ToAdd)),
		slog.Int("removed", len(plan.ToRemove)),
	)

	return plan, nil
}

// OnAdded handles a sheet-added notification: visible host sheets that no
// node references are added at the root in host order. Duplicate
// notifications add nothing.
func (e *Engine) OnAdded(ctx context.Context) ([]string, error) {
	sheets, err := e.listSheets(ctx)
	if err != nil {
		return nil, err
	}

	plan := Diff(e.tree, sheets, DiffOptions{})
	if err := apply(e.tree, Plan{ToAdd: plan.ToAdd}); err != nil {
		return nil, err
	}

	return plan.ToAdd, nil
}

// RenameOutcome reports how a rename notification was handled. Exactly
// one of NodeID being set or FullPass being true holds.
type RenameOutcome struct {
	NodeID   string
	From     string
	To       string
	FullPass bool
	Plan     Plan
}

// OnRenamed handles a sheet-renamed notification. The event's sheet id
// is not trusted. Instead the host list is re-read and the tree is
// searched for orphans, sheet nodes whose sheet no longer exists. A
// single orphan is the renamed node. No orphan, or more than one, means
// the situation is ambiguous and a full pass runs instead of a guess.
func (e *Engine) OnRenamed(ctx context.Context, ev workbook.Event) (RenameOutcome, error) {
	sheets, err := e.listSheets(ctx)
	if err != nil {
		return RenameOutcome{}, err
	}

	present := make(map[string]bool, len(sheets))
	for _, s := range sheets {
		present[s.Name] = true
	}

	var orphans []tree.Node

	for n := range e.tree.Find(func(n tree.Node) bool { return n.IsSheet() && !present[n.SheetName] }) {
		orphans = append(orphans, n)
		if len(orphans) > 1 {
			break
		}
	}

	if len(orphans) == 1 {
		if to, ok := e.renameTarget(sheets, ev.NameAfter); ok {
			orphan := orphans[0]

			if err := e.tree.SetSheetName(orphan.ID, to); err != nil {
				return RenameOutcome{}, fmt.Errorf("applying rename to node %s: %w", orphan.ID, err)
			}

			e.logger.Info("sheet rename applied to tree",
				slog.String("from", orphan.SheetName),
				slog.String("to", to),
			)

			return RenameOutcome{NodeID: orphan.ID, From: orphan.SheetName, To: to}, nil
		}
	}

	e.logger.Debug("rename not attributable, running full pass",
		slog.Int("orphans", len(orphans)),
		slog.String("name_after", ev.NameAfter),
	)

	plan, err := e.Reconcile(ctx)
	if err != nil {
		return RenameOutcome{FullPass: true}, err
	}

	return RenameOutcome{FullPass: true, Plan: plan}, nil
}

// renameTarget picks the name the orphan should take: the reported new
// name when the host has it and no node uses it yet, otherwise the only
// host sheet no node references.
func (e *Engine) renameTarget(sheets []workbook.Sheet, reported string) (string, bool) {
	var unreferenced []string

	for _, s := range sheets {
		if _, ok := e.tree.FindSheet(s.Name); ok {
			continue
		}

		if s.Name == reported {
			return reported, true
		}

		unreferenced = append(unreferenced, s.Name)
	}

	if len(unreferenced) == 1 {
		return unreferenced[0], true
	}

	return "", false
}

// OnDeleted handles a sheet-deleted notification with a full pass.
func (e *Engine) OnDeleted(ctx context.Context) (Plan, error) {
	return e.Reconcile(ctx)
}

// BuildDefault returns a fresh tree with one root node per visible host
// sheet, in host order.
func (e *Engine) BuildDefault(ctx context.Context) (*tree.Tree, error) {
	sheets, err := e.listSheets(ctx)
	if err != nil {
		return nil, err
	}

	t := tree.New()
	for _, name := range workbook.VisibleNames(sheets) {
		if _, err := t.Create(tree.RootID, tree.Sheet(name)); err != nil {
			return nil, fmt.Errorf("building default tree: %w", err)
		}
	}

	return t, nil
}

// Preview returns the plan a full pass would apply and a line diff of
// the tree outline before and after it. Nothing is modified.
func (e *Engine) Preview(ctx context.Context) (Plan, string, error) {
	sheets, err := e.listSheets(ctx)
	if err != nil {
		return Plan{}, "", err
	}

	plan := Diff(e.tree, sheets, DiffOptions{})

	after := e.tree.Clone()
	if err := apply(after, plan); err != nil {
		return plan, "", err
	}

	return plan, outlineDiff(e.tree.Outline(), after.Outline()), nil
}

// outlineDiff renders a line diff with "+ ", "- " and "  " prefixes.
func outlineDiff(before, after string) string {
	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder

	for _, d := range diffs {
		prefix := "  "

		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}

			out.WriteString(prefix)
			out.WriteString(line)
		}
	}

	return out.String()
}
