// Package mcpserver registers MCP tools that drive the sheet tree.
// Every mutating tool is an intent submitted to the orchestrator loop.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/sheet-tree/internal/orchestrator"
	"github.com/alexjbarnes/sheet-tree/internal/sheetsync"
	"github.com/alexjbarnes/sheet-tree/internal/tree"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// treeService is the part of the orchestrator the tools use.
type treeService interface {
	Submit(ctx context.Context, in orchestrator.Intent) (orchestrator.Result, error)
	Snapshot() []tree.Entry
	Outline() string
	Status() orchestrator.Status
	DeleteSummary(ctx context.Context, nodeIDs []string) (string, error)
	Preview(ctx context.Context) (sheetsync.Plan, string, error)
}

// RegisterTools adds all tree tools to the given MCP server.
func RegisterTools(server *mcp.Server, svc treeService) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_outline",
		Description: "Return the sheet tree: an indented outline (folders end in '/') plus the nested nodes with their ids. Call this first; every other tool takes node ids from here.",
	}, outlineHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_plan",
		Description: "Preview what tree_refresh would change: sheets to add, nodes to remove and a line diff of the outline. Changes nothing.",
	}, planHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_create_folder",
		Description: "Create a folder. Folders exist only in the tree, never in the workbook.",
	}, intentHandler(svc, func(in CreateInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindCreateFolder, Parent: in.Parent, Name: in.Name}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_create_sheet",
		Description: "Create a workbook sheet and its tree node. A name already taken (case-insensitively) gets a ' (n)' suffix; the result says which name was used.",
	}, intentHandler(svc, func(in CreateInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindCreateSheet, Parent: in.Parent, Name: in.Name}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_rename",
		Description: "Rename a node. Renaming a sheet node renames the workbook sheet and fails if another sheet already has the name.",
	}, intentHandler(svc, func(in RenameInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindRename, Node: in.Node, Name: in.Name}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_delete_summary",
		Description: "Describe what tree_delete would remove (sheets deleted from the workbook, folders). Changes nothing.",
	}, deleteSummaryHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_delete",
		Description: "Delete nodes with everything under them. Every sheet inside is deleted from the workbook. A node is kept if one of its sheets could not be deleted, unless force is set.",
	}, intentHandler(svc, func(in DeleteInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindDelete, Nodes: in.Nodes, Force: in.Force}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_move",
		Description: "Move a node under a new parent at a position. Only the tree changes; the workbook sheet order is untouched.",
	}, intentHandler(svc, func(in MoveInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindMove, Node: in.Node, Parent: in.Parent, Position: in.Position}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_move_to_root",
		Description: "Move a node to the end of the root level.",
	}, intentHandler(svc, func(in NodeInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindMoveToRoot, Node: in.Node}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_copy",
		Description: "Copy nodes and their subtrees to the clipboard for tree_paste.",
	}, intentHandler(svc, func(in NodesInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindCopy, Nodes: in.Nodes}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_paste",
		Description: "Paste the clipboard under a node. Sheets are duplicated in the workbook as '<name> Copy'; folders become '<label> Copy'.",
	}, intentHandler(svc, func(in PasteInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindPaste, Parent: in.Target}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_refresh",
		Description: "Bring the tree in line with the workbook: add missing visible sheets at the root and drop nodes whose sheets are gone.",
	}, intentHandler(svc, func(EmptyInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindRefresh}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_save",
		Description: "Save the tree now instead of waiting for the debounced save.",
	}, intentHandler(svc, func(EmptyInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindSave}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_hide_others",
		Description: "Hide every sheet except the active one and drop the hidden sheets from the tree.",
	}, intentHandler(svc, func(EmptyInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindHideOthers}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_hide",
		Description: "Hide the sheet behind a sheet node. The last visible sheet cannot be hidden.",
	}, intentHandler(svc, func(in NodeInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindHide, Node: in.Node}
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tree_navigate",
		Description: "Activate the sheet behind a sheet node, unhiding it first if needed.",
	}, intentHandler(svc, func(in NodeInput) orchestrator.Intent {
		return orchestrator.Intent{Kind: orchestrator.KindNavigate, Node: in.Node}
	}))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// EmptyInput has no parameters.
type EmptyInput struct{}

// NodeInput names one node.
type NodeInput struct {
	Node string `json:"node" jsonschema:"required,node id from tree_outline"`
}

// NodesInput names several nodes.
type NodesInput struct {
	Nodes []string `json:"nodes" jsonschema:"required,node ids from tree_outline"`
}

// CreateInput holds parameters for tree_create_folder and tree_create_sheet.
type CreateInput struct {
	Parent string `json:"parent,omitempty" jsonschema:"parent node id, defaults to the root"`
	Name   string `json:"name" jsonschema:"required,folder label or sheet name"`
}

// RenameInput holds parameters for tree_rename.
type RenameInput struct {
	Node string `json:"node" jsonschema:"required,node id"`
	Name string `json:"name" jsonschema:"required,new label or sheet name"`
}

// DeleteInput holds parameters for tree_delete.
type DeleteInput struct {
	Nodes []string `json:"nodes" jsonschema:"required,node ids to delete"`
	Force bool     `json:"force,omitempty" jsonschema:"remove nodes even when some of their sheets could not be deleted"`
}

// MoveInput holds parameters for tree_move.
type MoveInput struct {
	Node     string `json:"node" jsonschema:"required,node id to move"`
	Parent   string `json:"parent,omitempty" jsonschema:"new parent node id, defaults to the root"`
	Position *int   `json:"position,omitempty" jsonschema:"0-based index among the new siblings, defaults to last"`
}

// PasteInput holds parameters for tree_paste.
type PasteInput struct {
	Target string `json:"target,omitempty" jsonschema:"node id to paste under, defaults to the root"`
}

// --- Output types ---

// OutlineResult is the output of tree_outline.
type OutlineResult struct {
	Outline string              `json:"outline"`
	Nodes   []NodeInfo          `json:"nodes"`
	Status  orchestrator.Status `json:"status"`
}

// NodeInfo is one node of the tree in pre-order.
type NodeInfo struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	SheetName string `json:"sheet_name,omitempty"`
	Parent    string `json:"parent"`
	Depth     int    `json:"depth"`
}

// flatten lists entries in pre-order.
func flatten(entries []tree.Entry, parent string, depth int, out []NodeInfo) []NodeInfo {
	for _, e := range entries {
		out = append(out, NodeInfo{
			ID:        e.ID,
			Label:     e.Text,
			Type:      e.Type,
			SheetName: e.Data.SheetName,
			Parent:    parent,
			Depth:     depth,
		})
		out = flatten(e.Children, e.ID, depth+1, out)
	}

	return out
}

// PlanResult is the output of tree_plan.
type PlanResult struct {
	ToAdd    []string `json:"to_add"`
	ToRemove []string `json:"to_remove"`
	Diff     string   `json:"diff"`
}

// SummaryResult is the output of tree_delete_summary.
type SummaryResult struct {
	Summary string `json:"summary"`
}

// ActionResult is the output of every intent tool.
type ActionResult struct {
	Level   orchestrator.Level `json:"level"`
	Message string             `json:"message"`
	NodeIDs []string           `json:"node_ids,omitempty"`
	Sheet   string             `json:"sheet,omitempty"`
	Changed bool               `json:"changed"`
}

// --- Handlers ---

func outlineHandler(svc treeService) mcp.ToolHandlerFor[EmptyInput, *OutlineResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *OutlineResult, error) {
		result := &OutlineResult{
			Outline: svc.Outline(),
			Nodes:   flatten(svc.Snapshot(), tree.RootID, 0, []NodeInfo{}),
			Status:  svc.Status(),
		}

		return textResult(result), result, nil
	}
}

func planHandler(svc treeService) mcp.ToolHandlerFor[EmptyInput, *PlanResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *PlanResult, error) {
		plan, diff, err := svc.Preview(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &PlanResult{ToAdd: plan.ToAdd, ToRemove: []string{}, Diff: diff}
		if result.ToAdd == nil {
			result.ToAdd = []string{}
		}

		for _, n := range plan.ToRemove {
			result.ToRemove = append(result.ToRemove, n.SheetName)
		}

		return textResult(result), result, nil
	}
}

func deleteSummaryHandler(svc treeService) mcp.ToolHandlerFor[NodesInput, *SummaryResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input NodesInput) (*mcp.CallToolResult, *SummaryResult, error) {
		summary, err := svc.DeleteSummary(ctx, input.Nodes)
		if err != nil {
			return nil, nil, err
		}

		result := &SummaryResult{Summary: summary}

		return textResult(result), result, nil
	}
}

// intentHandler builds a tool that submits the intent made by build.
func intentHandler[In any](svc treeService, build func(In) orchestrator.Intent) mcp.ToolHandlerFor[In, *ActionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input In) (*mcp.CallToolResult, *ActionResult, error) {
		res, err := svc.Submit(ctx, build(input))
		if err != nil {
			return nil, nil, err
		}

		result := &ActionResult{
			Level:   res.Message.Level,
			Message: res.Message.Text,
			NodeIDs: res.NodeIDs,
			Sheet:   res.Sheet,
			Changed: res.Changed,
		}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
