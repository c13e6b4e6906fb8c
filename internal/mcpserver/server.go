// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes shape task tools for LLM agents via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/shape/internal/ident"
	"github.com/starford/shape/internal/models"
	"github.com/starford/shape/internal/taskservice"
)

const workflowURI = "shape://workflow"

// Server wraps the MCP server with shape tools.
type Server struct {
	mcp *server.MCPServer
	svc *taskservice.Service
}

// New creates a new MCP server with all shape tools registered.
func New(svc *taskservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Shape",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("ready_tasks",
		mcp.WithDescription("List tasks that can be started now: not done, and every blocking dependency is done."),
	), s.readyTasks)

	s.mcp.AddTool(mcp.NewTool("blocked_tasks",
		mcp.WithDescription("List tasks waiting on incomplete dependencies, with what blocks each one."),
	), s.blockedTasks)

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks, optionally filtered by status, brief or id glob."),
		mcp.WithString("status", mcp.Description("todo, in_progress or done")),
		mcp.WithString("brief", mcp.Description("Brief id, e.g. b-1a2b3c4")),
		mcp.WithString("pattern", mcp.Description("Glob over task ids, e.g. b-1a2b3c4.*")),
	), s.listTasks)

	s.mcp.AddTool(mcp.NewTool("show_task",
		mcp.WithDescription("Show one task with its blockers, dependents, subtasks and referencing briefs."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
	), s.showTask)

	s.mcp.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Create a task. Read the workflow contract first via "+
			"get_workflow_contract or the "+workflowURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short imperative title")),
		mcp.WithString("description", mcp.Description("Optional longer description")),
		mcp.WithString("parent", mcp.Description("Brief id or task id; empty for a standalone task")),
	), s.addTask)

	s.mcp.AddTool(mcp.NewTool("start_task",
		mcp.WithDescription("Mark a task in progress."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
	), s.startTask)

	s.mcp.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task done."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
	), s.completeTask)

	s.mcp.AddTool(mcp.NewTool("add_dependency",
		mcp.WithDescription("Record that task is blocked by depends_on. Cycles are rejected."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Dependent task id")),
		mcp.WithString("depends_on", mcp.Required(), mcp.Description("Task id that must finish first")),
		mcp.WithString("type", mcp.Description("blocks (default), provenance, related or duplicates")),
	), s.addDependency)

	s.mcp.AddTool(mcp.NewTool("search_tasks",
		mcp.WithDescription("Full-text search over task and brief titles and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.search)

	agentArg := mcp.WithString("agent", mcp.Description("Your agent name; defaults to the server's configured agent"))

	s.mcp.AddTool(mcp.NewTool("next_task",
		mcp.WithDescription("Recommend what to work on next: ready, unclaimed tasks scored by priority, "+
			"how many tasks they unblock and age."),
		agentArg,
		mcp.WithString("brief", mcp.Description("Only tasks of this brief")),
		mcp.WithNumber("limit", mcp.Description("How many recommendations (default 1)")),
	), s.nextTask)

	s.mcp.AddTool(mcp.NewTool("claim_task",
		mcp.WithDescription("Claim a task so other agents leave it alone, and start it. "+
			"Claims lapse after the configured timeout; claiming again refreshes it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		agentArg,
		mcp.WithBoolean("force", mcp.Description("Take over a live claim held by another agent")),
		mcp.WithString("reason", mcp.Description("Why the claim is taken over; required with force")),
	), s.claimTask)

	s.mcp.AddTool(mcp.NewTool("unclaim_task",
		mcp.WithDescription("Release a claim without finishing the task."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		agentArg,
	), s.unclaimTask)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Leave a note on a task for whoever picks it up next."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Note text")),
		agentArg,
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("link_artifact",
		mcp.WithDescription("Link a task to a commit, pull request, file or URL."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("type", mcp.Required(), mcp.Description("commit, pr, file or url")),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Hash, number, path or URL")),
		agentArg,
	), s.linkArtifact)

	s.mcp.AddTool(mcp.NewTool("block_task",
		mcp.WithDescription("Mark a task blocked for a reason outside the dependency graph."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("What the task is waiting for")),
		mcp.WithString("on", mcp.Description("Task id it waits on, if any")),
		agentArg,
	), s.blockTask)

	s.mcp.AddTool(mcp.NewTool("unblock_task",
		mcp.WithDescription("Clear an explicit block."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		agentArg,
	), s.unblockTask)

	s.mcp.AddTool(mcp.NewTool("handoff_task",
		mcp.WithDescription("Stop working on a task: leaves a note, releases the claim and "+
			"optionally assigns it to someone else."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("State of the work and why it is handed off")),
		mcp.WithString("to", mcp.Description("Agent or person to assign it to")),
		agentArg,
	), s.handoffTask)

	s.mcp.AddTool(mcp.NewTool("task_history",
		mcp.WithDescription("Show a task's timeline, notes and links."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
	), s.taskHistory)

	s.mcp.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Export briefs and tasks grouped by ready, in progress, blocked and "+
			"recently completed. Use compact to save context."),
		mcp.WithBoolean("compact", mcp.Description("Render tasks as one-line strings")),
		mcp.WithString("brief", mcp.Description("Only this brief and its tasks")),
		mcp.WithNumber("days", mcp.Description("How far back recently completed tasks reach (default 7)")),
	), s.getContext)

	s.mcp.AddTool(mcp.NewTool("project_summary",
		mcp.WithDescription("Counts of briefs and tasks by state, the busiest brief and the next recommendation. "+
			"With brief set, summarizes that brief instead."),
		mcp.WithString("brief", mcp.Description("Brief id")),
		agentArg,
	), s.projectSummary)

	s.mcp.AddTool(mcp.NewTool("get_workflow_contract",
		mcp.WithDescription("Returns how identifiers, statuses and dependencies work. "+
			"Call this before adding tasks."),
	), s.getWorkflowContract)

	s.mcp.AddResource(
		mcp.NewResource(workflowURI, "Task Workflow",
			mcp.WithResourceDescription("How agents should pick up, add and complete tasks."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readWorkflowResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// jsonResult renders v as indented JSON, or the error as a tool error.
func jsonResult(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func requireID(req mcp.CallToolRequest, key string) (ident.ID, error) {
	s, err := req.RequireString(key)
	if err != nil {
		return ident.ID{}, err
	}
	return ident.Parse(s)
}

func (s *Server) readyTasks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Ready(ctx))
}

func (s *Server) blockedTasks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Blocked(ctx))
}

func (s *Server) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var f taskservice.ListFilter
	if v := req.GetString("status", ""); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f.Status = st
	}
	if v := req.GetString("brief", ""); v != "" {
		id, err := ident.Parse(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f.Brief = id
	}
	f.Pattern = req.GetString("pattern", "")
	return jsonResult(s.svc.List(ctx, f))
}

func (s *Server) showTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Show(ctx, id))
}

func (s *Server) addTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	add := taskservice.AddTaskRequest{
		Title:       title,
		Description: req.GetString("description", ""),
	}
	if p := req.GetString("parent", ""); p != "" {
		if add.Parent, err = ident.Parse(p); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return jsonResult(s.svc.AddTask(ctx, add))
}

func (s *Server) startTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Start(ctx, id))
}

func (s *Server) completeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Complete(ctx, id))
}

func (s *Server) addDependency(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := requireID(req, "task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dep, err := requireID(req, "depends_on")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := models.ParseDependencyType(req.GetString("type", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.AddDependency(ctx, task, dep, typ))
}

func (s *Server) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	return jsonResult(results, nil)
}

// optionalID parses the argument at key, returning the zero id when it is
// absent.
func optionalID(req mcp.CallToolRequest, key string) (ident.ID, error) {
	v := req.GetString(key, "")
	if v == "" {
		return ident.ID{}, nil
	}
	return ident.Parse(v)
}

func (s *Server) nextTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	brief, err := optionalID(req, "brief")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := s.svc.Next(ctx, taskservice.NextRequest{
		Agent: req.GetString("agent", ""),
		Brief: brief,
		Limit: req.GetInt("limit", 1),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("no tasks ready to work on"), nil
	}
	return jsonResult(recs, nil)
}

func (s *Server) claimTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Claim(ctx, id, taskservice.ClaimRequest{
		Agent:  req.GetString("agent", ""),
		Force:  req.GetBool("force", false),
		Reason: req.GetString("reason", ""),
	}))
}

func (s *Server) unclaimTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Unclaim(ctx, id, req.GetString("agent", "")))
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.AddNote(ctx, id, req.GetString("agent", ""), text))
}

func (s *Server) linkArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lt, err := models.ParseLinkType(typ)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := req.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.AddLink(ctx, id, req.GetString("agent", ""), lt, ref))
}

func (s *Server) blockTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason, err := req.RequireString("reason")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	on, err := optionalID(req, "on")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Block(ctx, id, taskservice.BlockRequest{
		Agent:  req.GetString("agent", ""),
		Reason: reason,
		On:     on,
	}))
}

func (s *Server) unblockTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Unblock(ctx, id, req.GetString("agent", "")))
}

func (s *Server) handoffTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason, err := req.RequireString("reason")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Handoff(ctx, id, taskservice.HandoffRequest{
		Agent:  req.GetString("agent", ""),
		Reason: reason,
		To:     req.GetString("to", ""),
	}))
}

type historyView struct {
	ID      ident.ID              `json:"id"`
	Title   string                `json:"title"`
	History []models.HistoryEvent `json:"history"`
	Notes   []models.Note         `json:"notes"`
	Links   []models.Link         `json:"links"`
}

func (s *Server) taskHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Show(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t := d.Task
	v := historyView{ID: t.ID, Title: t.Title, History: t.History, Notes: t.Notes, Links: t.Links}
	if v.History == nil {
		v.History = []models.HistoryEvent{}
	}
	if v.Notes == nil {
		v.Notes = []models.Note{}
	}
	if v.Links == nil {
		v.Links = []models.Link{}
	}
	return jsonResult(v, nil)
}

func (s *Server) getContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	brief, err := optionalID(req, "brief")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Context(ctx, taskservice.ContextRequest{
		Compact: req.GetBool("compact", false),
		Brief:   brief,
		Days:    req.GetInt("days", 0),
	}))
}

func (s *Server) projectSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	brief, err := optionalID(req, "brief")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !brief.IsZero() {
		return jsonResult(s.svc.SummarizeBrief(ctx, brief))
	}
	return jsonResult(s.svc.SummarizeProject(ctx, req.GetString("agent", "")))
}

func (s *Server) getWorkflowContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(WorkflowContract), nil
}

func (s *Server) readWorkflowResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      workflowURI,
			MIMEType: "text/markdown",
			Text:     WorkflowContract,
		},
	}, nil
}

