package docroute

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docroute/kit"
	"github.com/hazyhaar/docroute/triage"
)

// RegisterMCP registers the docroute tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerTriageTool(srv)
	s.registerSubmitTool(srv)
	s.registerTaskTool(srv)
	s.registerDLQTool(srv)
	s.registerHistoryTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func documentSchema() map[string]any {
	return inputSchema(map[string]any{
		"path":        map[string]any{"type": "string", "description": "PDF path relative to the inbox directory"},
		"task_id":     map[string]any{"type": "string", "description": "Optional task ID (generated when omitted)"},
		"document_id": map[string]any{"type": "string", "description": "Optional document ID (generated when omitted)"},
	}, []string{"path"})
}

func (s *Service) registerTriageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docroute_triage",
		Description: "Inspect a PDF and return the route the triage policies would pick, without queueing it.",
		InputSchema: documentSchema(),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Triage(ctx, *req.(*SubmitRequest))
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[SubmitRequest](), kit.WithLogging(s.logger, tool.Name))
}

func (s *Service) registerSubmitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docroute_submit",
		Description: "Triage a PDF, record the decision and queue it for parsing or the dead-letter queue.",
		InputSchema: documentSchema(),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Submit(ctx, *req.(*SubmitRequest))
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[SubmitRequest](), kit.WithLogging(s.logger, tool.Name))
}

type taskRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Service) registerTaskTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docroute_task",
		Description: "Get a submitted task: route, parse status, error and markdown.",
		InputSchema: inputSchema(map[string]any{
			"task_id": map[string]any{"type": "string", "description": "Task ID returned by docroute_submit"},
		}, []string{"task_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Task(ctx, req.(*taskRequest).TaskID)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[taskRequest](), kit.WithLogging(s.logger, tool.Name))
}

type limitRequest struct {
	Route string `json:"route,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Service) registerDLQTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docroute_dlq",
		Description: "List documents parked on the dead-letter queue with their reasons.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 100)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.DeadLetters(ctx, req.(*limitRequest).Limit)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[limitRequest](), kit.WithLogging(s.logger, tool.Name))
}

func (s *Service) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docroute_triage_history",
		Description: "List recorded triage decisions, newest first.",
		InputSchema: inputSchema(map[string]any{
			"route": map[string]any{"type": "string", "enum": []any{string(triage.RouteParse), string(triage.RouteDLQ)}, "description": "Only this route"},
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*limitRequest)
		return s.TriageHistory(ctx, triage.Route(r.Route), r.Limit)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[limitRequest](), kit.WithLogging(s.logger, tool.Name))
}
