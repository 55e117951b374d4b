package adminapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the admin tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	user := map[string]any{"type": "string", "description": "Account username"}

	addTool(srv, &mcp.Tool{
		Name:        "bot_list",
		Description: "Status of every configured bot account.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *usernameArgs) (any, error) {
		list, err := s.ListStatus(ctx)
		return map[string]any{"bots": list}, err
	})

	addTool(srv, &mcp.Tool{
		Name: "bot_status",
		Description: "Operational status of one bot, derived from its log: no log, failed, starting, " +
			"active, processing, or the keyword of its last line (Captcha/Code, IP Config, Stopped...).",
		InputSchema: inputSchema(map[string]any{"username": user}, []string{"username"}),
	}, func(ctx context.Context, a *usernameArgs) (any, error) {
		return s.GetStatus(ctx, a.Username)
	})

	addTool(srv, &mcp.Tool{
		Name:        "bot_start",
		Description: "Start the bot process of an account.",
		InputSchema: inputSchema(map[string]any{"username": user}, []string{"username"}),
	}, func(ctx context.Context, a *usernameArgs) (any, error) {
		if err := s.StartBot(ctx, a.Username); err != nil {
			return nil, err
		}
		return map[string]any{"username": a.Username, "running": true}, nil
	})

	addTool(srv, &mcp.Tool{
		Name:        "bot_stop",
		Description: "Stop the bot process of an account.",
		InputSchema: inputSchema(map[string]any{"username": user}, []string{"username"}),
	}, func(ctx context.Context, a *usernameArgs) (any, error) {
		if err := s.StopBot(ctx, a.Username); err != nil {
			return nil, err
		}
		return map[string]any{"username": a.Username, "running": false}, nil
	})

	addTool(srv, &mcp.Tool{
		Name:        "bot_logs",
		Description: "Last lines of a bot log, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"username": user,
			"lines":    map[string]any{"type": "integer", "description": "Number of lines (default 200)"},
		}, []string{"username"}),
	}, func(_ context.Context, a *usernameArgs) (any, error) {
		lines, err := s.Logs(a.Username, a.Lines)
		return map[string]any{"username": a.Username, "lines": lines}, err
	})

	addTool(srv, &mcp.Tool{
		Name:        "bot_events",
		Description: "Recorded captcha signals and run milestones of a bot, newest first.",
		InputSchema: inputSchema(map[string]any{
			"username": user,
			"limit":    map[string]any{"type": "integer", "description": "Max events (default 50)"},
		}, []string{"username"}),
	}, func(ctx context.Context, a *usernameArgs) (any, error) {
		events, err := s.Events(ctx, a.Username, a.Limit)
		return map[string]any{"username": a.Username, "events": events}, err
	})
}

type usernameArgs struct {
	Username string `json:"username"`
	Lines    int    `json:"lines,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

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

// addTool decodes the arguments, calls fn and returns its result as JSON
// text. Errors become tool errors rather than protocol errors.
func addTool[A any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *A) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args A
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}
		resp, err := fn(ctx, &args)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
