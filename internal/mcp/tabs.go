package mcp

import (
	"context"
	"log/slog"

	"github.com/acolita/shellconn/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

func tabListTool() mcp.Tool {
	return mcp.NewTool("tab_list",
		mcp.WithDescription("List open tabs, newest first, and the active one"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func tabActivateTool() mcp.Tool {
	return mcp.NewTool("tab_activate",
		mcp.WithDescription("Make a tab the active one"),
		mcp.WithString("tab_id",
			mcp.Required(),
			mcp.Description("Tab id from tab_list"),
		),
	)
}

func tabCloseOthersTool() mcp.Tool {
	return mcp.NewTool("tab_close_others",
		mcp.WithDescription("Close every tab except the given one. Connections stay open"),
		mcp.WithString("tab_id",
			mcp.Required(),
			mcp.Description("Tab to keep"),
		),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

// tabsResult is the tab_list payload. Active is empty when no tab is open.
type tabsResult struct {
	Tabs   []store.Tab `json:"tabs"`
	Active string      `json:"active,omitempty"`
}

func (s *Server) handleTabList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}
	return s.tabState()
}

func (s *Server) handleTabActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}
	id := req.GetString("tab_id", "")
	if id == "" {
		return mcp.NewToolResultError(errTabIDRequired), nil
	}

	if err := s.profiles.SetActiveTab(id); err != nil {
		return toolError(err), nil
	}
	return s.tabState()
}

func (s *Server) handleTabCloseOthers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}
	id := req.GetString("tab_id", "")
	if id == "" {
		return mcp.NewToolResultError(errTabIDRequired), nil
	}

	if err := s.profiles.CloseOtherTabs(id); err != nil {
		return toolError(err), nil
	}
	s.logger.Info("closed other tabs", slog.String("kept", id))
	return s.tabState()
}

func (s *Server) tabState() (*mcp.CallToolResult, error) {
	tabs, err := s.profiles.ListTabs()
	if err != nil {
		return toolError(err), nil
	}
	out := tabsResult{Tabs: tabs}
	active, ok, err := s.profiles.ActiveTab()
	if err != nil {
		return toolError(err), nil
	}
	if ok {
		out.Active = active.ID
	}
	return jsonResult(out)
}
