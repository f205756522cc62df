package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(sshConnectTool(), s.handleSSHConnect)
	s.mcpServer.AddTool(sshDisconnectTool(), s.handleSSHDisconnect)
	s.mcpServer.AddTool(sshDisconnectAllTool(), s.handleSSHDisconnectAll)
	s.mcpServer.AddTool(sshReconnectTool(), s.handleSSHReconnect)
	s.mcpServer.AddTool(sshTestConnectionTool(), s.handleSSHTestConnection)
	s.mcpServer.AddTool(sshStatusTool(), s.handleSSHStatus)
	s.mcpServer.AddTool(sshHealthTool(), s.handleSSHHealth)
	s.mcpServer.AddTool(sshListTool(), s.handleSSHList)
	s.mcpServer.AddTool(sshExecTool(), s.handleSSHExec)
	s.mcpServer.AddTool(hardwareInfoTool(), s.handleHardwareInfo)
	s.mcpServer.AddTool(profileListTool(), s.handleProfileList)
	s.mcpServer.AddTool(profileSaveTool(), s.handleProfileSave)
	s.mcpServer.AddTool(profileUpdateTool(), s.handleProfileUpdate)
	s.mcpServer.AddTool(profileDeleteTool(), s.handleProfileDelete)
	s.mcpServer.AddTool(profileDeleteAllTool(), s.handleProfileDeleteAll)
	s.mcpServer.AddTool(tabListTool(), s.handleTabList)
	s.mcpServer.AddTool(tabActivateTool(), s.handleTabActivate)
	s.mcpServer.AddTool(tabCloseOthersTool(), s.handleTabCloseOthers)
}

// Tool definitions

// connectionParams are shared by every tool that takes a connection config.
func connectionParams(description string) []mcp.ToolOption {
	return append([]mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString("profile_id",
			mcp.Description("Saved profile id or name. When set, the inline fields are ignored"),
		),
	}, inlineParams()...)
}

func inlineParams() []mcp.ToolOption {
	return append([]mcp.ToolOption{
		mcp.WithString("id",
			mcp.Description("Connection id (generated when empty)"),
		),
	}, profileFields()...)
}

// profileFields are the editable fields of a connection.
func profileFields() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithString("host", mcp.Description("SSH host")),
		mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
		mcp.WithString("username", mcp.Description("SSH username")),
		mcp.WithString("password", mcp.Description("Password")),
		mcp.WithString("private_key_path", mcp.Description("Path to a private key file")),
		mcp.WithString("passphrase", mcp.Description("Passphrase of the private key")),
		mcp.WithString("auth_method",
			mcp.Description("Authentication method (inferred from the credentials when empty)"),
			mcp.Enum("password", "private_key", "both"),
		),
		mcp.WithArray("prompt_patterns",
			mcp.Description("Prompt suffixes that mark the end of command output"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("max_wait_time",
			mcp.Description("Per-command wall clock limit in milliseconds"),
		),
	}
}

func sshConnectTool() mcp.Tool {
	return mcp.NewTool("ssh_connect",
		connectionParams("Open an SSH connection with a persistent shell")...,
	)
}

func sshReconnectTool() mcp.Tool {
	return mcp.NewTool("ssh_reconnect",
		connectionParams("Replace a connection with a fresh one. With only an id, the saved profile of that id is used")...,
	)
}

func sshTestConnectionTool() mcp.Tool {
	return mcp.NewTool("ssh_test_connection",
		connectionParams("Check that a host is reachable and accepts the credentials, without keeping the connection")...,
	)
}

func sshDisconnectTool() mcp.Tool {
	return mcp.NewTool("ssh_disconnect",
		mcp.WithDescription("Close a connection"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
	)
}

func sshDisconnectAllTool() mcp.Tool {
	return mcp.NewTool("ssh_disconnect_all",
		mcp.WithDescription("Close every connection"),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func sshStatusTool() mcp.Tool {
	return mcp.NewTool("ssh_status",
		mcp.WithDescription("Report the lifecycle state of a connection"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func sshHealthTool() mcp.Tool {
	return mcp.NewTool("ssh_health",
		mcp.WithDescription("Check that a connection is registered and still authenticated"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
	)
}

func sshListTool() mcp.Tool {
	return mcp.NewTool("ssh_list",
		mcp.WithDescription("List connections"),
		mcp.WithString("pattern",
			mcp.Description("Glob matched against id, name and host (e.g. 'web-*', '*.prod.example.com')"),
		),
		mcp.WithBoolean("connected_only",
			mcp.Description("Only list connections in the connected state (default: false)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func sshExecTool() mcp.Tool {
	return mcp.NewTool("ssh_exec",
		mcp.WithDescription("Run a command in a connection's shell and return its output once a prompt shows up"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Replaces the connection's max_wait_time for this call"),
		),
		mcp.WithArray("prompts",
			mcp.Description("Prompt suffixes used instead of the configured ones for this call"),
			mcp.WithStringItems(),
		),
		mcp.WithBoolean("wait_for_prompt",
			mcp.Description("Read until a prompt shows up (default: true). False returns after one read"),
		),
		mcp.WithBoolean("debug",
			mcp.Description("Log every chunk read (default: false)"),
		),
	)
}

func hardwareInfoTool() mcp.Tool {
	return mcp.NewTool("hardware_info",
		mcp.WithDescription("CPU, memory, storage and network figures of a connected host"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithBoolean("refresh",
			mcp.Description("Collect now instead of returning the latest polled snapshot (default: false)"),
		),
	)
}

// Tool handlers

func (s *Server) handleSSHConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.connectionFromRequest(req)
	if err != nil {
		return toolError(err), nil
	}

	s.logger.Info("connecting",
		slog.String("name", cfg.Name),
		slog.String("host", cfg.Host),
	)

	if err := s.guard.Check(cfg.Host, cfg.Username); err != nil {
		return toolError(err), nil
	}
	id, err := s.manager.Connect(ctx, cfg)
	s.guard.Observe(cfg.Host, cfg.Username, err)
	if err != nil {
		return toolError(err), nil
	}
	s.openTab(id, cfg.Name)

	return s.statusResult(id)
}

func (s *Server) handleSSHReconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.connectionFromRequest(req)
	if err != nil {
		return toolError(err), nil
	}

	s.logger.Info("reconnecting", slog.String("id", cfg.ID))

	if err := s.guard.Check(cfg.Host, cfg.Username); err != nil {
		return toolError(err), nil
	}
	id, err := s.manager.Reconnect(ctx, cfg)
	s.guard.Observe(cfg.Host, cfg.Username, err)
	if err != nil {
		return toolError(err), nil
	}
	s.openTab(id, cfg.Name)

	return s.statusResult(id)
}

func (s *Server) handleSSHTestConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.connectionFromRequest(req)
	if err != nil {
		return toolError(err), nil
	}

	if err := s.guard.Check(cfg.Host, cfg.Username); err != nil {
		return toolError(err), nil
	}
	start := time.Now()
	err = s.manager.TestConnection(ctx, cfg)
	s.guard.Observe(cfg.Host, cfg.Username, err)
	if err != nil {
		return toolError(err), nil
	}

	return jsonResult(map[string]any{
		"ok":         true,
		"host":       cfg.Host,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleSSHDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connection_id", "")
	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}

	if err := s.manager.Disconnect(id); err != nil {
		return toolError(err), nil
	}
	s.closeTab(id)

	return mcp.NewToolResultText("Connection closed"), nil
}

func (s *Server) handleSSHDisconnectAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := s.manager.DisconnectAll()
	if s.profiles != nil {
		if err := s.profiles.CloseAllTabs(); err != nil {
			s.logger.Warn("close tabs", slog.String("error", err.Error()))
		}
	}
	return jsonResult(map[string]int{"disconnected": n})
}

func (s *Server) handleSSHStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connection_id", "")
	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	return s.statusResult(id)
}

func (s *Server) handleSSHHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connection_id", "")
	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	return jsonResult(map[string]any{
		"connection_id": id,
		"healthy":       s.manager.CheckHealth(id),
	})
}

func (s *Server) handleSSHList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := req.GetString("pattern", "")
	connectedOnly := req.GetBool("connected_only", false)

	infos, err := filterSessions(s.manager.List(), pattern, connectedOnly)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(infos)
}

func (s *Server) handleSSHExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connection_id", "")
	command := req.GetString("command", "")

	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	opts := &session.CommandOptions{
		CustomPrompts: req.GetStringSlice("prompts", nil),
		DebugOutput:   req.GetBool("debug", false),
	}
	if ms := req.GetInt("timeout_ms", 0); ms > 0 {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	if args := req.GetArguments(); args["wait_for_prompt"] != nil {
		wait := req.GetBool("wait_for_prompt", true)
		opts.WaitForPrompt = &wait
	}

	s.logger.Info("executing command",
		slog.String("id", id),
		slog.String("command", command),
	)

	result, err := s.manager.Execute(ctx, id, command, opts)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(execResult{
		ConnectionID: id,
		Output:       result.Output,
		Reason:       string(result.Reason),
		Pattern:      result.Pattern,
		BytesRead:    result.BytesRead,
		ElapsedMs:    result.Elapsed.Milliseconds(),
	})
}

func (s *Server) handleHardwareInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connection_id", "")
	if id == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}

	status, err := s.manager.GetStatus(id)
	if err != nil {
		return toolError(err), nil
	}
	if !status.IsConnected() {
		return toolError(errors.New(errors.CodeChannelUnavailable, "connection %s is %s", id, status)), nil
	}

	if s.poller != nil && !req.GetBool("refresh", false) {
		if info, ok := s.poller.Latest(id); ok {
			return jsonResult(info)
		}
	}

	info, err := s.collector.Collect(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(info)
}

// execResult is the ssh_exec payload.
type execResult struct {
	ConnectionID string `json:"connection_id"`
	Output       string `json:"output"`
	Reason       string `json:"reason"`
	Pattern      string `json:"pattern,omitempty"`
	BytesRead    int    `json:"bytes_read"`
	ElapsedMs    int64  `json:"elapsed_ms"`
}

func (s *Server) statusResult(id string) (*mcp.CallToolResult, error) {
	status, err := s.manager.GetStatus(id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"connection_id": id,
		"status":        status,
	})
}

// openTab records a tab for a new connection. Tab bookkeeping never fails
// a connect.
func (s *Server) openTab(id, title string) {
	if s.profiles == nil {
		return
	}
	if title == "" {
		title = id
	}
	if _, err := s.profiles.AddTab(id, title); err != nil {
		s.logger.Warn("add tab", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (s *Server) closeTab(id string) {
	if s.profiles == nil {
		return
	}
	tab, ok, err := s.profiles.TabByConnection(id)
	if err == nil && ok {
		err = s.profiles.RemoveTab(tab.ID)
	}
	if err != nil {
		s.logger.Warn("remove tab", slog.String("id", id), slog.String("error", err.Error()))
	}
}
