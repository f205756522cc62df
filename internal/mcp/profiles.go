package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
)

func profileListTool() mcp.Tool {
	return mcp.NewTool("profile_list",
		mcp.WithDescription("List saved connection profiles (without credentials)"),
		mcp.WithString("pattern",
			mcp.Description("Glob matched against id, name and host"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func profileSaveTool() mcp.Tool {
	return mcp.NewTool("profile_save", append([]mcp.ToolOption{
		mcp.WithDescription("Save a connection profile. Credentials go to the secrets store, never to the profile database"),
	}, inlineParams()...)...)
}

func profileUpdateTool() mcp.Tool {
	return mcp.NewTool("profile_update", append([]mcp.ToolOption{
		mcp.WithDescription("Change fields of a saved profile. Omitted fields and empty credentials keep their stored values"),
		mcp.WithString("profile_id",
			mcp.Required(),
			mcp.Description("Profile id or name"),
		),
	}, profileFields()...)...)
}

func profileDeleteTool() mcp.Tool {
	return mcp.NewTool("profile_delete",
		mcp.WithDescription("Delete a saved profile, its tabs and its stored credentials"),
		mcp.WithString("profile_id",
			mcp.Required(),
			mcp.Description("Profile id or name"),
		),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func profileDeleteAllTool() mcp.Tool {
	return mcp.NewTool("profile_delete_all",
		mcp.WithDescription("Delete every saved profile, every tab and all stored credentials"),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func (s *Server) handleProfileList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}

	profiles, err := s.profiles.ListProfiles()
	if err != nil {
		return toolError(err), nil
	}
	profiles, err = filterConfigs(profiles, req.GetString("pattern", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(profiles)
}

func (s *Server) handleProfileSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}

	cfg := s.inlineConnection(req)
	saved, err := s.profiles.SaveProfile(cfg)
	if err != nil {
		return toolError(err), nil
	}

	s.logger.Info("profile saved via MCP", slog.String("id", saved.ID))
	return jsonResult(saved.Redacted())
}

func (s *Server) handleProfileDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}
	ref := req.GetString("profile_id", "")
	if ref == "" {
		return mcp.NewToolResultError("profile_id is required"), nil
	}

	cfg, err := s.profiles.ResolveProfile(ref)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.profiles.DeleteProfile(cfg.ID); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Profile deleted"), nil
}

func (s *Server) handleProfileUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}
	ref := req.GetString("profile_id", "")
	if ref == "" {
		return mcp.NewToolResultError("profile_id is required"), nil
	}

	existing, err := s.profiles.ResolveProfile(ref)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.profiles.UpdateProfile(mergeProfile(existing, req)); err != nil {
		return toolError(err), nil
	}
	updated, err := s.profiles.LoadProfile(existing.ID)
	if err != nil {
		return toolError(err), nil
	}

	s.logger.Info("profile updated via MCP", slog.String("id", updated.ID))
	return jsonResult(updated.Redacted())
}

func (s *Server) handleProfileDeleteAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.profiles == nil {
		return mcp.NewToolResultError(errNoProfileStore), nil
	}
	if err := s.profiles.DeleteAllProfiles(); err != nil {
		return toolError(err), nil
	}
	s.logger.Warn("all profiles deleted via MCP")
	return mcp.NewToolResultText("All profiles deleted"), nil
}
