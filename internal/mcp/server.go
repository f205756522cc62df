// Package mcp exposes the connection manager as MCP tools over stdio.
package mcp

import (
	"log/slog"
	"sync"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/secrets"
	"github.com/acolita/shellconn/internal/security"
	"github.com/acolita/shellconn/internal/session"
	"github.com/acolita/shellconn/internal/store"
	"github.com/acolita/shellconn/internal/telemetry"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	manager   *session.Manager
	profiles  *store.Store
	secrets   secrets.Loader
	collector *telemetry.Collector
	poller    *telemetry.Poller
	guard     *security.AuthGuard
	logger    *slog.Logger

	mu     sync.RWMutex
	config *config.Config
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithProfileStore enables the profile tools and profile_id lookups.
func WithProfileStore(s *store.Store) ServerOption {
	return func(srv *Server) {
		srv.profiles = s
	}
}

// WithSecrets fills missing passwords of inline connections by id.
func WithSecrets(l secrets.Loader) ServerOption {
	return func(srv *Server) {
		srv.secrets = l
	}
}

// WithCollector sets the collector behind hardware_info.
func WithCollector(c *telemetry.Collector) ServerOption {
	return func(srv *Server) {
		srv.collector = c
	}
}

// WithPoller lets hardware_info answer from the poller's latest snapshot.
func WithPoller(p *telemetry.Poller) ServerOption {
	return func(srv *Server) {
		srv.poller = p
	}
}

// WithAuthGuard sets the lockout tracker consulted by the connect tools.
func WithAuthGuard(g *security.AuthGuard) ServerOption {
	return func(srv *Server) {
		srv.guard = g
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(srv *Server) {
		srv.logger = l
	}
}

// NewServer creates an MCP server driving manager.
func NewServer(cfg *config.Config, manager *session.Manager, opts ...ServerOption) *Server {
	mcpServer := server.NewMCPServer(
		"shellconn",
		Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		manager:   manager,
		config:    cfg,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.collector == nil {
		s.collector = telemetry.NewCollector(manager, telemetry.WithCollectorLogger(s.logger))
	}

	if s.guard == nil {
		s.guard = security.NewAuthGuard(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockout)
	}

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Run starts the MCP server on stdio transport.
func (s *Server) Run() error {
	s.logger.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a new configuration at runtime. Defaults and the
// configured connections take effect for the next connect; transport
// settings require a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.logger.Info("configuration hot-reloaded",
		slog.Int("connections", len(cfg.Connections)),
	)
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}
