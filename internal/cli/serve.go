package cli

import (
	"log/slog"
	"os"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/mcp"
	"github.com/acolita/shellconn/internal/secrets"
	"github.com/acolita/shellconn/internal/telemetry"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Serve connections as MCP tools over stdin/stdout.

The config file is watched and reloaded on change. When telemetry is
enabled, hardware snapshots of every connected host are collected on the
configured cron schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			logger := a.log()

			manager, err := a.sessions()
			if err != nil {
				return err
			}
			profiles, err := a.profiles()
			if err != nil {
				return err
			}
			sec, err := a.secretStore()
			if err != nil {
				return err
			}

			collector := telemetry.NewCollector(manager, telemetry.WithCollectorLogger(logger))
			opts := []mcp.ServerOption{
				mcp.WithServerLogger(logger),
				mcp.WithProfileStore(profiles),
				mcp.WithSecrets(secrets.StoreLoader{Store: sec}),
				mcp.WithCollector(collector),
			}

			if cfg.Telemetry.Enabled {
				poller := telemetry.NewPoller(manager, collector, telemetry.WithPollerLogger(logger))
				if err := poller.Start(cfg.Telemetry.Schedule); err != nil {
					return err
				}
				defer poller.Stop()
				opts = append(opts, mcp.WithPoller(poller))
			}

			server := mcp.NewServer(cfg, manager, opts...)

			if w := a.watch(server); w != nil {
				defer w.Close()
			}

			logger.Info("starting shellconn",
				slog.String("version", version),
				slog.Bool("telemetry", cfg.Telemetry.Enabled),
			)
			return server.Run()
		},
	}
}

// watch enables config hot reload when the config file exists.
func (a *app) watch(server *mcp.Server) *config.Watcher {
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	w, err := config.NewWatcher(path, func(newCfg *config.Config) {
		if a.debug {
			newCfg.Logging.Level = "debug"
		}
		server.UpdateConfig(newCfg)
	}, config.WithWatchLogger(a.log()))
	if err != nil {
		a.log().Warn("config hot-reload disabled", slog.String("error", err.Error()))
		return nil
	}
	a.log().Info("config hot-reload enabled", slog.String("path", path))
	return w
}
