package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/devsrv"
	"github.com/loykin/devsrv/internal/loader"
	"github.com/loykin/devsrv/internal/logger"
	"github.com/loykin/devsrv/internal/shell"
)

func createShellCommand(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell [plugin.so [symbol]]",
		Short: "Interactive console for the handler and its database",
		Long: `Start an interactive console. Requests typed as "GET /path" are sent to the
loaded handler in-process; with --db the tables of the database are listed
and can be described and queried.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devsrv.LoadConfig(global.ConfigPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := applyArgs(cfg, args); err != nil {
				return err
			}
			lg, err := logger.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = lg.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			return runShell(ctx, cfg, lg, cmd)
		},
	}
	addHandlerFlags(cmd.Flags())
	addShellFlags(cmd.Flags())
	return cmd
}

func runShell(ctx context.Context, cfg *devsrv.Config, lg *logger.Logger, cmd *cobra.Command) error {
	var h http.Handler
	if cfg.Handler.Plugin != "" || cfg.Handler.Proxy != "" || cfg.Handler.Dir != "" {
		var err error
		h, err = loader.Load(loader.Spec{
			Plugin: cfg.Handler.Plugin,
			Symbol: cfg.Handler.Symbol,
			Proxy:  cfg.Handler.Proxy,
			Dir:    cfg.Handler.Dir,
			Logger: lg.Logger,
		})
		if err != nil {
			return err
		}
	}

	var db *shell.DB
	if cfg.Shell.DB != "" {
		var err error
		if db, err = shell.OpenDB(ctx, cfg.Shell.DB); err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
	}

	return shell.New(shell.Options{
		Handler: h,
		DB:      db,
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
	}).Run(ctx)
}
