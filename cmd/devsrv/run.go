package main

import (
	"github.com/spf13/cobra"

	"github.com/loykin/devsrv"
)

func createRunCommand(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [plugin.so [symbol]]",
		Short: "Serve a handler",
		Long: `Serve a handler loaded from a Go plugin, a reverse proxy target or a
directory. Every flag can also be set in the config file or through a
DEVSRV_<FLAG> environment variable, e.g. DEVSRV_PORT=9000.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devsrv.LoadConfig(global.ConfigPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := applyArgs(cfg, args); err != nil {
				return err
			}
			code := devsrv.Main(nil, devsrv.Options{
				Config: cfg,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			})
			if code != devsrv.ExitOK {
				return exitCode(code)
			}
			return nil
		},
	}
	addServeFlags(cmd.Flags())
	addHandlerFlags(cmd.Flags())
	return cmd
}
