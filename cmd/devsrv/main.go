package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var ec exitCode
		if errors.As(err, &ec) {
			os.Exit(int(ec))
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitCode carries a non-zero status out of a command without printing it.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "devsrv",
		Short: "Development HTTP server with live reload",
		Long: `devsrv serves a Go http.Handler for local development. With --reload it
supervises itself and restarts whenever a source file of the served program
changes.

Examples:
  devsrv run --dir ./public
  devsrv run --reload --build "go build -buildmode=plugin -o app.so ./app" app.so
  devsrv run --proxy http://127.0.0.1:3000 --validate --profile
  devsrv shell app.so --db ./app.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to TOML config file (default ./devsrv.toml when present)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-file", "", "also write JSON logs to this rotating file")

	root.AddCommand(
		createRunCommand(global),
		createShellCommand(global),
	)
	return root
}
