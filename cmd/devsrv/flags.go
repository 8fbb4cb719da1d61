package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/loykin/devsrv/internal/config"
)

// GlobalFlags holds the persistent flags that are not configuration keys.
type GlobalFlags struct {
	ConfigPath string
}

// Flag values are read back through config.Load, which binds each flag to its
// configuration key; the defaults here only document the built-in values.

func addHandlerFlags(fs *pflag.FlagSet) {
	fs.String("plugin", "", "Go plugin (.so) exporting the handler")
	fs.String("symbol", "Handler", "exported symbol of the plugin")
	fs.String("proxy", "", "forward every request to this URL")
	fs.String("dir", "", "serve the files of this directory")
	fs.StringSlice("env", nil, "extra KEY=VALUE for the served process (repeatable)")
	fs.StringSlice("env-file", nil, ".env files loaded before --env")
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.StringP("host", "H", "127.0.0.1", "address to bind")
	fs.IntP("port", "p", 8000, "port to bind")
	fs.Bool("reload", false, "restart when a source file changes")
	fs.Duration("interval", time.Second, "change polling and heartbeat interval")
	fs.Duration("stop-timeout", 5*time.Second, "grace period before the served process is killed")
	fs.String("build", "", "command run before every (re)start")
	fs.StringSlice("watch", nil, "extra files, directories or globs to watch")
	fs.Bool("notify", false, "use file system notifications to notice changes sooner")
	fs.Bool("include-deps", false, "also watch standard library and module cache sources")

	fs.Bool("static", false, "serve static files")
	fs.String("static-root", "/static", "URL prefix of static files")
	fs.StringSlice("static-dirs", []string{"./static"}, "directories searched for static files")
	fs.Bool("profile", false, "profile requests and print a summary on exit")
	fs.StringSlice("profile-filter", nil, "only profile paths with these prefixes")
	fs.Bool("validate", false, "check responses against the HTTP handler contract")
	fs.Bool("live-reload", true, "inject the browser reload script into HTML pages")
	fs.String("admin-path", "/__devsrv", "URL prefix of the devsrv endpoints")

	fs.Bool("tls", false, "serve over TLS")
	fs.String("tls-cert", "", "TLS certificate file (self-signed when empty)")
	fs.String("tls-key", "", "TLS key file")
	fs.String("tls-dir", "", "where generated certificates are kept")

	fs.String("history", "", "DSN recording restarts (sqlite path, postgres:// or clickhouse://)")
	fs.String("log-format", "text", "console log format: text or json")
	fs.Bool("log-color", false, "colorize console logs (default: on when stderr is a terminal)")
}

func addShellFlags(fs *pflag.FlagSet) {
	fs.String("db", "", "database DSN to inspect (sqlite path, postgres:// or clickhouse://)")
}

// applyArgs maps the positional arguments [plugin [symbol]].
func applyArgs(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if cfg.Handler.Plugin != "" && cfg.Handler.Plugin != args[0] {
		return fmt.Errorf("plugin given both as argument %q and as %q", args[0], cfg.Handler.Plugin)
	}
	cfg.Handler.Plugin = args[0]
	if len(args) > 1 {
		cfg.Handler.Symbol = args[1]
	}
	return nil
}
