package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/devsrv/internal/logger"
	devtls "github.com/loykin/devsrv/internal/tls"
)

// DefaultFile is read from the working directory when no config path is
// given and the file exists.
const DefaultFile = "devsrv.toml"

// EnvPrefix prefixes the environment fallback of every flag.
const EnvPrefix = "DEVSRV"

// HandlerConfig selects where the served handler comes from. At most one
// source may be set.
type HandlerConfig struct {
	Plugin string `toml:"plugin" mapstructure:"plugin"`
	Symbol string `toml:"symbol" mapstructure:"symbol"`
	Proxy  string `toml:"proxy" mapstructure:"proxy"`
	Dir    string `toml:"dir" mapstructure:"dir"`
}

type ShellConfig struct {
	DB string `toml:"db" mapstructure:"db"`
}

// Config is the merged view of defaults, config file, environment and
// command-line flags, in increasing precedence.
type Config struct {
	Host string `toml:"host" mapstructure:"host"`
	Port int    `toml:"port" mapstructure:"port"`

	Reload      bool          `toml:"reload" mapstructure:"reload"`
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	StopTimeout time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	Build       string        `toml:"build" mapstructure:"build"`
	Watch       []string      `toml:"watch" mapstructure:"watch"`
	Notify      bool          `toml:"notify" mapstructure:"notify"`
	IncludeDeps bool          `toml:"include_deps" mapstructure:"include_deps"`

	Static     bool     `toml:"static" mapstructure:"static"`
	StaticRoot string   `toml:"static_root" mapstructure:"static_root"`
	StaticDirs []string `toml:"static_dirs" mapstructure:"static_dirs"`

	Profile       bool     `toml:"profile" mapstructure:"profile"`
	ProfileFilter []string `toml:"profile_filter" mapstructure:"profile_filter"`
	CheckContract bool     `toml:"validate" mapstructure:"validate"`
	LiveReload    bool     `toml:"live_reload" mapstructure:"live_reload"`
	AdminPath     string   `toml:"admin_path" mapstructure:"admin_path"`

	TLS     devtls.Config `toml:"tls" mapstructure:"tls"`
	Handler HandlerConfig `toml:"handler" mapstructure:"handler"`
	Shell   ShellConfig   `toml:"shell" mapstructure:"shell"`

	// History is a DSN for the session history sink; empty disables it.
	History string `toml:"history" mapstructure:"history"`

	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`

	Log logger.Config `toml:"log" mapstructure:"log"`
}

// flagKeys maps command-line flag names to configuration keys. Each flag
// also falls back to DEVSRV_<FLAG> in the environment.
var flagKeys = map[string]string{
	"host":           "host",
	"port":           "port",
	"reload":         "reload",
	"interval":       "interval",
	"stop-timeout":   "stop_timeout",
	"build":          "build",
	"watch":          "watch",
	"notify":         "notify",
	"include-deps":   "include_deps",
	"static":         "static",
	"static-root":    "static_root",
	"static-dirs":    "static_dirs",
	"profile":        "profile",
	"profile-filter": "profile_filter",
	"validate":       "validate",
	"live-reload":    "live_reload",
	"admin-path":     "admin_path",
	"tls":            "tls.enabled",
	"tls-cert":       "tls.cert_file",
	"tls-key":        "tls.key_file",
	"tls-dir":        "tls.dir",
	"plugin":         "handler.plugin",
	"symbol":         "handler.symbol",
	"proxy":          "handler.proxy",
	"dir":            "handler.dir",
	"db":             "shell.db",
	"history":        "history",
	"env":            "env",
	"env-file":       "env_files",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file.path",
	"log-color":      "log.color",
}

// EnvName is the environment variable consulted for a flag.
func EnvName(flag string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8000)
	v.SetDefault("interval", time.Second)
	v.SetDefault("stop_timeout", 5*time.Second)
	v.SetDefault("static_root", "/static")
	v.SetDefault("static_dirs", []string{"./static"})
	v.SetDefault("live_reload", true)
	v.SetDefault("admin_path", "/__devsrv")
	v.SetDefault("handler.symbol", "Handler")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", logger.IsTerminal(os.Stderr))
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
}

// Load merges the configuration sources. path may be empty, in which case
// DefaultFile is used when present. flags may be nil; only the flags named
// in flagKeys are bound.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for flag, key := range flagKeys {
		if err := v.BindEnv(key, EnvName(flag)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", flag, err)
		}
		if flags == nil {
			continue
		}
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Watch = splitList(c.Watch)
	c.StaticDirs = splitList(c.StaticDirs)
	c.ProfileFilter = splitList(c.ProfileFilter)
	c.EnvFiles = splitList(c.EnvFiles)
	return &c, nil
}

// splitList flattens comma separated entries, as produced by environment
// values, and drops empty ones.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Addr is host:port.
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Validate checks the values that cannot be caught by decoding alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Reload && c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive when reloading"))
	}
	if c.StopTimeout < 0 {
		errs = append(errs, errors.New("stop_timeout must not be negative"))
	}
	sources := 0
	for _, s := range []string{c.Handler.Plugin, c.Handler.Proxy, c.Handler.Dir} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, errors.New("only one of plugin, proxy and dir may be set"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls cert and key must be given together"))
	}
	if c.Static && len(c.StaticDirs) == 0 {
		errs = append(errs, errors.New("static serving needs at least one directory"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
