package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devsrv/internal/logger"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "devsrv.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("host", "H", "127.0.0.1", "")
	fs.IntP("port", "p", 8000, "")
	fs.Bool("reload", false, "")
	fs.Duration("interval", time.Second, "")
	fs.StringSlice("static-dirs", nil, "")
	fs.Bool("tls", false, "")
	fs.String("tls-cert", "", "")
	fs.String("log-level", "info", "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 8000, c.Port)
	assert.Equal(t, time.Second, c.Interval)
	assert.Equal(t, 5*time.Second, c.StopTimeout)
	assert.Equal(t, "/static", c.StaticRoot)
	assert.Equal(t, []string{"./static"}, c.StaticDirs)
	assert.Equal(t, "/__devsrv", c.AdminPath)
	assert.Equal(t, "Handler", c.Handler.Symbol)
	assert.True(t, c.LiveReload)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 10, c.Log.File.MaxSizeMB)
	assert.Equal(t, "127.0.0.1:8000", c.Addr())
	assert.Equal(t, logger.IsTerminal(os.Stderr), c.Log.Color)
	assert.NoError(t, c.Validate())
}

func TestLoadColorOffWhenStderrRedirected(t *testing.T) {
	t.Chdir(t.TempDir())
	f, err := os.CreateTemp(t.TempDir(), "stderr")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	orig := os.Stderr
	os.Stderr = f
	t.Cleanup(func() { os.Stderr = orig })

	c, err := Load("", nil)
	require.NoError(t, err)
	assert.False(t, c.Log.Color)

	fs := pflag.NewFlagSet("t", pflag.ContinueOnError)
	fs.Bool("log-color", false, "")
	require.NoError(t, fs.Parse([]string{"--log-color"}))
	c, err = Load("", fs)
	require.NoError(t, err)
	assert.True(t, c.Log.Color, "an explicit flag still enables color")
}

func TestLoadFile(t *testing.T) {
	p := writeTOML(t, `
host = "0.0.0.0"
port = 9000
reload = true
interval = "250ms"
build = "go build ./..."
watch = ["templates", "*.toml"]
static = true
static_dirs = ["public", "assets"]
env = ["A=1"]

[tls]
enabled = true
min_version = "1.3"

[handler]
proxy = "http://127.0.0.1:3000"

[log]
level = "debug"
[log.file]
path = "/tmp/devsrv.log"
max_backups = 9
`)
	c, err := Load(p, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 9000, c.Port)
	assert.True(t, c.Reload)
	assert.Equal(t, 250*time.Millisecond, c.Interval)
	assert.Equal(t, "go build ./...", c.Build)
	assert.Equal(t, []string{"templates", "*.toml"}, c.Watch)
	assert.Equal(t, []string{"public", "assets"}, c.StaticDirs)
	assert.True(t, c.TLS.Enabled)
	assert.Equal(t, "1.3", c.TLS.MinVersion)
	assert.Equal(t, "http://127.0.0.1:3000", c.Handler.Proxy)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "/tmp/devsrv.log", c.Log.File.Path)
	assert.Equal(t, 9, c.Log.File.MaxBackups)
	assert.Equal(t, 7, c.Log.File.MaxAgeDays)
	assert.NoError(t, c.Validate())
}

func TestLoadDefaultFileFromWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("port = 7001\n"), 0o644))
	t.Chdir(dir)
	c, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 7001, c.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}

func TestPrecedence(t *testing.T) {
	p := writeTOML(t, "port = 9000\nhost = \"10.0.0.1\"\ninterval = \"3s\"\n")
	t.Setenv("DEVSRV_PORT", "9100")
	t.Setenv("DEVSRV_INTERVAL", "2s")
	t.Setenv("DEVSRV_STATIC_DIRS", "a, b,,c")
	t.Setenv("DEVSRV_TLS_CERT", "/env/cert.pem")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--port", "9200"}))

	c, err := Load(p, fs)
	require.NoError(t, err)
	assert.Equal(t, 9200, c.Port, "flag beats env")
	assert.Equal(t, 2*time.Second, c.Interval, "env beats file")
	assert.Equal(t, "10.0.0.1", c.Host, "file beats flag default")
	assert.Equal(t, []string{"a", "b", "c"}, c.StaticDirs)
	assert.Equal(t, "/env/cert.pem", c.TLS.CertFile)
}

func TestFlagSliceAndBool(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--reload", "--static-dirs", "x,y", "--tls", "-H", "::1"}))
	c, err := Load("", fs)
	require.NoError(t, err)
	assert.True(t, c.Reload)
	assert.True(t, c.TLS.Enabled)
	assert.Equal(t, []string{"x", "y"}, c.StaticDirs)
	assert.Equal(t, "::1", c.Host)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DEVSRV_STATIC_ROOT", EnvName("static-root"))
	assert.Equal(t, "DEVSRV_PORT", EnvName("port"))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Port: 8000, Interval: time.Second, Log: logger.Config{Level: "info"}}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"interval", func(c *Config) { c.Reload = true; c.Interval = 0 }},
		{"stop timeout", func(c *Config) { c.StopTimeout = -time.Second }},
		{"two sources", func(c *Config) { c.Handler.Proxy = "http://x"; c.Handler.Dir = "." }},
		{"half tls", func(c *Config) { c.TLS.CertFile = "c.pem" }},
		{"static without dirs", func(c *Config) { c.Static = true }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	require.NoError(t, base().Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestChildEnv(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.env")
	second := filepath.Join(dir, "b.env")
	require.NoError(t, os.WriteFile(first, []byte("A=1\n# comment\nB=from-a\nexport C=\"quoted\"\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("B=from-b\nD='single'\nnot a pair\n"), 0o644))

	c := &Config{EnvFiles: []string{first, second}, Env: []string{"A=override", "E=${A}"}}
	env, err := c.ChildEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"A=override", "B=from-b", "C=quoted", "D=single", "E=${A}"}, env)

	c.EnvFiles = append(c.EnvFiles, filepath.Join(dir, "missing.env"))
	_, err = c.ChildEnv()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("B=two\nA=1\n"), 0o644))
	pairs, err := LoadEnvFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=two"}, pairs)

	_, err = LoadEnvFile("/definitely/not/exist.env")
	assert.Error(t, err)
}
