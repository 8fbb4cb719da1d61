// Package loader resolves the handler devsrv serves when it is used from
// the command line: a Go plugin, a reverse proxy or a directory.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"plugin"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/loykin/devsrv/internal/watcher"
)

const DefaultSymbol = "Handler"

var (
	ErrNoSource      = errors.New("no handler source: set a plugin, a proxy target or a directory")
	ErrManySources   = errors.New("only one handler source may be set")
	ErrBadSymbolType = errors.New("symbol is not a handler")
)

type Spec struct {
	Plugin string
	Symbol string
	Proxy  string
	Dir    string
	Logger *slog.Logger
}

// Load builds the handler described by spec.
func Load(spec Spec) (http.Handler, error) {
	n := 0
	for _, s := range []string{spec.Plugin, spec.Proxy, spec.Dir} {
		if s != "" {
			n++
		}
	}
	switch n {
	case 0:
		return nil, ErrNoSource
	case 1:
	default:
		return nil, ErrManySources
	}
	log := spec.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "loader")

	switch {
	case spec.Plugin != "":
		return Plugin(spec.Plugin, spec.Symbol, log)
	case spec.Proxy != "":
		return Proxy(spec.Proxy, log)
	default:
		return Dir(spec.Dir)
	}
}

// Plugin opens a Go plugin and looks up symbol, which defaults to
// DefaultSymbol. The plugin file joins the watched images so edits to its
// sources trigger reloads.
func Plugin(path, symbol string, log *slog.Logger) (http.Handler, error) {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	p, err := plugin.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}
	h, err := asHandler(sym)
	if err != nil {
		return nil, fmt.Errorf("plugin %s symbol %s: %w", path, symbol, err)
	}
	watcher.AddImage(abs)
	if log != nil {
		log.Debug("plugin loaded", "path", abs, "symbol", symbol)
	}
	return h, nil
}

// asHandler accepts the shapes a plugin can export: a handler value or a
// pointer to one, a handler func, or a constructor returning a handler.
func asHandler(sym any) (http.Handler, error) {
	switch v := sym.(type) {
	case *http.Handler:
		if v == nil || *v == nil {
			return nil, fmt.Errorf("%w: nil handler", ErrBadSymbolType)
		}
		return *v, nil
	case *http.HandlerFunc:
		if v == nil || *v == nil {
			return nil, fmt.Errorf("%w: nil handler func", ErrBadSymbolType)
		}
		return *v, nil
	case func(http.ResponseWriter, *http.Request):
		return http.HandlerFunc(v), nil
	case *func(http.ResponseWriter, *http.Request):
		if v == nil || *v == nil {
			return nil, fmt.Errorf("%w: nil func", ErrBadSymbolType)
		}
		return http.HandlerFunc(*v), nil
	case func() http.Handler:
		h := v()
		if h == nil {
			return nil, fmt.Errorf("%w: constructor returned nil", ErrBadSymbolType)
		}
		return h, nil
	case http.Handler:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrBadSymbolType, sym)
}

// Proxy forwards every request to target.
func Proxy(target string, log *slog.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("proxy target %q: %w", target, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("proxy target %q: need an http or https URL", target)
	}
	if log == nil {
		log = slog.Default()
	}
	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy request failed", "target", target, "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprintf(w, "devsrv: upstream %s is not responding: %v\n", target, err)
	}
	return rp, nil
}

// Dir serves the files below dir, with directory listings.
func Dir(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
		Root:       ".",
		Filesystem: http.Dir(dir),
		Browse:     true,
	}))
	notFound := func(c echo.Context) error { return echo.ErrNotFound }
	e.Any("/", notFound)
	e.Any("/*", notFound)
	return e, nil
}
