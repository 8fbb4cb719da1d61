package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const DefaultStaticRoot = "/static"

// Static serves files below root from dirs, searched in order. Requests for
// anything not found in any dir, and requests outside root, reach next
// unchanged.
func Static(next http.Handler, root string, dirs []string) http.Handler {
	if len(dirs) == 0 {
		return next
	}
	root = normalizeRoot(root)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	mws := make([]echo.MiddlewareFunc, 0, len(dirs))
	for _, d := range dirs {
		mws = append(mws, echomw.StaticWithConfig(echomw.StaticConfig{
			Root:       ".",
			Filesystem: http.Dir(d),
		}))
	}
	app := echo.WrapHandler(next)

	g := e.Group(root, mws...)
	g.Any("/*", app)

	// The group's catch-all would answer the bare root with 404.
	e.Any(root, app)
	e.Any("/", app)
	e.Any("/*", app)
	return e
}

func normalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		root = DefaultStaticRoot
	}
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}
	root = strings.TrimRight(root, "/")
	if root == "" {
		return DefaultStaticRoot
	}
	return root
}
