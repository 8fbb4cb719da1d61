// Package middleware holds the optional decorations devsrv puts around the
// served handler.
package middleware

import (
	"log/slog"
	"net/http"
)

type Options struct {
	Static     bool
	StaticRoot string
	StaticDirs []string

	Profile       bool
	ProfileFilter []string

	Validate bool

	// LiveReloadScript, when set, is the URL of the reload client injected
	// into HTML pages.
	LiveReloadScript string

	Logger *slog.Logger
}

// Decorate wraps app in the enabled layers, innermost first: static files,
// reload script injection, profiling and validation. The returned func must
// run once the server has stopped; it emits the profile report.
func Decorate(app http.Handler, o Options) (http.Handler, func()) {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	h := app
	if o.Static {
		h = Static(h, o.StaticRoot, o.StaticDirs)
	}
	if o.LiveReloadScript != "" {
		h = InjectScript(h, o.LiveReloadScript)
	}
	done := func() {}
	if o.Profile {
		p := NewProfiler(o.ProfileFilter, log)
		h = p.Wrap(h)
		done = p.Report
	}
	if o.Validate {
		h = NewValidator(log).Wrap(h)
	}
	return h, done
}
