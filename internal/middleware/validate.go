package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"

	"github.com/loykin/devsrv/internal/metrics"
)

// Rules checked by the Validator.
const (
	RuleStatusRange     = "status-range"
	RuleDuplicateHeader = "duplicate-write-header"
	RuleBodyNotAllowed  = "body-not-allowed"
	RuleMissingType     = "missing-content-type"
)

// Validator checks that handlers honour the response contract: a status
// between 100 and 999, a single final WriteHeader, no body where none is
// allowed and a Content-Type whenever a body is written. Violations are
// logged and counted; the response itself is left alone except for an
// out-of-range status, which becomes 500 so net/http does not panic.
type Validator struct {
	log *slog.Logger

	mu     sync.Mutex
	counts map[string]int
}

func NewValidator(log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{log: log.With("component", "validate"), counts: make(map[string]int)}
}

// Counts returns the number of violations seen per rule.
func (v *Validator) Counts() map[string]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]int, len(v.counts))
	for k, n := range v.counts {
		out[k] = n
	}
	return out
}

func (v *Validator) violation(r *http.Request, rule string, args ...any) {
	v.mu.Lock()
	v.counts[rule]++
	v.mu.Unlock()
	metrics.IncViolation(rule)
	v.log.Error("response contract violation",
		append([]any{"rule", rule, "method", r.Method, "path", r.URL.Path}, args...)...)
}

func (v *Validator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := &contract{v: v, r: r, w: w}
		hooks := httpsnoop.Hooks{
			WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
				return func(code int) {
					if code, ok := c.header(code); ok {
						next(code)
					}
				}
			},
			Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
				return func(b []byte) (int, error) {
					if len(b) > 0 {
						c.body()
					}
					return next(b)
				}
			},
			ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
				return func(src io.Reader) (int64, error) {
					c.body()
					return next(src)
				}
			},
		}
		next.ServeHTTP(httpsnoop.Wrap(w, hooks), r)
	})
}

// contract is the per-request state of the checks.
type contract struct {
	v *Validator
	r *http.Request
	w http.ResponseWriter

	mu          sync.Mutex
	code        int
	final       bool
	bodyChecked bool
}

// header validates a WriteHeader call and returns the code to forward.
// Repeated final headers are dropped after being reported.
func (c *contract) header(code int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code < 100 || code > 999 {
		c.v.violation(c.r, RuleStatusRange, "status", code)
		code = http.StatusInternalServerError
	}
	if c.final {
		c.v.violation(c.r, RuleDuplicateHeader, "status", code, "previous", c.code)
		return code, false
	}
	c.code = code
	if code >= 200 {
		c.final = true
	}
	return code, true
}

func (c *contract) body() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.final {
		c.code = http.StatusOK
		c.final = true
	}
	if c.bodyChecked {
		return
	}
	c.bodyChecked = true
	if !bodyAllowed(c.r.Method, c.code) {
		c.v.violation(c.r, RuleBodyNotAllowed, "status", c.code)
	}
	if c.w.Header().Get("Content-Type") == "" {
		c.v.violation(c.r, RuleMissingType, "status", c.code)
	}
}

func bodyAllowed(method string, code int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case code >= 100 && code < 200:
		return false
	case code == http.StatusNoContent, code == http.StatusNotModified:
		return false
	}
	return true
}
