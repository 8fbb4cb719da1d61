package middleware

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/loykin/devsrv/internal/metrics"
)

// Stat aggregates the requests seen for one method and path.
type Stat struct {
	Method string
	Path   string
	Count  int
	Total  time.Duration
	Max    time.Duration
	Bytes  int64
	Codes  map[int]int
}

// Mean is the average latency, zero when nothing was recorded.
func (s Stat) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

type statKey struct{ method, path string }

// MaxProfileEntries bounds the distinct method and path pairs kept. Requests
// for new pairs beyond it are counted under OtherPath.
const MaxProfileEntries = 1000

const OtherPath = "(other)"

// Profiler measures every request passing through it. Only paths matching
// one of the filter prefixes are recorded; an empty filter records all.
type Profiler struct {
	log    *slog.Logger
	filter []string
	limit  int

	mu    sync.Mutex
	stats map[statKey]*Stat
}

func NewProfiler(filter []string, log *slog.Logger) *Profiler {
	if log == nil {
		log = slog.Default()
	}
	var cleaned []string
	for _, f := range filter {
		if f = strings.TrimSpace(f); f != "" {
			cleaned = append(cleaned, f)
		}
	}
	return &Profiler{
		log:    log.With("component", "profile"),
		filter: cleaned,
		limit:  MaxProfileEntries,
		stats:  make(map[statKey]*Stat),
	}
}

func (p *Profiler) matches(path string) bool {
	if len(p.filter) == 0 {
		return true
	}
	for _, f := range p.filter {
		if strings.HasPrefix(path, f) {
			return true
		}
	}
	return false
}

func (p *Profiler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		m := httpsnoop.CaptureMetrics(next, w, r)
		p.record(r.Method, r.URL.Path, m)
	})
}

func (p *Profiler) record(method, path string, m httpsnoop.Metrics) {
	metrics.ObserveRequest(method, m.Code, m.Duration.Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	k := statKey{method, path}
	s, ok := p.stats[k]
	if !ok && len(p.stats) >= p.limit {
		k.path = OtherPath
		s, ok = p.stats[k]
	}
	if !ok {
		s = &Stat{Method: method, Path: k.path, Codes: make(map[int]int)}
		p.stats[k] = s
	}
	s.Count++
	s.Total += m.Duration
	if m.Duration > s.Max {
		s.Max = m.Duration
	}
	s.Bytes += m.Written
	s.Codes[m.Code]++
}

// Summary returns a copy of the collected stats, slowest total first.
func (p *Profiler) Summary() []Stat {
	p.mu.Lock()
	out := make([]Stat, 0, len(p.stats))
	for _, s := range p.stats {
		c := *s
		c.Codes = make(map[int]int, len(s.Codes))
		for code, n := range s.Codes {
			c.Codes[code] = n
		}
		out = append(out, c)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Report logs the summary. It is meant to run once at shutdown.
func (p *Profiler) Report() {
	stats := p.Summary()
	if len(stats) == 0 {
		p.log.Info("no requests profiled")
		return
	}
	p.log.Info("request profile", "entries", len(stats))
	for _, s := range stats {
		p.log.Info("profile",
			"method", s.Method,
			"path", s.Path,
			"count", s.Count,
			"total", s.Total,
			"mean", s.Mean(),
			"max", s.Max,
			"bytes", s.Bytes,
		)
	}
}
