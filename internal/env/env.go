package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to a spawned inner process.
type Env struct {
	Var  Var // overrides (K->V), applied over the base
	base Var // cached base from the OS environment
	drop []string
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() *Env {
	e.base = Parse(os.Environ())
	return e
}

// Parse converts "K=V" pairs into a map, skipping malformed entries.
func Parse(pairs []string) Var {
	m := make(Var, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) *Env {
	if e.Var == nil {
		e.Var = make(Var)
	}
	if k != "" {
		e.Var[k] = v
	}
	return e
}

// Unset removes an override.
func (e *Env) Unset(k string) *Env {
	if e.Var != nil {
		delete(e.Var, k)
	}
	return e
}

// DropPrefix removes every inherited variable starting with prefix, so that
// markers of an enclosing session never leak into a new one. Overrides are
// not affected.
func (e *Env) DropPrefix(prefix string) *Env {
	e.drop = append(e.drop, prefix)
	return e
}

// Lookup returns the composed value of k.
func (e *Env) Lookup(k string) (string, bool) {
	m := e.compose(nil)
	v, ok := m[k]
	return v, ok
}

// Merge composes the final environment list applying order:
// base = OS env (or cached), minus dropped prefixes
// then apply e.Var overrides
// then apply extra (slice of "K=V") overrides
// Values are expanded with ${VAR} references to the composed map (no
// recursion). The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	m := e.compose(extra)
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (e *Env) compose(extra []string) Var {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(extra))
	for k, v := range e.base {
		if e.dropped(k) {
			continue
		}
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range Parse(extra) {
		m[k] = v
	}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	return expanded
}

func (e *Env) dropped(k string) bool {
	for _, p := range e.drop {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
