package supervisor

import (
	"strconv"
)

// Exit codes crossing the process boundary between an inner process and its
// supervisor.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitReload asks the supervisor to spawn a fresh inner process. It never
	// reaches the operator.
	ExitReload = 3
)

// Environment markers set on every spawned inner process.
const (
	EnvChild      = "DEVSRV_CHILD"
	EnvToken      = "DEVSRV_TOKEN"
	EnvGeneration = "DEVSRV_GENERATION"
)

// ChildEnv is what a supervisor tells the inner process it spawns.
type ChildEnv struct {
	Token      string
	Generation int
}

// Environ renders the markers as "K=V" pairs.
func (c ChildEnv) Environ() []string {
	return []string{
		EnvChild + "=true",
		EnvToken + "=" + c.Token,
		EnvGeneration + "=" + strconv.Itoa(c.Generation),
	}
}

// ChildFromEnv reports whether the current invocation is a supervised inner
// process and, if so, returns its markers. lookup is usually os.LookupEnv.
func ChildFromEnv(lookup func(string) (string, bool)) (ChildEnv, bool) {
	if v, ok := lookup(EnvChild); !ok || v != "true" {
		return ChildEnv{}, false
	}
	token, ok := lookup(EnvToken)
	if !ok || token == "" {
		return ChildEnv{}, false
	}
	c := ChildEnv{Token: token, Generation: 1}
	if v, ok := lookup(EnvGeneration); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Generation = n
		}
	}
	return c, true
}
