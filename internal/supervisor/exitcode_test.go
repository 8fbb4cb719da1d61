package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestChildFromEnv(t *testing.T) {
	c, ok := ChildFromEnv(lookupFrom(map[string]string{
		EnvChild: "true", EnvToken: "/tmp/devsrv.1.lock", EnvGeneration: "4",
	}))
	assert.True(t, ok)
	assert.Equal(t, ChildEnv{Token: "/tmp/devsrv.1.lock", Generation: 4}, c)

	_, ok = ChildFromEnv(lookupFrom(map[string]string{EnvToken: "/tmp/x"}))
	assert.False(t, ok, "marker missing")

	_, ok = ChildFromEnv(lookupFrom(map[string]string{EnvChild: "1", EnvToken: "/tmp/x"}))
	assert.False(t, ok, "marker must be exactly true")

	_, ok = ChildFromEnv(lookupFrom(map[string]string{EnvChild: "true"}))
	assert.False(t, ok, "token missing")

	c, ok = ChildFromEnv(lookupFrom(map[string]string{EnvChild: "true", EnvToken: "/tmp/x", EnvGeneration: "zero"}))
	assert.True(t, ok)
	assert.Equal(t, 1, c.Generation)
}

func TestChildEnvRoundTrip(t *testing.T) {
	in := ChildEnv{Token: "/tmp/devsrv.abc.lock", Generation: 2}
	m := map[string]string{}
	for _, kv := range in.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	out, ok := ChildFromEnv(lookupFrom(m))
	assert.True(t, ok)
	assert.Equal(t, in, out)
}

func TestExitCodesDistinct(t *testing.T) {
	assert.NotEqual(t, ExitReload, ExitFailure)
	assert.NotEqual(t, ExitReload, ExitOK)
}
