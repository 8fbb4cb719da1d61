package env

import (
	"sort"
	"strings"
	"testing"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	t.Setenv("DEVSRV_ENV_TEST_BASE", "base")
	e := New().FromOS()
	e.Set("DEVSRV_ENV_TEST_BASE", "override").Set("GREETING", "hi ${DEVSRV_ENV_TEST_BASE}")
	out := e.Merge([]string{"EXTRA=${GREETING}!", "=bad", "noequals"})

	m := Parse(out)
	if m["DEVSRV_ENV_TEST_BASE"] != "override" {
		t.Fatalf("override not applied: %q", m["DEVSRV_ENV_TEST_BASE"])
	}
	if m["GREETING"] != "hi override" {
		t.Fatalf("expansion failed: %q", m["GREETING"])
	}
	// no recursion: EXTRA sees the unexpanded GREETING value
	if m["EXTRA"] != "hi ${DEVSRV_ENV_TEST_BASE}!" {
		t.Fatalf("unexpected EXTRA: %q", m["EXTRA"])
	}
	if !sort.StringsAreSorted(out) {
		t.Fatalf("output not sorted")
	}
	for _, kv := range out {
		if strings.HasPrefix(kv, "=") || !strings.Contains(kv, "=") {
			t.Fatalf("bad pair: %q", kv)
		}
	}
}

func TestUnknownReferenceKept(t *testing.T) {
	e := New()
	e.base = Var{}
	e.Set("A", "${MISSING}/x $PLAIN ${unterminated")
	if v, _ := e.Lookup("A"); v != "${MISSING}/x $PLAIN ${unterminated" {
		t.Fatalf("unexpected expansion: %q", v)
	}
}

func TestDropPrefix(t *testing.T) {
	t.Setenv("DEVSRV_CHILD", "true")
	t.Setenv("DEVSRV_TOKEN", "/tmp/old.lock")
	e := New().FromOS().DropPrefix("DEVSRV_CHILD").DropPrefix("DEVSRV_TOKEN")
	if _, ok := e.Lookup("DEVSRV_CHILD"); ok {
		t.Fatalf("inherited marker should be dropped")
	}
	e.Set("DEVSRV_TOKEN", "/tmp/new.lock")
	if v, _ := e.Lookup("DEVSRV_TOKEN"); v != "/tmp/new.lock" {
		t.Fatalf("override should survive drop: %q", v)
	}
}

func TestUnset(t *testing.T) {
	e := New()
	e.base = Var{}
	e.Set("A", "1").Unset("A")
	if _, ok := e.Lookup("A"); ok {
		t.Fatalf("unset variable still present")
	}
}

func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=${Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, globalB []byte, perB []byte) {
		global := strings.Split(string(globalB), "\n")
		per := strings.Split(string(perB), "\n")
		e := New()
		e.base = Var{}
		for _, kv := range global {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				e.Set(kv[:i], kv[i+1:])
			}
		}
		for _, kv := range e.Merge(per) {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
