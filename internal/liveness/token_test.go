package liveness

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateTouchRemove(t *testing.T) {
	dir := t.TempDir()
	tok, err := Create(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Dir(tok.Path()) != dir {
		t.Fatalf("token created outside %s: %s", dir, tok.Path())
	}
	if !strings.HasPrefix(filepath.Base(tok.Path()), "devsrv.") {
		t.Fatalf("unexpected token name %s", tok.Path())
	}
	if !tok.Exists() {
		t.Fatalf("token should exist after create")
	}
	if err := tok.Touch(); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := tok.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if tok.Exists() {
		t.Fatalf("token should be gone after remove")
	}
	// second remove is a no-op
	if err := tok.Remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestCreateIsUnique(t *testing.T) {
	dir := t.TempDir()
	a, err := Create(dir)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Create(dir)
	if err != nil {
		t.Fatal(err)
	}
	if a.Path() == b.Path() {
		t.Fatalf("expected distinct token paths, got %s twice", a.Path())
	}
}

func TestCreateFailsInMissingDir(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "does", "not", "exist"))
	var tce *TokenCreationError
	if !errors.As(err, &tce) {
		t.Fatalf("expected TokenCreationError, got %v", err)
	}
}

func TestTouchMissingToken(t *testing.T) {
	tok := Open(filepath.Join(t.TempDir(), "gone.lock"))
	if err := tok.Touch(); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
	if tok.Exists() {
		t.Fatalf("touch must not recreate the token")
	}
}

func TestCheck(t *testing.T) {
	tok, err := Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := tok.Check(now, time.Second); err != nil {
		t.Fatalf("fresh token reported dead: %v", err)
	}

	// Age the token beyond interval + grace.
	old := now.Add(-time.Second - Grace - time.Second)
	if err := os.Chtimes(tok.Path(), old, old); err != nil {
		t.Fatal(err)
	}
	if err := tok.Check(now, time.Second); !errors.Is(err, ErrTokenStale) {
		t.Fatalf("expected ErrTokenStale, got %v", err)
	}

	// Within the grace window it is still alive.
	recent := now.Add(-time.Second - Grace + 500*time.Millisecond)
	if err := os.Chtimes(tok.Path(), recent, recent); err != nil {
		t.Fatal(err)
	}
	if err := tok.Check(now, time.Second); err != nil {
		t.Fatalf("token within grace reported dead: %v", err)
	}

	if err := tok.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := tok.Check(now, time.Second); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
}
