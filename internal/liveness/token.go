package liveness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Grace is added to the heartbeat interval before a token counts as stale.
const Grace = 5 * time.Second

var (
	ErrTokenMissing = errors.New("liveness token missing")
	ErrTokenStale   = errors.New("liveness token stale")
)

// TokenCreationError reports that no liveness token could be allocated.
type TokenCreationError struct {
	Dir string
	Err error
}

func (e *TokenCreationError) Error() string {
	dir := e.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	return fmt.Sprintf("create liveness token in %s: %v", dir, e.Err)
}

func (e *TokenCreationError) Unwrap() error { return e.Err }

// Token is an empty marker file. Its existence means the supervision session
// continues; its modification time is the heartbeat. The body is never written.
type Token struct {
	path string
}

// Create allocates a uniquely named token in dir (the system temp dir when empty).
func Create(dir string) (*Token, error) {
	f, err := os.CreateTemp(dir, "devsrv.*.lock")
	if err != nil {
		return nil, &TokenCreationError{Dir: dir, Err: err}
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, &TokenCreationError{Dir: dir, Err: err}
	}
	return &Token{path: path}, nil
}

// Open returns a handle to an existing token, typically one received from the
// supervising process.
func Open(path string) *Token { return &Token{path: path} }

func (t *Token) Path() string { return t.path }

// Touch refreshes the heartbeat. It fails with ErrTokenMissing once the token
// has been removed; the token is never recreated.
func (t *Token) Touch() error {
	now := time.Now()
	if err := os.Chtimes(t.path, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrTokenMissing, t.path)
		}
		return fmt.Errorf("touch liveness token: %w", err)
	}
	return nil
}

func (t *Token) Exists() bool {
	_, err := os.Stat(t.path)
	return err == nil
}

// Check reports whether the token is alive at now for the given heartbeat
// interval. It returns ErrTokenMissing or ErrTokenStale otherwise.
func (t *Token) Check(now time.Time, interval time.Duration) error {
	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrTokenMissing
		}
		return fmt.Errorf("stat liveness token: %w", err)
	}
	if info.ModTime().Before(now.Add(-interval - Grace)) {
		return fmt.Errorf("%w: last heartbeat %s ago", ErrTokenStale, now.Sub(info.ModTime()).Round(time.Millisecond))
	}
	return nil
}

// Remove deletes the token. Removing an already deleted token is not an error.
func (t *Token) Remove() error {
	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
