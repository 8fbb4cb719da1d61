package watcher

import (
	"os"
	"sort"
	"time"
)

// FileSet maps absolute paths to the modification time observed at snapshot.
// It is immutable once built.
type FileSet struct {
	paths  []string
	mtimes map[string]time.Time
}

// Snapshot stats every path once. Paths that cannot be stat'ed are omitted,
// as are duplicates and directories.
func Snapshot(paths []string) FileSet {
	fs := FileSet{mtimes: make(map[string]time.Time, len(paths))}
	for _, p := range paths {
		if _, seen := fs.mtimes[p]; seen {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		fs.mtimes[p] = info.ModTime()
		fs.paths = append(fs.paths, p)
	}
	sort.Strings(fs.paths)
	return fs
}

// Changed returns the first tracked path that vanished or whose modification
// time advanced past the snapshot value. Scanning stops at the first hit.
func (fs FileSet) Changed() (string, bool) {
	for _, p := range fs.paths {
		info, err := os.Stat(p)
		if err != nil {
			return p, true
		}
		if info.ModTime().After(fs.mtimes[p]) {
			return p, true
		}
	}
	return "", false
}

func (fs FileSet) Len() int { return len(fs.paths) }

// Paths returns the tracked paths in sorted order.
func (fs FileSet) Paths() []string {
	out := make([]string, len(fs.paths))
	copy(out, fs.paths)
	return out
}

func (fs FileSet) ModTime(path string) (time.Time, bool) {
	t, ok := fs.mtimes[path]
	return t, ok
}
