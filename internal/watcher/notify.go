package watcher

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// notifier turns fsnotify events on the tracked directories into wake-ups
// for the poller. It never decides anything on its own.
type notifier struct {
	fw   *fsnotify.Watcher
	done chan struct{}
}

func startNotifier(paths []string, wake chan<- struct{}, log *slog.Logger) (*notifier, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirs := make(map[string]struct{})
	for _, p := range paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			log.Debug("cannot watch directory", "dir", d, "error", err)
		}
	}
	n := &notifier{fw: fw, done: make(chan struct{})}
	go func() {
		defer close(n.done)
		for {
			select {
			case _, ok := <-fw.Events:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Debug("notification error", "error", err)
			}
		}
	}()
	return n, nil
}

func (n *notifier) close() {
	_ = n.fw.Close()
	<-n.done
}
